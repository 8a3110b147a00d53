package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactContact masks an email or phone number. Phone numbers keep their
// last two digits: "+15551234567" → "***67".
func RedactContact(contact string) string {
	if contact == "" {
		return ""
	}
	if strings.Contains(contact, "@") {
		return RedactEmail(contact)
	}
	if len(contact) > 4 {
		return "***" + contact[len(contact)-2:]
	}
	return "***"
}
