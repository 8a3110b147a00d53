package delivery

import (
	"context"

	"github.com/ignite/fan-automation/internal/pkg/logger"
)

// LogSender logs the rendered message instead of sending it. It is used when
// no provider is configured.
type LogSender struct {
	templates *TemplateService
	messages  map[string]Template
}

func NewLogSender(templates *TemplateService, messages map[string]Template) *LogSender {
	return &LogSender{templates: templates, messages: messages}
}

func (s *LogSender) Send(_ context.Context, recipientID, actionType string, payload map[string]string) error {
	subject := actionType
	if tpl, ok := s.messages[actionType]; ok {
		msg, err := s.templates.RenderMessage(actionType, tpl, Vars(recipientID, payload))
		if err != nil {
			return err
		}
		subject = msg.Subject
	}
	logger.Info("delivery: message not sent, no provider configured",
		"recipient_id", recipientID, "action_type", actionType, "subject", subject)
	return nil
}
