package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/pkg/logger"
)

// SESAPI is the part of the SES v2 client used for sending.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// NewSESClient builds an SES v2 client. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain.
func NewSESClient(ctx context.Context, region, accessKey, secretKey string) (*sesv2.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sesv2.NewFromConfig(cfg), nil
}

// SESSender delivers email follow-ups through AWS SES.
type SESSender struct {
	client    SESAPI
	templates *TemplateService
	messages  map[string]Template
	fromEmail string
	fromName  string
}

// NewSESSender creates an SES deliverer. messages maps action type to its
// template.
func NewSESSender(client SESAPI, templates *TemplateService, messages map[string]Template, fromEmail, fromName string) *SESSender {
	return &SESSender{
		client:    client,
		templates: templates,
		messages:  messages,
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// Send renders the action type's template and sends it to recipientID.
func (s *SESSender) Send(ctx context.Context, recipientID, actionType string, payload map[string]string) error {
	tpl, ok := s.messages[actionType]
	if !ok {
		return &domain.DeliveryFailure{Provider: "ses", Err: fmt.Errorf("%w: no template for %s", domain.ErrUnknownActionType, actionType)}
	}
	msg, err := s.templates.RenderMessage(actionType, tpl, Vars(recipientID, payload))
	if err != nil {
		return &domain.DeliveryFailure{Provider: "ses", Err: err}
	}
	if msg.HTML == "" && msg.Text == "" {
		return &domain.DeliveryFailure{Provider: "ses", Err: errors.New("rendered message has no body")}
	}

	from := s.fromEmail
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}
	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{recipientID}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("action_type"), Value: aws.String(tagValue(actionType))},
			{Name: aws.String("subject_id"), Value: aws.String(tagValue(payload["subject_id"]))},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return &domain.DeliveryFailure{Provider: "ses", Err: err}
	}
	logger.Info("ses: sent", "recipient_id", recipientID, "action_type", actionType, "message_id", aws.ToString(out.MessageId))
	return nil
}

// tagValue keeps only the characters SES accepts in message tags.
func tagValue(s string) string {
	if s == "" {
		return "none"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
