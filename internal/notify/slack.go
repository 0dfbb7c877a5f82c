package notify

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"
)

// SlackSink posts notifications to a Slack incoming webhook.
type SlackSink struct {
	webhookURL string
}

// NewSlackSink creates a sink for the given webhook URL.
func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{webhookURL: webhookURL}
}

func (s *SlackSink) Send(ctx context.Context, message string) error {
	msg := &slacklib.WebhookMessage{Text: message}
	if err := slacklib.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("notify.SlackSink.Send: %w", err)
	}
	return nil
}
