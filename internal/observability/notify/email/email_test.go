package email

import (
	"context"
	"errors"
	"testing"
	"time"

	mail "github.com/go-mail/mail/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-dq/verity/internal/observability/notify"
)

func newTestSender(t *testing.T, cfg Config, sent *[]*mail.Message) *Sender {
	t.Helper()
	sender, err := NewSender(cfg)
	require.NoError(t, err)
	sender.send = func(msg *mail.Message) error {
		*sent = append(*sent, msg)
		return nil
	}
	return sender
}

func TestNewSender_Validation(t *testing.T) {
	_, err := NewSender(Config{From: "alerts@example.com"})
	assert.Error(t, err, "host is required")

	_, err = NewSender(Config{Host: "smtp.example.com"})
	assert.Error(t, err, "from address is required")

	sender, err := NewSender(Config{Host: "smtp.example.com", From: "alerts@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 587, sender.cfg.Port, "port defaults")
	assert.Equal(t, 10*time.Second, sender.cfg.Timeout, "timeout defaults")
}

func TestSender_Send(t *testing.T) {
	var sent []*mail.Message
	sender := newTestSender(t, Config{
		Host:      "smtp.example.com",
		From:      "alerts@example.com",
		DefaultTo: []string{"oncall@example.com"},
	}, &sent)

	err := sender.Send(context.Background(), notify.Alert{
		OrganizationID: "org-1",
		ConnectionID:   "conn-1",
		EventType:      "JOB_FAILED",
		Title:          "Automation job failed",
		Details:        map[string]string{"error": "query timed out"},
		OccurredAt:     time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, []string{"alerts@example.com"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"oncall@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"[verity] Automation job failed"}, msg.GetHeader("Subject"))
}

func TestSender_RecipientOverride(t *testing.T) {
	var sent []*mail.Message
	sender := newTestSender(t, Config{
		Host:      "smtp.example.com",
		From:      "alerts@example.com",
		DefaultTo: []string{"oncall@example.com"},
	}, &sent)

	err := sender.Send(context.Background(), notify.Alert{
		Title:           "to the org list",
		EmailRecipients: []string{"data-team@example.com", " ", "lead@example.com"},
	})
	require.NoError(t, err)

	require.Len(t, sent, 1)
	assert.Equal(t, []string{"data-team@example.com", "lead@example.com"}, sent[0].GetHeader("To"))
}

func TestSender_NoRecipientsIsANoOp(t *testing.T) {
	var sent []*mail.Message
	sender := newTestSender(t, Config{
		Host: "smtp.example.com",
		From: "alerts@example.com",
	}, &sent)

	require.NoError(t, sender.Send(context.Background(), notify.Alert{Title: "nobody home"}))
	assert.Empty(t, sent)
}

func TestSender_SubjectFallsBackToEventType(t *testing.T) {
	var sent []*mail.Message
	sender := newTestSender(t, Config{
		Host:      "smtp.example.com",
		From:      "alerts@example.com",
		DefaultTo: []string{"oncall@example.com"},
	}, &sent)

	require.NoError(t, sender.Send(context.Background(), notify.Alert{EventType: "JOB_FAILED"}))
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"[verity] JOB_FAILED"}, sent[0].GetHeader("Subject"))
}

func TestSender_PropagatesSendFailure(t *testing.T) {
	sender, err := NewSender(Config{
		Host:      "smtp.example.com",
		From:      "alerts@example.com",
		DefaultTo: []string{"oncall@example.com"},
	})
	require.NoError(t, err)
	sender.send = func(*mail.Message) error { return errors.New("connection reset") }

	err = sender.Send(context.Background(), notify.Alert{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send alert mail")
}

func TestSender_CancelledContext(t *testing.T) {
	var sent []*mail.Message
	sender := newTestSender(t, Config{
		Host:      "smtp.example.com",
		From:      "alerts@example.com",
		DefaultTo: []string{"oncall@example.com"},
	}, &sent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, sender.Send(ctx, notify.Alert{Title: "too late"}))
	assert.Empty(t, sent)
}
