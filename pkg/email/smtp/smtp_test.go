package smtp_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/replyflow/pkg/email/smtp"
	"github.com/dukex/replyflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type recordingDialer struct {
	sent []*mail.Msg
	err  error
}

func (d *recordingDialer) DialAndSendWithContext(_ context.Context, messages ...*mail.Msg) error {
	if d.err != nil {
		return d.err
	}

	d.sent = append(d.sent, messages...)

	return nil
}

func TestSend_UsesDefaultSender(t *testing.T) {
	dialer := &recordingDialer{}
	sender := smtp.NewSenderWithDialer(dialer, "support@example.com", slog.Default())

	err := sender.Send(context.Background(), protocol.Email{
		To:      []string{"ana@example.com"},
		Cc:      []string{"team@example.com"},
		Subject: "Welcome",
		Body:    "Hello Ana",
	})
	require.NoError(t, err)
	require.Len(t, dialer.sent, 1)

	var buf bytes.Buffer
	_, err = dialer.sent[0].WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, "support@example.com")
	assert.Contains(t, raw, "ana@example.com")
	assert.Contains(t, raw, "team@example.com")
	assert.Contains(t, raw, "Subject: Welcome")
	assert.Contains(t, raw, "Hello Ana")
}

func TestBuild_Rejects(t *testing.T) {
	sender := smtp.NewSenderWithDialer(&recordingDialer{}, "", slog.Default())

	_, err := sender.Build(protocol.Email{Subject: "x"})
	assert.ErrorIs(t, err, smtp.ErrNoRecipient)

	_, err = sender.Build(protocol.Email{To: []string{"ana@example.com"}})
	assert.ErrorIs(t, err, smtp.ErrNoSender)

	_, err = sender.Build(protocol.Email{From: "a@example.com", To: []string{"not an address"}})
	assert.Error(t, err)
}

func TestSend_PropagatesDialError(t *testing.T) {
	sender := smtp.NewSenderWithDialer(&recordingDialer{err: errors.New("connection refused")}, "a@example.com", slog.Default())

	err := sender.Send(context.Background(), protocol.Email{To: []string{"ana@example.com"}})
	assert.ErrorContains(t, err, "connection refused")
}

func TestNewSender_RequiresHost(t *testing.T) {
	_, err := smtp.NewSender(smtp.Config{}, slog.Default())
	assert.ErrorIs(t, err, smtp.ErrMissingHost)
}
