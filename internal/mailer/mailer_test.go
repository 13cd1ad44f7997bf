package mailer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"SalesIntel/internal/config"
	xerrors "SalesIntel/internal/errors"
	"SalesIntel/pkg/logger"
)

func TestSettingsFromConfig(t *testing.T) {
	settings, err := SettingsFromConfig(config.MailConfig{
		Address: "bot@example.com", Password: "pw", Server: "smtp.example.com", Port: "587", TimeoutSeconds: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 587, settings.Port)
	assert.Equal(t, "smtp.example.com", settings.Server)

	_, err = SettingsFromConfig(config.MailConfig{Address: "bot@example.com", Password: "pw", Server: "smtp"})
	assert.Equal(t, xerrors.CodeConfigInvalid, xerrors.CodeOf(err))

	_, err = SettingsFromConfig(config.MailConfig{Address: "a@b", Password: "pw", Server: "smtp", Port: "smtp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid SMTP_PORT "smtp"`)
}

func newTestSender(deliver deliverFunc) *SMTPSender {
	s := NewSMTPSender(Settings{Address: "bot@example.com", Password: "pw", Server: "smtp.example.com", Port: 587})
	s.logger = logger.Discard()
	s.deliver = deliver
	return s
}

func TestSendReportBuildsMessage(t *testing.T) {
	attachment := filepath.Join(t.TempDir(), "hul_report.txt")
	require.NoError(t, os.WriteFile(attachment, []byte("report"), 0o644))

	var sent *mail.Msg
	s := newTestSender(func(ctx context.Context, m *mail.Msg) error {
		sent = m
		return nil
	})

	err := s.SendReport(context.Background(), Message{
		To:             []string{"sales@example.com"},
		Subject:        "Hindustan Unilever Limited Strategic Analysis Report",
		Body:           "Please find the report attached.",
		AttachmentPath: attachment,
	})
	require.NoError(t, err)
	require.NotNil(t, sent)

	recipients, err := sent.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"sales@example.com"}, recipients)
	assert.Equal(t, []string{"Hindustan Unilever Limited Strategic Analysis Report"}, sent.GetGenHeader(mail.HeaderSubject))
	require.Len(t, sent.GetAttachments(), 1)
	assert.Equal(t, "hul_report.txt", sent.GetAttachments()[0].Name)
}

func TestSendReportValidatesInput(t *testing.T) {
	called := false
	s := newTestSender(func(ctx context.Context, m *mail.Msg) error {
		called = true
		return nil
	})

	err := s.SendReport(context.Background(), Message{To: []string{"not-an-address"}})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	err = s.SendReport(context.Background(), Message{To: []string{"a@example.com"}, AttachmentPath: filepath.Join(t.TempDir(), "missing.txt")})
	assert.Equal(t, xerrors.CodeDeliveryFailed, xerrors.CodeOf(err))

	err = s.SendReport(context.Background(), Message{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	assert.False(t, called)
}

func TestSendWrapsDeliveryErrors(t *testing.T) {
	s := newTestSender(func(ctx context.Context, m *mail.Msg) error {
		return errors.New("535 authentication failed")
	})

	err := s.Send(context.Background(), "alert", "body", []string{"ops@example.com"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeDeliveryFailed, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "smtp.example.com:587")
	assert.False(t, xerrors.RetryableError(err))
}
