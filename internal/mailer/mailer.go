package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"SalesIntel/internal/config"
	xerrors "SalesIntel/internal/errors"
	"SalesIntel/pkg/logger"
)

const (
	implicitTLSPort = 465
	defaultTimeout  = 20 * time.Second
)

// Settings 描述 SMTP 账户。
type Settings struct {
	Address  string
	Password string
	Server   string
	Port     int
	Timeout  time.Duration
}

// SettingsFromConfig 校验并转换邮件配置。凭据缺失或端口不是数字时返回配置错误。
func SettingsFromConfig(cfg config.MailConfig) (Settings, error) {
	if cfg.Address == "" || cfg.Password == "" || cfg.Server == "" || cfg.Port == "" {
		return Settings{}, xerrors.New(xerrors.CodeConfigInvalid,
			"email credentials or SMTP server details missing: set EMAIL_ADDRESS, EMAIL_PASSWORD, SMTP_SERVER and SMTP_PORT")
	}
	port, err := strconv.Atoi(strings.TrimSpace(cfg.Port))
	if err != nil || port <= 0 {
		return Settings{}, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("invalid SMTP_PORT %q: must be a number", cfg.Port))
	}
	return Settings{
		Address:  cfg.Address,
		Password: cfg.Password,
		Server:   cfg.Server,
		Port:     port,
		Timeout:  cfg.Timeout(),
	}, nil
}

// Message 是一封带附件的报告邮件。
type Message struct {
	To             []string
	Subject        string
	Body           string
	AttachmentPath string
}

// deliverFunc 负责真正建立 SMTP 会话并发送。
type deliverFunc func(ctx context.Context, msg *mail.Msg) error

// SMTPSender 通过认证的 SMTP 会话发送报告。
type SMTPSender struct {
	settings Settings
	deliver  deliverFunc
	logger   *slog.Logger
}

// NewSMTPSender 创建发送器。
func NewSMTPSender(settings Settings) *SMTPSender {
	if settings.Timeout <= 0 {
		settings.Timeout = defaultTimeout
	}
	s := &SMTPSender{settings: settings, logger: logger.Named("mailer")}
	s.deliver = s.dialAndSend
	return s
}

// SendReport 发送报告邮件。
func (s *SMTPSender) SendReport(ctx context.Context, msg Message) error {
	m, err := s.build(msg)
	if err != nil {
		return err
	}
	if err := s.deliver(ctx, m); err != nil {
		return xerrors.Wrap(xerrors.CodeDeliveryFailed, err,
			fmt.Sprintf("send mail via %s:%d", s.settings.Server, s.settings.Port))
	}
	s.logger.Info("report email sent",
		slog.Any("to", msg.To),
		slog.String("attachment", filepath.Base(msg.AttachmentPath)))
	logger.Audit().Info("report delivered",
		slog.Any("to", msg.To),
		slog.String("subject", msg.Subject))
	return nil
}

// Send 满足告警模块的邮件发送接口。
func (s *SMTPSender) Send(ctx context.Context, subject, content string, to []string) error {
	return s.SendReport(ctx, Message{To: to, Subject: subject, Body: content})
}

func (s *SMTPSender) build(msg Message) (*mail.Msg, error) {
	if len(msg.To) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "no recipient provided")
	}
	for _, to := range msg.To {
		if !strings.Contains(to, "@") {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid recipient email address %q", to))
		}
	}
	if msg.AttachmentPath != "" {
		if _, err := os.Stat(msg.AttachmentPath); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeDeliveryFailed, err, "attachment not found")
		}
	}

	m := mail.NewMsg()
	if err := m.From(s.settings.Address); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "invalid sender address")
	}
	if err := m.To(msg.To...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid recipient address")
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	if msg.AttachmentPath != "" {
		m.AttachFile(msg.AttachmentPath)
	}
	return m, nil
}

func (s *SMTPSender) dialAndSend(ctx context.Context, m *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(s.settings.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.settings.Address),
		mail.WithPassword(s.settings.Password),
		mail.WithTimeout(s.settings.Timeout),
	}
	if s.settings.Port == implicitTLSPort {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(s.settings.Server, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, m)
}
