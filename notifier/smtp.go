package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/shoplite/usersbackend/models"
	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

// SMTP sends account emails over SMTP using go-mail. Action links are built
// from baseURL plus the raw token carried in data["token"].
type SMTP struct {
	cfg     SMTPConfig
	baseURL string
}

func NewSMTP(cfg SMTPConfig, baseURL string) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}
	return &SMTP{cfg: cfg, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (s *SMTP) Send(ctx context.Context, kind Kind, user *models.User, data map[string]string) error {
	subject, body, err := s.render(kind, user, data)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(s.cfg.From); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	}
	if err := msg.To(user.Email); err != nil {
		return fmt.Errorf("setting to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{mail.WithPort(s.cfg.Port)}
	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending %s email: %w", kind, err)
	}
	return nil
}

func (s *SMTP) render(kind Kind, user *models.User, data map[string]string) (subject, body string, err error) {
	name := user.Profile.FirstName
	if name == "" {
		name = user.Email
	}

	switch kind {
	case KindVerify:
		link := fmt.Sprintf("%s/verify-email/%s", s.baseURL, data["token"])
		return "Verify your email address",
			fmt.Sprintf("Hi %s,\n\nWelcome! Please confirm your email address within 5 minutes:\n\n%s\n", name, link), nil
	case KindResendVerify:
		link := fmt.Sprintf("%s/verify-email/%s", s.baseURL, data["token"])
		return "Your new verification link",
			fmt.Sprintf("Hi %s,\n\nHere is your new verification link, valid for 5 minutes:\n\n%s\n", name, link), nil
	case KindReset:
		link := fmt.Sprintf("%s/resetPassword/%s", s.baseURL, data["token"])
		return "Reset your password",
			fmt.Sprintf("Hi %s,\n\nUse this link within 5 minutes to choose a new password:\n\n%s\n\nIf you did not request this, you can ignore this email.\n", name, link), nil
	case KindPasswordChanged:
		return "Your password was changed",
			fmt.Sprintf("Hi %s,\n\nYour password was just changed. If this wasn't you, reset it immediately.\n", name), nil
	case KindNewLogin:
		return "New login to your account",
			fmt.Sprintf("Hi %s,\n\nWe noticed a new login to your account at %s. If this wasn't you, change your password.\n", name, data["time"]), nil
	case KindActivated:
		return "Your account has been activated",
			fmt.Sprintf("Hi %s,\n\nYour account is active again. Welcome back!\n", name), nil
	case KindDeactivated:
		return "Your account has been deactivated",
			fmt.Sprintf("Hi %s,\n\nYour account has been deactivated. Contact support if you believe this is a mistake.\n", name), nil
	default:
		return "", "", fmt.Errorf("unknown email kind %q", kind)
	}
}
