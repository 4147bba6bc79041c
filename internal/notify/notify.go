// Package notify tells users about achievements they just earned.
package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/sethshoultes/flock-control/internal/config"
	"github.com/sethshoultes/flock-control/internal/logging"
	"github.com/sethshoultes/flock-control/internal/model"
)

// Notifier delivers achievement notices. Callers treat failures as
// non-fatal.
type Notifier interface {
	NotifyAchievements(ctx context.Context, user model.User, earned []model.Achievement) error
}

// Sender delivers a rendered message.
type Sender interface {
	Send(to string, subject string, textBody string, htmlBody string) error
}

type ConsoleSender struct{}

func (s *ConsoleSender) Send(to string, subject string, textBody string, htmlBody string) error {
	logging.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", textBody).
		Msg("notification")
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
}

type SMTPSender struct {
	config SMTPConfig
}

func NewSMTPSender(config SMTPConfig) *SMTPSender {
	return &SMTPSender{config: config}
}

func (s *SMTPSender) Send(to string, subject string, textBody string, htmlBody string) error {
	auth := smtp.PlainAuth("", s.config.User, s.config.Password, s.config.Host)
	address := fmt.Sprintf("%s:%s", s.config.Host, s.config.Port)

	contentType := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	body := htmlBody
	if htmlBody == "" {
		contentType = "Content-Type: text/plain; charset=\"UTF-8\";\n\n"
		body = textBody
	}
	msg := []byte(fmt.Sprintf("To: %s\r\n"+
		"From: %s\r\n"+
		"Subject: %s\r\n"+
		"%s\r\n"+
		"%s", to, s.config.From, subject, contentType, body))

	if err := smtp.SendMail(address, auth, s.config.From, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// NewSender picks the delivery channel from the mail configuration.
func NewSender(cfg config.MailConfig) Sender {
	if cfg.Provider == "smtp" {
		return NewSMTPSender(SMTPConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			From:     cfg.From,
		})
	}
	return &ConsoleSender{}
}

// AchievementNotifier renders the achievement templates and hands them to a
// Sender.
type AchievementNotifier struct {
	sender    Sender
	templates *Templates
}

func NewAchievementNotifier(sender Sender) *AchievementNotifier {
	return &AchievementNotifier{sender: sender, templates: NewTemplates()}
}

type achievementData struct {
	Email        string
	Achievements []model.Achievement
}

func (n *AchievementNotifier) NotifyAchievements(ctx context.Context, user model.User, earned []model.Achievement) error {
	if len(earned) == 0 {
		return nil
	}
	data := achievementData{Email: user.Email, Achievements: earned}

	htmlBody, err := n.templates.Render("achievements.html", data)
	if err != nil {
		return err
	}
	textBody, err := n.templates.Render("achievements.txt", data)
	if err != nil {
		return err
	}

	subject := "You earned a new achievement"
	if len(earned) > 1 {
		subject = fmt.Sprintf("You earned %d new achievements", len(earned))
	}
	return n.sender.Send(user.Email, subject, textBody, htmlBody)
}
