package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/bank-cards/card-service/internal/config"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// SendTransferNotification notifies the owner that a transfer between two
// of their cards has been committed.
func (s *Sender) SendTransferNotification(to, username string, amount decimal.Decimal, fromMasked, toMasked string) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Transfer Notification"

	body := fmt.Sprintf(
		"Dear %s,\n\n"+
			"A transfer of %s has been completed from card %s to card %s.\n"+
			"Transaction time: %s\n",
		username, amount.StringFixed(2), fromMasked, toMasked,
		time.Now().Format("2006-01-02 15:04:05"),
	)
	body += "\nBest regards,\nCard Service"
	e.Text = []byte(body)

	return s.send(e)
}

// SendExpiryReminder reminds the owner that a card expires this month.
func (s *Sender) SendExpiryReminder(to, username, masked, expiry string) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Card Expiry Reminder"

	body := fmt.Sprintf(
		"Dear %s,\n\n"+
			"Your card %s expires at the end of %s.\n"+
			"Please contact your administrator to replace it.\n",
		username, masked, expiry,
	)
	body += "\nBest regards,\nCard Service"
	e.Text = []byte(body)

	return s.send(e)
}

func (s *Sender) send(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send email to %v: %v", e.To, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Infof("Email sent to %v: %s", e.To, e.Subject)
	return nil
}
