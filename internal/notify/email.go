package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"sync"

	"github.com/Dan9191/telehealth-credits/internal/config"
	"github.com/Dan9191/telehealth-credits/internal/events"
	"github.com/Dan9191/telehealth-credits/internal/models"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg     *config.Config
	logger  *logrus.Logger
	deliver func(e *email.Email) error
	pending sync.WaitGroup
}

// NewSender creates a new email sender. Without an SMTP host every send is
// skipped.
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{cfg: cfg, logger: logger}
	s.deliver = func(e *email.Email) error {
		addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
		var auth smtp.Auth
		if s.cfg.SMTPUsername != "" {
			auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
		}
		return e.Send(addr, auth)
	}
	return s
}

func (s *Sender) send(to, subject, body string) error {
	if !s.cfg.SMTPEnabled() {
		s.logger.Debugf("SMTP not configured, skipping email to %s: %s", to, subject)
		return nil
	}
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = subject
	e.Text = []byte(body + "\nBest regards,\nTelehealth Credits")

	if err := s.deliver(e); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, subject)
	return nil
}

// SendAllocationNotice tells a patient that monthly credits arrived.
func (s *Sender) SendAllocationNotice(to string, amount int64, plan string, balance int64) error {
	body := fmt.Sprintf(
		"Hello,\n\n"+
			"Your %s plan added %d credits to your account.\n"+
			"Current balance: %d credits\n",
		plan, amount, balance,
	)
	return s.send(to, "Your monthly credits have arrived", body)
}

// SendVerificationUpdate tells a doctor about a change to their review.
func (s *Sender) SendVerificationUpdate(to, name string, status models.VerificationStatus) error {
	body := fmt.Sprintf("Dear %s,\n\n", name)
	switch status {
	case models.VerificationVerified:
		body += "Your credentials have been verified. Patients can now book appointments with you.\n"
	case models.VerificationRejected:
		body += "Your credentials could not be verified. Please review your profile and resubmit.\n"
	case models.VerificationPending:
		body += "Your profile has been suspended and is pending review again.\n"
	default:
		return nil
	}
	return s.send(to, "Doctor verification update", body)
}

// Publish emails the patient on allocation events. Other events are ignored.
// Delivery happens in the background; failures are only logged.
func (s *Sender) Publish(_ context.Context, ev events.LedgerEvent) error {
	if ev.Type != events.TypeCreditsAllocated || ev.Email == "" || !s.cfg.SMTPEnabled() {
		return nil
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		_ = s.SendAllocationNotice(ev.Email, ev.Amount, ev.PlanTag, ev.Balance)
	}()
	return nil
}

// Drain waits for background deliveries to finish or for ctx to end.
func (s *Sender) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
