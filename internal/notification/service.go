// Package notification mails mosque registration requests to the platform admin.
package notification

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"sadaqah/internal/domain"
	"sadaqah/pkg/logger"
	"sadaqah/pkg/mailer"
)

const sendTimeout = 30 * time.Second

// Service delivers registration requests. Submit returns immediately; Wait
// blocks until in-flight deliveries finish.
type Service struct {
	sender    Sender
	recipient string
	logger    logger.Logger
	wg        sync.WaitGroup
}

func NewService(sender Sender, adminRecipient string, log logger.Logger) *Service {
	return &Service{sender: sender, recipient: strings.TrimSpace(adminRecipient), logger: log}
}

// SendRegistrationRequest mails req to the configured admin address.
func (s *Service) SendRegistrationRequest(ctx context.Context, req domain.RegistrationRequest) error {
	if s.recipient == "" {
		return fmt.Errorf("registration admin recipient not configured")
	}
	msg := mailer.Message{
		To:      s.recipient,
		ReplyTo: req.Email,
		Subject: fmt.Sprintf("Nouvelle demande d'inscription : %s", req.MosqueName),
		Text:    registrationText(req),
		HTML:    registrationHTML(req),
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return err
	}
	s.logger.Info("Registration request sent", map[string]interface{}{"mosque": req.MosqueName, "city": req.City})
	return nil
}

// Submit sends in the background, detached from the request context.
func (s *Service) Submit(req domain.RegistrationRequest) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := s.SendRegistrationRequest(ctx, req); err != nil {
			s.logger.Error("Failed to send registration request", map[string]interface{}{
				"mosque": req.MosqueName,
				"error":  err.Error(),
			})
		}
	}()
}

func (s *Service) Wait() {
	s.wg.Wait()
}

func registrationText(req domain.RegistrationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mosquée : %s\n", req.MosqueName)
	fmt.Fprintf(&b, "Ville : %s\n", req.City)
	fmt.Fprintf(&b, "Email : %s\n", req.Email)
	if req.Phone != "" {
		fmt.Fprintf(&b, "Téléphone : %s\n", req.Phone)
	}
	return b.String()
}

func registrationHTML(req domain.RegistrationRequest) string {
	phone := "-"
	if req.Phone != "" {
		phone = html.EscapeString(req.Phone)
	}
	return fmt.Sprintf(`<h2>Nouvelle demande d'inscription</h2>
<table>
<tr><td><strong>Mosquée</strong></td><td>%s</td></tr>
<tr><td><strong>Ville</strong></td><td>%s</td></tr>
<tr><td><strong>Email</strong></td><td>%s</td></tr>
<tr><td><strong>Téléphone</strong></td><td>%s</td></tr>
</table>`,
		html.EscapeString(req.MosqueName),
		html.EscapeString(req.City),
		html.EscapeString(req.Email),
		phone,
	)
}

// Sender is satisfied by *mailer.Mailer.
type Sender interface {
	Send(ctx context.Context, msg mailer.Message) error
}
