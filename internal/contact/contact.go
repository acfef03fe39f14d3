// Package contact turns quote requests from the website into email.
package contact

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/studio-presence/internal/metrics"
)

var (
	// ErrInvalidRequest wraps validation failures.
	ErrInvalidRequest = errors.New("invalid contact request")
	// ErrRejected is returned when the email provider refuses the message.
	ErrRejected = errors.New("email provider rejected message")
)

// Request is the contact form payload. Tags are shared by gin binding and Validate.
type Request struct {
	Name    string `json:"name" binding:"required,max=100"`
	Email   string `json:"email" binding:"required,email,max=254"`
	Phone   string `json:"phone" binding:"omitempty,max=32"`
	Service string `json:"service" binding:"omitempty,max=64"`
	Message string `json:"message" binding:"required,min=10,max=5000"`
}

// Message is a rendered email.
type Message struct {
	To      mail.Address
	ReplyTo mail.Address
	Subject string
	Text    string
}

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

// Validate checks req with the same rules gin applies on binding.
func Validate(req Request) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Service validates requests and hands them to a Sender.
type Service struct {
	sender  Sender
	to      mail.Address
	appName string
	log     zerolog.Logger
}

// NewService creates a contact service delivering to the given inbox.
func NewService(sender Sender, to, appName string, logger *zerolog.Logger) *Service {
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	return &Service{
		sender:  sender,
		to:      mail.Address{Name: appName, Address: to},
		appName: appName,
		log:     log.With().Str("component", "contact").Logger(),
	}
}

// Submit validates and sends one request.
func (s *Service) Submit(ctx context.Context, req Request) error {
	req = normalize(req)
	if err := Validate(req); err != nil {
		metrics.ContactMessages.WithLabelValues("invalid").Inc()
		return err
	}

	if err := s.sender.Send(ctx, s.render(req)); err != nil {
		metrics.ContactMessages.WithLabelValues("failed").Inc()
		s.log.Error().Err(err).Str("email", req.Email).Msg("send contact message")
		return err
	}

	metrics.ContactMessages.WithLabelValues("sent").Inc()
	s.log.Info().Str("email", req.Email).Str("service", req.Service).Msg("contact message sent")
	return nil
}

func (s *Service) render(req Request) Message {
	subject := "New inquiry from " + req.Name
	if req.Service != "" {
		subject += " (" + req.Service + ")"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", req.Name)
	fmt.Fprintf(&b, "Email: %s\n", req.Email)
	if req.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", req.Phone)
	}
	if req.Service != "" {
		fmt.Fprintf(&b, "Service: %s\n", req.Service)
	}
	fmt.Fprintf(&b, "\n%s\n", req.Message)

	return Message{
		To:      s.to,
		ReplyTo: mail.Address{Name: req.Name, Address: req.Email},
		Subject: "[" + s.appName + "] " + subject,
		Text:    b.String(),
	}
}

func normalize(req Request) Request {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Service = strings.TrimSpace(req.Service)
	req.Message = strings.TrimSpace(req.Message)
	return req
}
