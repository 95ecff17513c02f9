package email

import (
	"fmt"
	"net/smtp"
	"time"
)

// Service handles email sending via SMTP
type Service struct {
	host string
	port string
	from string
}

// NewService creates a new email service
func NewService(host, port, from string) *Service {
	return &Service{
		host: host,
		port: port,
		from: from,
	}
}

// SendPickupCode mails the buyer their pickup code after authorization
func (s *Service) SendPickupCode(to, code string, expiresAt time.Time, total int, items []OrderItem) error {
	subject := fmt.Sprintf("Your pickup code: %s", code)
	body := BuildPickupCodeBody(code, expiresAt, total, items)
	return s.send(to, subject, body)
}

// SendOrderComplete mails the buyer once every station has handed over
func (s *Service) SendOrderComplete(to, code string, usedAt time.Time) error {
	subject := fmt.Sprintf("Order %s picked up", code)
	body := BuildOrderCompleteBody(code, usedAt)
	return s.send(to, subject, body)
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg))
}
