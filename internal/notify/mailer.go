package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Sender delivers one rendered email.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPSender struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPSender{cfg: cfg, auth: auth, send: smtp.SendMail}
}

func (s *SMTPSender) Send(_ context.Context, email Email) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := s.send(addr, s.auth, s.cfg.From, []string{email.To}, formatMessage(s.cfg.From, email)); err != nil {
		return fmt.Errorf("smtp send via %s: %w", s.cfg.Host, err)
	}
	return nil
}

func formatMessage(from string, email Email) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + email.To + "\r\n")
	b.WriteString("Subject: " + email.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(email.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogSender prints emails instead of sending them. The mailer uses it when
// no sender address is configured.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, email Email) error {
	s.log.Info("mock email",
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
		zap.String("body", email.Body),
	)
	return nil
}

// Mailer consumes the notification queue and sends each message.
type Mailer struct {
	sender Sender
	log    *zap.Logger
}

func NewMailer(sender Sender, log *zap.Logger) *Mailer {
	return &Mailer{sender: sender, log: log}
}

// Handle processes one delivery. Malformed or invalid messages are acked and
// dropped since redelivery cannot fix them; send failures are nacked without
// requeue.
func (m *Mailer) Handle(ctx context.Context, d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		m.log.Warn("dropping undecodable notification", zap.Error(err))
		_ = d.Ack(false)
		return
	}

	email, err := Render(msg)
	if err != nil {
		m.log.Warn("dropping invalid notification",
			zap.String("action", string(msg.Action)),
			zap.Error(err),
		)
		_ = d.Ack(false)
		return
	}

	if err := m.sender.Send(ctx, email); err != nil {
		m.log.Error("email send failed",
			zap.String("action", string(msg.Action)),
			zap.String("recipient", msg.Recipient),
			zap.Error(err),
		)
		_ = d.Nack(false, false)
		return
	}

	m.log.Info("email sent",
		zap.String("action", string(msg.Action)),
		zap.String("recipient", msg.Recipient),
	)
	_ = d.Ack(false)
}

// Consume runs until ctx is done or the delivery channel closes.
func (m *Mailer) Consume(ctx context.Context, conn *amqp.Connection, queue string, prefetch int) error {
	if queue == "" {
		queue = DefaultQueue
	}
	if prefetch <= 0 {
		prefetch = 1
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := DeclareQueue(ch, queue); err != nil {
		return err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "mailer", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	m.log.Info("mailer consuming", zap.String("queue", queue))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", queue)
			}
			m.Handle(ctx, d)
		}
	}
}
