package main

import (
	"context"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hackgods/mini-hms/internal/app"
	"github.com/hackgods/mini-hms/internal/config"
	"github.com/hackgods/mini-hms/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log := app.NewLogger(cfg.Env)
	defer func() { _ = log.Sync() }()

	if cfg.AMQPURL == "" {
		log.Fatal("AMQP_URL is required for the mailer")
	}

	var sender notify.Sender
	if cfg.SenderEmail == "" || cfg.SMTPHost == "" {
		log.Warn("SENDER_EMAIL or SMTP_HOST not set, running in mock mode")
		sender = notify.NewLogSender(log)
	} else {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SenderEmail,
		})
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatal("rabbitmq connection error", zap.Error(err))
	}
	defer conn.Close()
	log.Info("connected to RabbitMQ")

	mailer := notify.NewMailer(sender, log)
	if err := mailer.Consume(rootCtx, conn, cfg.NotifyQueue, 4); err != nil {
		log.Error("mailer stopped", zap.Error(err))
		return
	}
	log.Info("mailer stopped")
}
