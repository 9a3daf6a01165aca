package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const DefaultQueue = "notifications"

// DeclareQueue declares the durable notification queue. Publisher and mailer
// both call it so either may start first.
func DeclareQueue(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

// pendingConfirm is the broker's answer for one publishing.
type pendingConfirm interface {
	WaitContext(ctx context.Context) (bool, error)
}

type publishFunc func(ctx context.Context, queue string, pub amqp.Publishing) (pendingConfirm, error)

// AMQPPublisher publishes validated messages as persistent JSON and waits for
// the broker's confirm of that message.
type AMQPPublisher struct {
	ch      *amqp.Channel
	queue   string
	log     *zap.Logger
	publish publishFunc
}

func NewAMQPPublisher(conn *amqp.Connection, queue string, log *zap.Logger) (*AMQPPublisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := DeclareQueue(ch, queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	return &AMQPPublisher{
		ch:      ch,
		queue:   queue,
		log:     log,
		publish: channelPublish(ch),
	}, nil
}

func channelPublish(ch *amqp.Channel) publishFunc {
	return func(ctx context.Context, queue string, pub amqp.Publishing) (pendingConfirm, error) {
		dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, pub)
		if err != nil {
			return nil, err
		}
		if dc == nil {
			return nil, errors.New("channel is not in confirm mode")
		}
		return dc, nil
	}
}

func (p *AMQPPublisher) Dispatch(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Headers: amqp.Table{
			"action": string(msg.Action),
		},
	}
	confirm, err := p.publish(ctx, p.queue, pub)
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			return ErrNotifierClosed
		}
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	if !acked {
		return fmt.Errorf("publish to %s: broker nacked message", p.queue)
	}

	p.log.Debug("notification published",
		zap.String("action", string(msg.Action)),
		zap.String("queue", p.queue),
	)
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}

// LogNotifier writes messages to the log. Used when no broker is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Dispatch(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	n.log.Info("notification",
		zap.String("action", string(msg.Action)),
		zap.String("recipient", msg.Recipient),
		zap.Any("data", msg.Data),
	)
	return nil
}
