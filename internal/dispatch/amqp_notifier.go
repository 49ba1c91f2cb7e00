package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Publisher is the subset of *amqp.Channel used to publish alerts.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes alerts on a topic exchange with routing key
// "alert.<service>", so each agency binds its own queue.
type AMQPNotifier struct {
	pub      Publisher
	exchange string
	closers  []func() error
}

// DialAMQP connects to the broker and declares the alert exchange.
func DialAMQP(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	n := NewAMQPNotifier(ch, exchange)
	n.closers = []func() error{ch.Close, conn.Close}
	return n, nil
}

func NewAMQPNotifier(pub Publisher, exchange string) *AMQPNotifier {
	return &AMQPNotifier{pub: pub, exchange: exchange}
}

func (n *AMQPNotifier) Name() string { return "amqp" }

func (n *AMQPNotifier) Notify(ctx context.Context, service models.EmergencyService, a models.Alert) error {
	b, err := json.Marshal(newAlertPayload(service, a))
	if err != nil {
		return err
	}
	return n.pub.PublishWithContext(ctx, n.exchange, "alert."+string(service), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    a.ID,
		Timestamp:    a.CreatedAt,
		Body:         b,
	})
}

func (n *AMQPNotifier) Close() error {
	var first error
	for _, c := range n.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
