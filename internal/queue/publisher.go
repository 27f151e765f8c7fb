package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const bookingQueueName = "booking.confirmed"

// Publisher publishes booking-confirmed events to RabbitMQ.  Errors
// are logged and returned so callers can ignore failures without
// interrupting the main request flow; the orchestrator treats the
// notification as fire-and-forget.
type Publisher struct {
	url string
	log *logrus.Entry
}

// NewPublisher returns a publisher for the given AMQP URL.
func NewPublisher(url string) *Publisher {
	return &Publisher{url: url, log: logrus.WithField("component", "queue-publisher")}
}

// PublishBookingConfirmed publishes one event to the booking.confirmed
// queue.  The queue declaration is idempotent and durable, and the
// message is marked persistent, so confirmations survive a broker
// restart.  Each call dials a fresh connection; confirmation volume is
// low enough that the simplicity wins over connection pooling.
func (p *Publisher) PublishBookingConfirmed(ctx context.Context, event BookingConfirmedEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.WithError(err).Warn("rabbitmq dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.WithError(err).Warn("rabbitmq channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		bookingQueueName, // name
		true,             // durable
		false,            // autoDelete
		false,            // exclusive
		false,            // noWait
		nil,              // args
	); err != nil {
		p.log.WithError(err).Warn("rabbitmq queue declare failed")
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.log.WithError(err).Warn("marshal event failed")
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",               // default exchange
		bookingQueueName, // routing key = queue name
		false,            // mandatory
		false,            // immediate
		pub,
	); err != nil {
		p.log.WithError(err).Warn("rabbitmq publish failed")
		return err
	}
	return nil
}
