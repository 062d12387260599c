// Package events publishes donation and onboarding facts to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"sadaqah/internal/domain"
	"sadaqah/pkg/logger"
)

// Routing keys on the topic exchange.
const (
	RoutingDonationSucceeded = "donation.succeeded"
	RoutingOnboardingUpdated = "account.onboarding.updated"
)

// Publisher writes JSON messages to a durable topic exchange.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  amqpChannel
	reopen   func() (amqpChannel, error)
	exchange string
	logger   logger.Logger
}

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// Dial connects to the broker and declares the exchange.
func Dial(amqpURL, exchange string, log logger.Logger) (*Publisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	p := newPublisher(ch, exchange, log)
	p.conn = conn
	p.reopen = func() (amqpChannel, error) { return conn.Channel() }
	if err := p.declare(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(ch amqpChannel, exchange string, log logger.Logger) *Publisher {
	return &Publisher{channel: ch, exchange: exchange, logger: log}
}

func (p *Publisher) declare() error {
	return p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil)
}

// Publish marshals body and sends it. A failed publish reopens the channel once
// and retries.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         data,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}
	p.logger.Warn("Publish failed, reopening channel", map[string]interface{}{"routing_key": routingKey, "error": err})
	if p.reopen == nil {
		return err
	}
	ch, chErr := p.reopen()
	if chErr != nil {
		return chErr
	}
	p.channel = ch
	if err := p.declare(); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *Publisher) PublishDonationSucceeded(ctx context.Context, d domain.DonationSucceeded) error {
	return p.Publish(ctx, RoutingDonationSucceeded, d)
}

func (p *Publisher) PublishOnboardingUpdated(ctx context.Context, evt domain.OnboardingUpdated) error {
	return p.Publish(ctx, RoutingOnboardingUpdated, evt)
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// Discard is used when no broker is configured. It logs and drops every message.
type Discard struct {
	Logger logger.Logger
}

func (d Discard) PublishDonationSucceeded(_ context.Context, evt domain.DonationSucceeded) error {
	d.Logger.Debug("Donation event not published, no broker configured", map[string]interface{}{"intent_id": evt.ProviderIntentID})
	return nil
}

func (d Discard) PublishOnboardingUpdated(_ context.Context, evt domain.OnboardingUpdated) error {
	d.Logger.Debug("Onboarding event not published, no broker configured", map[string]interface{}{"account_id": evt.AccountID})
	return nil
}

func (Discard) Close() {}
