package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// ErrBrokerUnavailable is returned while the publisher has no live session.
var ErrBrokerUnavailable = errors.New("amqp: broker unavailable")

// PrintEventsExchange is the durable fanout exchange kitchen displays bind to.
const PrintEventsExchange = "print_events"

// Print event routing keys.
const (
	EventPrinted = "print.printed"
	EventFailed  = "print.failed"
)

// PrintEvent is the JSON body published after every print outcome.
type PrintEvent struct {
	Type          string    `json:"type"`
	EntryID       int64     `json:"entry_id"`
	PrintType     string    `json:"print_type"`
	CommandID     string    `json:"command_id,omitempty"`
	CommandNumber int       `json:"command_number,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	TableNumber   int       `json:"table_number,omitempty"`
	Attempts      int       `json:"attempts"`
	Error         string    `json:"error,omitempty"`
	WorkerID      string    `json:"worker_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AMQPPublisher publishes print events with publisher confirms. Publish is
// serialized because confirms arrive in publish order on one channel. A lost
// connection is redialed in the background with capped exponential backoff;
// Publish fails fast until the session is back.
type AMQPPublisher struct {
	url        string
	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.Mutex
	sess   *amqpSession
	closed bool

	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

type amqpSession struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	acks       <-chan amqp.Confirmation
	connClosed <-chan *amqp.Error
	chClosed   <-chan *amqp.Error
}

// NewAMQPPublisher dials the broker and declares the print_events exchange.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	sess, err := dialSession(url)
	if err != nil {
		return nil, err
	}
	p := newAMQPPublisher(url, time.Second, 30*time.Second)
	p.sess = sess
	go p.watch(sess)
	return p, nil
}

func newAMQPPublisher(url string, minBackoff, maxBackoff time.Duration) *AMQPPublisher {
	return &AMQPPublisher{
		url:        url,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func dialSession(url string) (*amqpSession, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: channel: %w", err)
	}
	s := &amqpSession{conn: conn, ch: ch}
	if err := ch.ExchangeDeclare(PrintEventsExchange, "fanout", true, false, false, false, nil); err != nil {
		s.close()
		return nil, fmt.Errorf("amqp: declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		s.close()
		return nil, fmt.Errorf("amqp: enable confirms: %w", err)
	}
	s.acks = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	s.connClosed = conn.NotifyClose(make(chan *amqp.Error, 1))
	s.chClosed = ch.NotifyClose(make(chan *amqp.Error, 1))
	return s, nil
}

func (s *amqpSession) close() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// watch waits for the session to drop and swaps in a fresh one.
func (p *AMQPPublisher) watch(sess *amqpSession) {
	defer close(p.stopped)
	for {
		var amqpErr *amqp.Error
		select {
		case <-p.done:
			return
		case amqpErr = <-sess.connClosed:
		case amqpErr = <-sess.chClosed:
		}
		select {
		case <-p.done:
			return
		default:
		}

		ev := log.Warn()
		if amqpErr != nil {
			ev = ev.Int("code", amqpErr.Code).Str("reason", amqpErr.Reason)
		}
		ev.Msg("rabbitmq session lost, reconnecting")

		p.mu.Lock()
		if p.sess == sess {
			p.sess = nil
		}
		p.mu.Unlock()
		sess.close()

		next, ok := p.redial()
		if !ok {
			return
		}
		sess = next
	}
}

func (p *AMQPPublisher) redial() (*amqpSession, bool) {
	delay := p.minBackoff
	for attempt := 1; ; attempt++ {
		select {
		case <-p.done:
			return nil, false
		case <-time.After(delay):
		}

		sess, err := dialSession(p.url)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Dur("next_in", delay).Msg("rabbitmq reconnect failed")
			delay = nextBackoff(delay, p.maxBackoff)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			sess.close()
			return nil, false
		}
		p.sess = sess
		p.mu.Unlock()
		log.Info().Int("attempt", attempt).Msg("rabbitmq reconnected")
		return sess, true
	}
}

func nextBackoff(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		return limit
	}
	return d
}

// Publish sends ev and waits for the broker confirm or ctx cancellation.
func (p *AMQPPublisher) Publish(ctx context.Context, ev PrintEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("amqp: marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sess == nil || p.sess.conn.IsClosed() {
		return ErrBrokerUnavailable
	}
	err = p.sess.ch.PublishWithContext(ctx, PrintEventsExchange, ev.Type, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp: publish: %w", err)
	}
	select {
	case conf, ok := <-p.sess.acks:
		if !ok {
			return fmt.Errorf("%w: channel closed before confirm", ErrBrokerUnavailable)
		}
		if !conf.Ack {
			return errors.New("amqp: publish nacked by broker")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping reports whether a live session is in place.
func (p *AMQPPublisher) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil || p.sess.conn.IsClosed() {
		return ErrBrokerUnavailable
	}
	return nil
}

// Close stops the reconnect loop and closes the current session.
func (p *AMQPPublisher) Close() {
	p.once.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.closed = true
		sess := p.sess
		p.sess = nil
		p.mu.Unlock()
		if sess != nil {
			sess.close()
		}
	})
}
