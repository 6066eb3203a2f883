package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQPSink mirrors dead-lettered jobs to a durable fanout exchange and its
// bound queue so operators can inspect them outside redis.
type AMQPSink struct {
	url      string
	exchange string
	queue    string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPSink(url, exchange string) *AMQPSink {
	return &AMQPSink{
		url:      url,
		exchange: exchange,
		queue:    exchange + ".queue",
	}
}

func (s *AMQPSink) connect() error {
	if s.ch != nil {
		return nil
	}
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(s.exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(s.queue, "", s.exchange, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("bind queue: %w", err)
	}
	s.conn = conn
	s.ch = ch
	log.WithField("exchange", s.exchange).Info("Connected dead-letter mirror")
	return nil
}

func (s *AMQPSink) Publish(_ context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connect(); err != nil {
		return err
	}
	err = s.ch.Publish(s.exchange, "", false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    job.ID,
		Type:         string(job.Type),
		Body:         body,
		Headers: amqp.Table{
			"x-attempts":   int32(job.Attempts),
			"x-last-error": job.LastError,
		},
	})
	if err != nil {
		// Drop the channel so the next publish reconnects.
		s.closeLocked()
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *AMQPSink) closeLocked() error {
	var err error
	if s.conn != nil {
		err = s.conn.Close()
	}
	s.conn = nil
	s.ch = nil
	return err
}
