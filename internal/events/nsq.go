// README: NSQ producer and consumer for domain events.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"

	"coursier/internal/logger"
)

type NSQPublisher struct {
	producer *nsq.Producer
	log      logger.ILogger
}

func NewNSQPublisher(addr string, log logger.ILogger) (*NSQPublisher, error) {
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create nsq producer: %w", err)
	}
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("ping nsqd: %w", err)
	}
	producer.SetLoggerLevel(nsq.LogLevelWarning)
	return &NSQPublisher{producer: producer, log: log}, nil
}

func (p *NSQPublisher) Publish(_ context.Context, topic string, data map[string]any) error {
	body, err := json.Marshal(New(topic, data))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.producer.Publish(topic, body); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.log.Debug("event published", logger.String("topic", topic))
	return nil
}

func (p *NSQPublisher) Stop() {
	p.producer.Stop()
}

type Handler func(ctx context.Context, e Event) error

type Consumer struct {
	consumer *nsq.Consumer
}

// Subscribe connects a handler to topic/channel on nsqd. A handler error requeues the message.
func Subscribe(ctx context.Context, addr, topic, channel string, h Handler, log logger.ILogger) (*Consumer, error) {
	c, err := nsq.NewConsumer(topic, channel, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create nsq consumer: %w", err)
	}
	c.SetLoggerLevel(nsq.LogLevelWarning)
	c.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		var e Event
		if err := json.Unmarshal(m.Body, &e); err != nil {
			log.Warning("drop malformed event", logger.String("topic", topic), logger.Error(err))
			return nil
		}
		return h(ctx, e)
	}))
	if err := c.ConnectToNSQD(addr); err != nil {
		return nil, fmt.Errorf("connect nsqd: %w", err)
	}
	return &Consumer{consumer: c}, nil
}

func (c *Consumer) Stop() {
	c.consumer.Stop()
}
