package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"

    "github.com/labstack/gommon/log"
    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/ticket-rush/internal/config"
    "github.com/iliyamo/ticket-rush/internal/metrics"
)

// ErrNotConfirmed means the broker refused to take responsibility for a message.
var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// Publisher sends saga events to the topic exchange over one long-lived
// channel in confirm mode.  A broken connection is redialled on the next
// Publish.
type Publisher struct {
    cfg config.BrokerConfig
    log *log.Logger

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

func NewPublisher(cfg config.BrokerConfig, logger *log.Logger) *Publisher {
    if logger == nil {
        logger = log.New("broker")
    }
    return &Publisher{cfg: cfg, log: logger}
}

// newPublishing builds the AMQP message for ev.  Messages are persistent and
// carry the event id and saga id so consumers and operators can trace them.
func newPublishing(topic string, ev Event) (amqp.Publishing, error) {
    body, err := json.Marshal(ev)
    if err != nil {
        return amqp.Publishing{}, fmt.Errorf("marshal %s: %w", topic, err)
    }
    meta := ev.Meta()
    return amqp.Publishing{
        ContentType:   "application/json",
        DeliveryMode:  amqp.Persistent, // store on disk
        Timestamp:     meta.Timestamp,
        MessageId:     meta.EventID,
        CorrelationId: meta.SagaID,
        Type:          topic,
        Body:          body,
    }, nil
}

// Publish sends ev with routing key topic and waits for the broker confirm.
func (p *Publisher) Publish(ctx context.Context, topic string, ev Event) error {
    msg, err := newPublishing(topic, ev)
    if err != nil {
        return err
    }

    p.mu.Lock()
    defer p.mu.Unlock()

    ch, err := p.channel()
    if err != nil {
        metrics.SagaEvent(topic, "publish_failed")
        return err
    }
    dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.cfg.Exchange, topic, false, false, msg)
    if err != nil {
        p.reset()
        metrics.SagaEvent(topic, "publish_failed")
        return fmt.Errorf("publish %s saga=%s: %w", topic, msg.CorrelationId, err)
    }
    acked, err := dc.WaitContext(ctx)
    if err != nil {
        metrics.SagaEvent(topic, "publish_failed")
        return fmt.Errorf("confirm %s saga=%s: %w", topic, msg.CorrelationId, err)
    }
    if !acked {
        metrics.SagaEvent(topic, "publish_failed")
        return fmt.Errorf("%w: %s saga=%s", ErrNotConfirmed, topic, msg.CorrelationId)
    }
    metrics.SagaEvent(topic, "published")
    p.log.Debugf("published %s saga=%s event=%s", topic, msg.CorrelationId, msg.MessageId)
    return nil
}

// channel returns the open confirm channel, dialling when needed.  Callers
// hold p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.reset()

    conn, err := amqp.Dial(p.cfg.URL)
    if err != nil {
        p.log.Errorf("rabbitmq: dial failed: %v", err)
        return nil, fmt.Errorf("dial broker: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, fmt.Errorf("channel open: %w", err)
    }
    if err := ch.Confirm(false); err != nil {
        _ = conn.Close()
        return nil, fmt.Errorf("confirm mode: %w", err)
    }
    if err := DeclareExchange(ch, p.cfg.Exchange); err != nil {
        _ = conn.Close()
        return nil, err
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.conn, p.ch = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.reset()
    return nil
}
