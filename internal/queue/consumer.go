package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/labstack/gommon/log"
    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/ticket-rush/internal/config"
    "github.com/iliyamo/ticket-rush/internal/metrics"
)

// HandlerFunc processes one delivery.  Returning nil acks it; a Permanent
// error dead-letters it; any other error requeues it after a short delay.
type HandlerFunc func(ctx context.Context, d amqp.Delivery) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
    if err == nil {
        return nil
    }
    return permanentError{err: err}
}

func IsPermanent(err error) bool {
    var p permanentError
    return errors.As(err, &p)
}

// Decode adapts a typed event handler to a HandlerFunc.  Undecodable bodies
// are permanent failures.
func Decode[T any](fn func(ctx context.Context, ev T) error) HandlerFunc {
    return func(ctx context.Context, d amqp.Delivery) error {
        var ev T
        if err := json.Unmarshal(d.Body, &ev); err != nil {
            return Permanent(fmt.Errorf("unmarshal %s: %w", d.RoutingKey, err))
        }
        return fn(ctx, ev)
    }
}

// Consumer reads one durable queue and dispatches deliveries by routing key.
// Run keeps reconnecting until its context is cancelled.
type Consumer struct {
    cfg        config.BrokerConfig
    queue      string
    handlers   map[string]HandlerFunc
    log        *log.Logger
    retryDelay time.Duration
}

func NewConsumer(cfg config.BrokerConfig, queue string, logger *log.Logger) *Consumer {
    if logger == nil {
        logger = log.New("consumer")
    }
    return &Consumer{
        cfg:        cfg,
        queue:      queue,
        handlers:   make(map[string]HandlerFunc),
        log:        logger,
        retryDelay: time.Second,
    }
}

// Handle registers h for topic.  Must be called before Run.
func (c *Consumer) Handle(topic string, h HandlerFunc) {
    c.handlers[topic] = h
}

func (c *Consumer) topics() []string {
    out := make([]string, 0, len(c.handlers))
    for k := range c.handlers {
        out = append(out, k)
    }
    return out
}

// Run blocks until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.cfg.URL)
        if err != nil {
            c.log.Warnf("%s: failed to dial broker: %v; retrying in %s", c.queue, err, backoff)
            if !sleep(ctx, backoff) {
                return nil
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return nil
        }
        c.log.Warnf("%s: consume loop ended: %v; reconnecting", c.queue, err)
        if !sleep(ctx, 2*time.Second) {
            return nil
        }
    }
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
        c.log.Warnf("%s: set QoS failed: %v", c.queue, err)
    }
    if err := DeclareQueue(ch, c.cfg.Exchange, c.queue, c.topics()); err != nil {
        return err
    }

    msgs, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }
    c.log.Infof("%s: consuming %v", c.queue, c.topics())

    for d := range msgs {
        c.dispatch(ctx, d)
    }
    return errors.New("deliveries channel closed")
}

// dispatch runs the handler for d and settles it.
func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
    h, ok := c.handlers[d.RoutingKey]
    if !ok {
        c.log.Errorf("%s: no handler for %q; dead-lettering", c.queue, d.RoutingKey)
        metrics.SagaEvent(d.RoutingKey, "dead_lettered")
        _ = d.Nack(false, false)
        return
    }

    err := h(ctx, d)
    switch {
    case err == nil:
        metrics.SagaEvent(d.RoutingKey, "handled")
        _ = d.Ack(false)
    case IsPermanent(err):
        c.log.Errorj(log.JSON{
            "queue": c.queue, "topic": d.RoutingKey, "saga_id": d.CorrelationId,
            "message_id": d.MessageId, "error": err.Error(), "action": "dead_letter",
        })
        metrics.SagaEvent(d.RoutingKey, "dead_lettered")
        _ = d.Nack(false, false)
    default:
        c.log.Warnf("%s: %s saga=%s failed, requeueing: %v", c.queue, d.RoutingKey, d.CorrelationId, err)
        metrics.SagaEvent(d.RoutingKey, "requeued")
        sleep(ctx, c.retryDelay)
        _ = d.Nack(false, true)
    }
}

// sleep waits for d or ctx; it reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
    if d <= 0 {
        return ctx.Err() == nil
    }
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
