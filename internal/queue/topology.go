package queue

import (
    "fmt"

    amqp "github.com/rabbitmq/amqp091-go"
)

// DeclareExchange makes sure the durable topic exchange exists (idempotent).
func DeclareExchange(ch *amqp.Channel, exchange string) error {
    if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
        return fmt.Errorf("exchange declare %s: %w", exchange, err)
    }
    return nil
}

// DeadLetterQueue is where rejected messages of queue end up.
func DeadLetterQueue(queue string) string { return queue + ".dead" }

func deadLetterExchange(exchange string) string { return exchange + ".dlx" }

// DeclareQueue declares a durable work queue bound to keys on exchange,
// together with its dead-letter queue.
func DeclareQueue(ch *amqp.Channel, exchange, queue string, keys []string) error {
    if err := DeclareExchange(ch, exchange); err != nil {
        return err
    }
    dlx := deadLetterExchange(exchange)
    if err := ch.ExchangeDeclare(dlx, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
        return fmt.Errorf("exchange declare %s: %w", dlx, err)
    }
    dead := DeadLetterQueue(queue)
    if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare %s: %w", dead, err)
    }
    if err := ch.QueueBind(dead, queue, dlx, false, nil); err != nil {
        return fmt.Errorf("queue bind %s: %w", dead, err)
    }

    args := amqp.Table{
        "x-dead-letter-exchange":    dlx,
        "x-dead-letter-routing-key": queue,
    }
    if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
        return fmt.Errorf("queue declare %s: %w", queue, err)
    }
    for _, key := range keys {
        if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
            return fmt.Errorf("queue bind %s <- %s: %w", queue, key, err)
        }
    }
    return nil
}
