package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flicky/storefront/internal/model"
)

const (
	orderPlacedKey   = "order.placed"
	orderPlacedQueue = "order.placed"
	dlxExchange      = "orders.dlx"
	dlqQueueName     = "order.placed.dlq"
)

// OrderStatusUpdater moves an accepted order into fulfilment.
type OrderStatusUpdater interface {
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status model.OrderStatus) (*model.Order, error)
}

type OrderWorker struct {
	channel   *amqp.Channel
	orders    OrderStatusUpdater
	processed ProcessedSet
	log       *slog.Logger
	tracer    trace.Tracer
	done      chan struct{}
}

// NewOrderWorker builds a consumer for order.placed. processed may be nil,
// in which case redeliveries rely on UpdateStatus being a no-op for an
// order already in the target status.
func NewOrderWorker(ch *amqp.Channel, orders OrderStatusUpdater, processed ProcessedSet, log *slog.Logger) *OrderWorker {
	return &OrderWorker{
		channel:   ch,
		orders:    orders,
		processed: processed,
		log:       log,
		tracer:    otel.Tracer("storefront/worker"),
		done:      make(chan struct{}),
	}
}

// SetupRabbitMQ declares the orders exchange, the order.placed queue and its
// dead-letter pair.
func SetupRabbitMQ(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(dlxExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLX: %w", err)
	}
	if _, err := ch.QueueDeclare(dlqQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}
	if err := ch.QueueBind(dlqQueueName, orderPlacedKey, dlxExchange, false, nil); err != nil {
		return fmt.Errorf("bind DLQ: %w", err)
	}
	if _, err := ch.QueueDeclare(orderPlacedQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlxExchange,
		"x-dead-letter-routing-key": orderPlacedKey,
	}); err != nil {
		return fmt.Errorf("declare order queue: %w", err)
	}
	if err := ch.QueueBind(orderPlacedQueue, orderPlacedKey, exchange, false, nil); err != nil {
		return fmt.Errorf("bind order queue: %w", err)
	}
	return nil
}

func (w *OrderWorker) Start(ctx context.Context) error {
	if err := w.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}
	msgs, err := w.channel.Consume(orderPlacedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	go func() {
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				w.processMessage(ctx, msg)
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	w.log.Info("order worker started", "queue", orderPlacedQueue)
	return nil
}

func (w *OrderWorker) Stop() { close(w.done) }

func (w *OrderWorker) processMessage(ctx context.Context, msg amqp.Delivery) {
	ctx = extractHeaders(ctx, msg.Headers)
	ctx, span := w.tracer.Start(ctx, "OrderWorker.process", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var orderMsg model.OrderMessage
	if err := json.Unmarshal(msg.Body, &orderMsg); err != nil {
		w.log.Error("unmarshal order message", "error", err)
		span.SetStatus(codes.Error, "malformed message")
		_ = msg.Nack(false, false)
		return
	}
	span.SetAttributes(attribute.String("order.id", orderMsg.OrderID.String()))

	log := w.log.With("order_id", orderMsg.OrderID, "order_number", orderMsg.OrderNumber)

	key := processedKey(orderMsg.OrderID)
	if w.processed != nil {
		seen, err := w.processed.Seen(ctx, key)
		if err != nil {
			log.Error("check processed key", "error", err)
			_ = msg.Nack(false, true)
			return
		}
		if seen {
			log.Info("order already processed, skipping")
			_ = msg.Ack(false)
			return
		}
	}

	if _, err := w.orders.UpdateStatus(ctx, orderMsg.OrderID, model.OrderStatusProcessing); err != nil {
		log.Error("process order failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "process order")
		if w.processed != nil {
			if ferr := w.processed.Forget(ctx, key); ferr != nil {
				log.Warn("forget processed key", "error", ferr)
			}
		}
		_ = msg.Nack(false, false)
		return
	}

	_ = msg.Ack(false)
	log.Info("order processed successfully")
}

func processedKey(orderID uuid.UUID) string {
	return "order_processed:" + orderID.String()
}
