package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/flicky/storefront/internal/model"
)

// Publisher emits order.placed events to the orders exchange.
type Publisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(ch *amqp.Channel, exchange string) *Publisher {
	return &Publisher{channel: ch, exchange: exchange}
}

func (p *Publisher) PublishOrderPlaced(ctx context.Context, order *model.Order) error {
	body, err := json.Marshal(newOrderMessage(order))
	if err != nil {
		return fmt.Errorf("marshal order message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, orderPlacedKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    order.ID.String(),
		Timestamp:    time.Now(),
		Headers:      injectHeaders(ctx),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish order placed: %w", err)
	}
	return nil
}

func newOrderMessage(order *model.Order) model.OrderMessage {
	return model.OrderMessage{OrderID: order.ID, OrderNumber: order.OrderNumber, UserID: order.UserID}
}

func injectHeaders(ctx context.Context) amqp.Table {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := amqp.Table{}
	for k, v := range carrier {
		headers[k] = v
	}
	return headers
}

func extractHeaders(ctx context.Context, headers amqp.Table) context.Context {
	carrier := propagation.MapCarrier{}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
