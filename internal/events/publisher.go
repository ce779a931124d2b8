// Package events publishes committed trades to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"gold-exchange-go/internal/config"
	"gold-exchange-go/internal/models"
)

// TradeEvent is the wire form of a settled trade.
type TradeEvent struct {
	EventID      string    `json:"event_id"`
	TradeID      uint      `json:"trade_id"`
	BuyerID      uint      `json:"buyer_id"`
	SellerID     uint      `json:"seller_id"`
	BuyOrderID   uint      `json:"buy_order_id"`
	SellOrderID  uint      `json:"sell_order_id"`
	Amount       string    `json:"amount"`
	PricePerUnit int64     `json:"price_per_unit"`
	Fee          int64     `json:"fee"`
	SettledAt    time.Time `json:"settled_at"`
}

// NewTradeEvent builds the event for a committed trade.
func NewTradeEvent(trade *models.Trade) TradeEvent {
	return TradeEvent{
		EventID:      uuid.NewString(),
		TradeID:      trade.ID,
		BuyerID:      trade.BuyerID,
		SellerID:     trade.SellerID,
		BuyOrderID:   trade.BuyOrderID,
		SellOrderID:  trade.SellOrderID,
		Amount:       trade.Amount.String(),
		PricePerUnit: trade.PricePerUnit,
		Fee:          trade.Fee,
		SettledAt:    trade.CreatedAt,
	}
}

// Publisher delivers trade events. Publishing happens after the settlement
// transaction commits, so a failure never undoes a trade.
type Publisher interface {
	PublishTrade(ctx context.Context, event TradeEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishTrade(context.Context, TradeEvent) error { return nil }
func (NopPublisher) Close() error                                   { return nil }

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes trade events to a Kafka topic keyed by trade id.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// ensure KafkaPublisher implements the interface
var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a synchronous writer that waits for all replicas.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		logger: logger.Named("kafka-publisher"),
	}
}

// NewPublisher returns a Kafka publisher when brokers are configured, otherwise a no-op.
func NewPublisher(cfg config.Events, logger *zap.Logger) Publisher {
	if len(cfg.Brokers) == 0 {
		logger.Info("No Kafka brokers configured, trade events are disabled")
		return NopPublisher{}
	}
	return NewKafkaPublisher(cfg.Brokers, cfg.Topic, logger)
}

// PublishTrade implements Publisher.
func (p *KafkaPublisher) PublishTrade(ctx context.Context, event TradeEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode trade event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(event.TradeID), 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "type", Value: []byte("trade.settled")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish trade %d: %w", event.TradeID, err)
	}
	p.logger.Debug("Published trade event", zap.Uint("trade_id", event.TradeID), zap.String("event_id", event.EventID))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
