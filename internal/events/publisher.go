package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/cosmetics-harvester/internal/config"
	"github.com/maltedev/cosmetics-harvester/internal/models"
	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeProductHarvested carries one accepted product record.
	EventTypeProductHarvested EventType = "PRODUCT_RECORD_HARVESTED"
	// EventTypeHarvestCompleted closes a run's sequence of records.
	EventTypeHarvestCompleted EventType = "HARVEST_COMPLETED"
)

// RedisClient is the subset of *redis.Client the publisher needs.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

type ProductHarvestedPayload struct {
	EventID   string               `json:"event_id"`
	EventType string               `json:"event_type"`
	RunID     string               `json:"run_id"`
	Timestamp time.Time            `json:"timestamp"`
	Position  int                  `json:"position"`
	Record    models.ProductRecord `json:"record"`
}

type HarvestCompletedPayload struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Records   int       `json:"records"`
}

// Publisher appends harvested records to a Redis stream, one entry per
// record followed by a completion entry.
type Publisher struct {
	client RedisClient
	stream string
	logger *slog.Logger
}

func NewPublisher(client RedisClient, stream string, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// NewRedisClient connects to the configured server and checks it answers.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func (p *Publisher) Name() string { return "redis" }

func (p *Publisher) Write(ctx context.Context, runID string, records []models.ProductRecord) error {
	for i, record := range records {
		payload := &ProductHarvestedPayload{
			EventID:   uuid.New().String(),
			EventType: string(EventTypeProductHarvested),
			RunID:     runID,
			Timestamp: time.Now(),
			Position:  i,
			Record:    record,
		}
		if err := p.publish(ctx, payload.EventType, payload.EventID, runID, payload.Timestamp, payload); err != nil {
			return fmt.Errorf("failed to publish record %d: %w", record.ProductID, err)
		}
	}

	done := &HarvestCompletedPayload{
		EventID:   uuid.New().String(),
		EventType: string(EventTypeHarvestCompleted),
		RunID:     runID,
		Timestamp: time.Now(),
		Records:   len(records),
	}
	if err := p.publish(ctx, done.EventType, done.EventID, runID, done.Timestamp, done); err != nil {
		return fmt.Errorf("failed to publish completion: %w", err)
	}

	p.logger.Info("records published", "stream", p.stream, "run_id", runID, "count", len(records))
	return nil
}

func (p *Publisher) publish(ctx context.Context, eventType, eventID, runID string, ts time.Time, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"data":      string(data),
			"type":      eventType,
			"event_id":  eventID,
			"run_id":    runID,
			"timestamp": strconv.FormatInt(ts.UnixNano(), 10),
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
