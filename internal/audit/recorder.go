// Package audit records auth lifecycle events. Every sink is
// fire-and-forget with its own timeout; audit must never sit on a
// response path or fail a request.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"phone-auth-service/internal/client"
	"phone-auth-service/internal/model"
	"phone-auth-service/internal/util"
)

// Event types published to the auth event stream.
const (
	EventOTPRequested  = "otp.requested"
	EventUserLoggedIn  = "user.logged_in"
	EventUserLoggedOut = "user.logged_out"
)

const sinkTimeout = 5 * time.Second

const loginEventsDDL = `
CREATE TABLE IF NOT EXISTS login_events (
    user_id      String,
    phone_number String,
    ip_address   String,
    user_agent   String,
    occurred_at  DateTime64(3, 'UTC')
) ENGINE = MergeTree()
ORDER BY (user_id, occurred_at)`

// EnsureSchema creates the audit table if it does not exist yet, so a
// fresh ClickHouse node is usable without manual migration.
func EnsureSchema(ctx context.Context, clickhouse *client.ClickHouseClient) error {
	if err := clickhouse.Exec(ctx, loginEventsDDL); err != nil {
		return fmt.Errorf("failed to ensure login_events table: %w", err)
	}
	return nil
}

type streamEvent struct {
	Type        string    `json:"type"`
	UserID      string    `json:"user_id,omitempty"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Recorder fans events out to ClickHouse (append-only audit table),
// Kafka (event stream) and Elasticsearch (search index). Any sink may
// be nil; missing infrastructure degrades to logging only.
type Recorder struct {
	clickhouse *client.ClickHouseClient
	producer   *client.KafkaProducer
	es         *client.ESClient
}

func NewRecorder(clickhouse *client.ClickHouseClient, producer *client.KafkaProducer, es *client.ESClient) *Recorder {
	return &Recorder{
		clickhouse: clickhouse,
		producer:   producer,
		es:         es,
	}
}

// RecordLogin persists the login event in the background and publishes
// it to the event stream. Returns immediately.
func (r *Recorder) RecordLogin(event model.LoginEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	go r.writeLoginRow(event)
	go r.indexLoginEvent(event)
	r.Publish(EventUserLoggedIn, event.UserID, event.PhoneNumber)
}

// Publish emits a lifecycle event to the Kafka stream in the
// background.
func (r *Recorder) Publish(eventType, userID, phoneNumber string) {
	if r.producer == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()

		payload, err := json.Marshal(streamEvent{
			Type:        eventType,
			UserID:      userID,
			PhoneNumber: phoneNumber,
			OccurredAt:  time.Now().UTC(),
		})
		if err != nil {
			util.Error("Failed to encode auth event", zap.Error(err))
			return
		}

		if err := r.producer.ProduceMessage(ctx, []byte(eventType), payload, nil); err != nil {
			util.Warn("Failed to publish auth event",
				zap.String("event_type", eventType),
				zap.Error(err))
		}
	}()
}

func (r *Recorder) writeLoginRow(event model.LoginEvent) {
	if r.clickhouse == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	err := r.clickhouse.BatchInsert(ctx,
		`INSERT INTO login_events (user_id, phone_number, ip_address, user_agent, occurred_at)`,
		[][]interface{}{{event.UserID, event.PhoneNumber, event.IPAddress, event.UserAgent, event.OccurredAt}})
	if err != nil {
		util.Warn("Failed to write login audit row",
			zap.String("user_id", event.UserID),
			zap.Error(err))
	}
}

func (r *Recorder) indexLoginEvent(event model.LoginEvent) {
	if r.es == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if err := r.es.IndexDocument(ctx, event); err != nil {
		util.Warn("Failed to index login event",
			zap.String("user_id", event.UserID),
			zap.Error(err))
	}
}
