package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
	"github.com/bytefrontng/bytefront-backend/pkg/outbox"
)

func TestAnalyticsConsumerProcessesOrderCreated(t *testing.T) {
	inserter := &fakeInserter{}
	manager := fakeIdempotency{
		check: func(_ context.Context, _, _ string) (bool, error) {
			return false, nil
		},
		deleteFn: func(_ context.Context, _, _ string) error {
			return nil
		},
	}
	consumer := mustConsumer(t, inserter, manager)

	orderID := uuid.NewString()
	userID := uuid.NewString()
	envelope := buildEnvelope(t, uuid.NewString(), map[string]any{
		"order_id":   orderID,
		"user_id":    userID,
		"reference":  "BF-0123456789",
		"total_kobo": 41650000,
	})

	if err := consumer.Process(context.Background(), enums.EventOrderCreated, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if len(inserter.rows) != 1 {
		t.Fatalf("expected 1 row inserted, got %d", len(inserter.rows))
	}
	if inserter.table != "storefront_events" {
		t.Fatalf("unexpected table: %s", inserter.table)
	}
	row, ok := inserter.rows[0].(*storefrontEventRow)
	if !ok {
		t.Fatalf("expected storefrontEventRow, got %T", inserter.rows[0])
	}
	if row.EventType != string(enums.EventOrderCreated) {
		t.Fatalf("unexpected event type: %s", row.EventType)
	}
	if row.OrderID == nil || *row.OrderID != orderID {
		t.Fatalf("order id mismatch")
	}
	if row.UserID == nil || *row.UserID != userID {
		t.Fatalf("user id mismatch")
	}
	if row.TotalKobo == nil || *row.TotalKobo != 41650000 {
		t.Fatalf("total kobo mismatch")
	}
	if row.ProductID != nil {
		t.Fatalf("product id should be nil for order events")
	}
	if !row.Payload.Valid {
		t.Fatalf("payload should be valid json")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(row.Payload.JSONVal), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if _, ok := payload["reference"]; !ok {
		t.Fatalf("payload missing reference")
	}
}

func TestAnalyticsConsumerProcessesProductViewed(t *testing.T) {
	inserter := &fakeInserter{}
	manager := fakeIdempotency{
		check: func(_ context.Context, _, _ string) (bool, error) {
			return false, nil
		},
		deleteFn: func(_ context.Context, _, _ string) error {
			return nil
		},
	}
	consumer := mustConsumer(t, inserter, manager)

	productID := uuid.NewString()
	envelope := buildEnvelope(t, uuid.NewString(), map[string]any{
		"product_id": productID,
		"category":   "laptop",
		"brand":      "Lenovo",
	})

	if err := consumer.Process(context.Background(), enums.EventProductViewed, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	if len(inserter.rows) != 1 {
		t.Fatalf("expected 1 row inserted, got %d", len(inserter.rows))
	}
	row := inserter.rows[0].(*storefrontEventRow)
	if row.ProductID == nil || *row.ProductID != productID {
		t.Fatalf("product id mismatch")
	}
	if row.Category == nil || *row.Category != "laptop" {
		t.Fatalf("category mismatch")
	}
	if row.Brand == nil || *row.Brand != "Lenovo" {
		t.Fatalf("brand mismatch")
	}
	if row.OrderID != nil {
		t.Fatalf("order id should be nil for view events")
	}
	if row.TotalKobo != nil {
		t.Fatalf("total kobo should be nil for view events")
	}
}

func TestAnalyticsConsumerSkipsUnfilteredEvents(t *testing.T) {
	inserter := &fakeInserter{}
	checked := false
	manager := fakeIdempotency{
		check: func(_ context.Context, _, _ string) (bool, error) {
			checked = true
			return false, nil
		},
		deleteFn: func(_ context.Context, _, _ string) error {
			return nil
		},
	}
	consumer := mustConsumer(t, inserter, manager)

	envelope := buildEnvelope(t, uuid.NewString(), map[string]any{})
	if err := consumer.Process(context.Background(), enums.OutboxEventType("user.registered"), envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if checked {
		t.Fatalf("idempotency should not run for filtered events")
	}
	if len(inserter.rows) != 0 {
		t.Fatalf("expected no rows for filtered events")
	}
}

func TestAnalyticsConsumerIsIdempotent(t *testing.T) {
	inserter := &fakeInserter{}
	manager := fakeIdempotency{
		check: func(_ context.Context, _, _ string) (bool, error) {
			return true, nil
		},
		deleteFn: func(_ context.Context, _, _ string) error {
			return nil
		},
	}
	consumer := mustConsumer(t, inserter, manager)

	envelope := buildEnvelope(t, uuid.NewString(), map[string]any{})
	if err := consumer.Process(context.Background(), enums.EventOrderCreated, envelope); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(inserter.rows) != 0 {
		t.Fatalf("expected no rows inserted when idempotent")
	}
}

func TestAnalyticsConsumerDeletesOnInsertFailure(t *testing.T) {
	inserter := &fakeInserter{err: errors.New("bigquery down")}
	deleted := false
	manager := fakeIdempotency{
		check: func(_ context.Context, _, _ string) (bool, error) {
			return false, nil
		},
		deleteFn: func(_ context.Context, _, _ string) error {
			deleted = true
			return nil
		},
	}
	consumer := mustConsumer(t, inserter, manager)

	envelope := buildEnvelope(t, uuid.NewString(), map[string]any{
		"order_id": uuid.NewString(),
	})
	if err := consumer.Process(context.Background(), enums.EventOrderCreated, envelope); err == nil {
		t.Fatalf("expected error when insert fails")
	}
	if !deleted {
		t.Fatalf("expected idempotency key deletion on failure")
	}
}

func TestAnalyticsConsumerDeletesOnPayloadDecodeFailure(t *testing.T) {
	inserter := &fakeInserter{}
	deleted := false
	manager := fakeIdempotency{
		check: func(_ context.Context, _, _ string) (bool, error) {
			return false, nil
		},
		deleteFn: func(_ context.Context, _, _ string) error {
			deleted = true
			return nil
		},
	}
	consumer := mustConsumer(t, inserter, manager)

	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       []byte("{invalid json"),
	}
	if err := consumer.Process(context.Background(), enums.EventOrderCreated, envelope); err == nil {
		t.Fatalf("expected error for bad payload")
	}
	if !deleted {
		t.Fatalf("expected idempotency key deletion on payload error")
	}
	if len(inserter.rows) != 0 {
		t.Fatalf("expected no rows inserted on payload failure")
	}
}

func TestBuildRowHandlesEmptyPayload(t *testing.T) {
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
	}
	row, err := buildRow(enums.EventOrderStatusChanged, envelope)
	if err != nil {
		t.Fatalf("buildRow() error: %v", err)
	}
	if row.Payload.Valid {
		t.Fatalf("payload should be invalid when envelope carries no data")
	}
	if row.OrderID != nil || row.UserID != nil || row.TotalKobo != nil {
		t.Fatalf("expected nil extracted fields for empty payload")
	}
}

func TestBuildRowIgnoresBlankAndMistypedFields(t *testing.T) {
	envelope := buildEnvelope(t, uuid.NewString(), map[string]any{
		"order_id":   "   ",
		"user_id":    42,
		"total_kobo": "not-a-number",
	})
	row, err := buildRow(enums.EventOrderCreated, envelope)
	if err != nil {
		t.Fatalf("buildRow() error: %v", err)
	}
	if row.OrderID != nil {
		t.Fatalf("blank order id should map to nil")
	}
	if row.UserID != nil {
		t.Fatalf("non-string user id should map to nil")
	}
	if row.TotalKobo != nil {
		t.Fatalf("non-numeric total should map to nil")
	}
}

type fakeInserter struct {
	table string
	rows  []any
	err   error
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.table = table
	f.rows = append(f.rows, rows...)
	return f.err
}

type fakeIdempotency struct {
	check    func(ctx context.Context, consumer, eventID string) (bool, error)
	deleteFn func(ctx context.Context, consumer, eventID string) error
}

func (f fakeIdempotency) CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	return f.check(ctx, consumer, eventID)
}

func (f fakeIdempotency) Delete(ctx context.Context, consumer, eventID string) error {
	return f.deleteFn(ctx, consumer, eventID)
}

func mustConsumer(t *testing.T, inserter *fakeInserter, manager fakeIdempotency) *Consumer {
	t.Helper()
	consumer, err := NewConsumer(inserter, "storefront_events", manager, logger.New(logger.Options{
		ServiceName: "analytics-test",
		Level:       logger.ParseLevel("debug"),
		Output:      io.Discard,
	}))
	if err != nil {
		t.Fatalf("failed to build consumer: %v", err)
	}
	return consumer
}

func buildEnvelope(t *testing.T, eventID string, payload any) outbox.PayloadEnvelope {
	t.Helper()
	bytes, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       bytes,
	}
}
