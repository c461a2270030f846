package messages

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/pagination"
)

func setupMessagesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS contact_messages (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  subject TEXT NOT NULL,
  body TEXT NOT NULL,
  handled_at DATETIME,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func newMessagesService(t *testing.T) Service {
	t.Helper()
	svc, err := NewService(NewRepository(setupMessagesTestDB(t)))
	require.NoError(t, err)
	return svc
}

func TestSubmitAndList(t *testing.T) {
	svc := newMessagesService(t)
	ctx := context.Background()

	submitted, err := svc.Submit(ctx, SubmitInput{
		Name:    "Chinedu Okafor",
		Email:   "chinedu@example.com",
		Subject: "Delivery question",
		Body:    "Do you deliver to Enugu?",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, submitted.ID)
	assert.Nil(t, submitted.HandledAt)

	list, err := svc.AdminList(ctx, pagination.Params{}, MessageFilters{})
	require.NoError(t, err)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, "Delivery question", list.Messages[0].Subject)
}

func TestSubmitValidation(t *testing.T) {
	svc := newMessagesService(t)

	cases := []struct {
		name  string
		input SubmitInput
	}{
		{"missing name", SubmitInput{Email: "a@b.com", Subject: "s", Body: "b"}},
		{"missing body", SubmitInput{Name: "A", Email: "a@b.com", Subject: "s"}},
		{"blank body", SubmitInput{Name: "A", Email: "a@b.com", Subject: "s", Body: "   "}},
		{"bad email", SubmitInput{Name: "A", Email: "not-an-email", Subject: "s", Body: "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tc.input)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		})
	}
}

func TestMarkHandledIsIdempotent(t *testing.T) {
	svc := newMessagesService(t)
	ctx := context.Background()

	submitted, err := svc.Submit(ctx, SubmitInput{
		Name: "A", Email: "a@b.com", Subject: "s", Body: "b",
	})
	require.NoError(t, err)

	handled, err := svc.MarkHandled(ctx, submitted.ID)
	require.NoError(t, err)
	require.NotNil(t, handled.HandledAt)
	firstStamp := *handled.HandledAt

	again, err := svc.MarkHandled(ctx, submitted.ID)
	require.NoError(t, err)
	require.NotNil(t, again.HandledAt)
	assert.Equal(t, firstStamp, *again.HandledAt)
}

func TestMarkHandledUnknownMessage(t *testing.T) {
	svc := newMessagesService(t)
	_, err := svc.MarkHandled(context.Background(), uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestUnhandledFilter(t *testing.T) {
	svc := newMessagesService(t)
	ctx := context.Background()

	first, err := svc.Submit(ctx, SubmitInput{Name: "A", Email: "a@b.com", Subject: "one", Body: "b"})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, SubmitInput{Name: "B", Email: "b@b.com", Subject: "two", Body: "b"})
	require.NoError(t, err)

	_, err = svc.MarkHandled(ctx, first.ID)
	require.NoError(t, err)

	list, err := svc.AdminList(ctx, pagination.Params{}, MessageFilters{Unhandled: true})
	require.NoError(t, err)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, "two", list.Messages[0].Subject)
}
