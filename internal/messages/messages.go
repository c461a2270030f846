// Package messages handles storefront contact-form submissions.
package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/pagination"
)

// MessageList wraps one page of contact messages plus the next page cursor.
type MessageList struct {
	Messages   []models.ContactMessage `json:"messages"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

// MessageFilters describe the inputs supported by the admin message list.
type MessageFilters struct {
	// Unhandled narrows the list to messages without a handled_at stamp.
	Unhandled bool
}

// Repository defines persistence operations for contact messages.
type Repository interface {
	Create(ctx context.Context, message *models.ContactMessage) (*models.ContactMessage, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.ContactMessage, error)
	List(ctx context.Context, params pagination.Params, filters MessageFilters) (*MessageList, error)
	MarkHandled(ctx context.Context, id uuid.UUID, handledAt time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a contact message repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, message *models.ContactMessage) (*models.ContactMessage, error) {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return nil, err
	}
	return message, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ContactMessage, error) {
	var message models.ContactMessage
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *repository) List(ctx context.Context, params pagination.Params, filters MessageFilters) (*MessageList, error) {
	limit := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.ContactMessage{})
	if filters.Unhandled {
		query = query.Where("handled_at IS NULL")
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, err
		}
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.ContactMessage
	err := query.
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	list := &MessageList{Messages: rows}
	if len(rows) > limit {
		list.Messages = rows[:limit]
		last := list.Messages[limit-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return list, nil
}

func (r *repository) MarkHandled(ctx context.Context, id uuid.UUID, handledAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ContactMessage{}).
		Where("id = ?", id).
		Update("handled_at", handledAt).Error
}

// SubmitInput carries a public contact-form submission.
type SubmitInput struct {
	Name    string
	Email   string
	Subject string
	Body    string
}

// Service defines message operations for the storefront and back office.
type Service interface {
	Submit(ctx context.Context, input SubmitInput) (*models.ContactMessage, error)
	AdminList(ctx context.Context, params pagination.Params, filters MessageFilters) (*MessageList, error)
	MarkHandled(ctx context.Context, id uuid.UUID) (*models.ContactMessage, error)
}

type service struct {
	repo Repository
}

// NewService builds a messages service with the required dependencies.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("messages repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Submit(ctx context.Context, input SubmitInput) (*models.ContactMessage, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.TrimSpace(input.Email)
	subject := strings.TrimSpace(input.Subject)
	body := strings.TrimSpace(input.Body)
	if name == "" || email == "" || subject == "" || body == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name, email, subject and body are required")
	}
	if !strings.Contains(email, "@") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid email address")
	}

	message, err := s.repo.Create(ctx, &models.ContactMessage{
		ID:      uuid.New(),
		Name:    name,
		Email:   email,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving contact message")
	}
	return message, nil
}

func (s *service) AdminList(ctx context.Context, params pagination.Params, filters MessageFilters) (*MessageList, error) {
	list, err := s.repo.List(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing contact messages")
	}
	return list, nil
}

func (s *service) MarkHandled(ctx context.Context, id uuid.UUID) (*models.ContactMessage, error) {
	message, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "message not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading contact message")
	}
	if message.HandledAt != nil {
		return message, nil
	}
	if err := s.repo.MarkHandled(ctx, id, time.Now().UTC()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking message handled")
	}
	return s.repo.FindByID(ctx, id)
}
