package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bytefrontng/bytefront-backend/api/responses"
	"github.com/bytefrontng/bytefront-backend/api/validators"
	"github.com/bytefrontng/bytefront-backend/internal/messages"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
	"github.com/bytefrontng/bytefront-backend/pkg/pagination"
)

type contactMessageRequest struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// SubmitContactMessage accepts a public contact-form submission.
func SubmitContactMessage(svc messages.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "messages service unavailable"))
			return
		}

		var body contactMessageRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		msg, err := svc.Submit(r.Context(), messages.SubmitInput{
			Name:    body.Name,
			Email:   body.Email,
			Subject: body.Subject,
			Body:    body.Body,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, msg)
	}
}

// AdminListMessages serves the back-office contact message queue.
func AdminListMessages(svc messages.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "messages service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filters := messages.MessageFilters{
			Unhandled: r.URL.Query().Get("unhandled") == "true",
		}

		list, err := svc.AdminList(r.Context(), pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		}, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, list)
	}
}

// AdminMarkMessageHandled marks a contact message as dealt with.
func AdminMarkMessageHandled(svc messages.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "messages service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "messageId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid message id"))
			return
		}

		msg, err := svc.MarkHandled(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, msg)
	}
}
