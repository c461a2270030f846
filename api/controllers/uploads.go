package controllers

import (
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bytefrontng/bytefront-backend/api/middleware"
	"github.com/bytefrontng/bytefront-backend/api/responses"
	"github.com/bytefrontng/bytefront-backend/api/validators"
	"github.com/bytefrontng/bytefront-backend/internal/checkout"
	"github.com/bytefrontng/bytefront-backend/pkg/config"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
)

// uploadSigner is the slice of the GCS client the payment-proof flow needs.
type uploadSigner interface {
	SignedURL(bucket, object, contentType string, expires time.Duration) (string, error)
	DefaultBucket() string
}

var paymentProofMimeTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

type paymentProofPresignRequest struct {
	FileName string `json:"file_name" validate:"required"`
	MimeType string `json:"mime_type" validate:"required"`
}

type paymentProofPresignResponse struct {
	UploadURL        string `json:"upload_url"`
	Object           string `json:"object"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// UploadPaymentProof returns a presigned PUT URL for a bank-transfer receipt.
// The object key is namespaced by user so customers cannot collide.
func UploadPaymentProof(signer uploadSigner, cfg config.GCSConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if signer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "storage unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var body paymentProofPresignRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		mime := strings.ToLower(strings.TrimSpace(body.MimeType))
		ext, ok := paymentProofMimeTypes[mime]
		if !ok {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment proof type").
					WithDetails(map[string]any{"mime_type": mime}))
			return
		}
		if suffix := strings.ToLower(path.Ext(body.FileName)); suffix != "" && suffix != ext && !(ext == ".jpg" && suffix == ".jpeg") {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "file extension does not match mime type"))
			return
		}

		object := fmt.Sprintf("%s%s%s", checkout.PaymentProofPrefix(userID), uuid.NewString(), ext)
		url, err := signer.SignedURL(signer.DefaultBucket(), object, mime, cfg.UploadURLExpiry)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign upload url"))
			return
		}

		responses.WriteSuccess(w, paymentProofPresignResponse{
			UploadURL:        url,
			Object:           object,
			ExpiresInSeconds: int(cfg.UploadURLExpiry.Seconds()),
		})
	}
}
