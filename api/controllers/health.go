package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/bytefrontng/bytefront-backend/api/responses"
	"github.com/bytefrontng/bytefront-backend/pkg/config"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ByteFront-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the hard dependencies before reporting ready. A nil
// pinger is skipped so partial deployments can still report.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ByteFront-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]pinger{
			"postgres": dbP,
			"redis":    redisP,
		}
		for name, p := range checks {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dependency unavailable").
						WithDetails(map[string]any{"dependency": name}))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
