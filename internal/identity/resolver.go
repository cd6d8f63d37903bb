// Package identity resolves the current user's identity record with a
// bounded fetch and a degraded fallback, so the grid always renders even
// when the profile endpoint is slow or down.
package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/rf-almeida/cortegrid/internal/backend"
	"github.com/rf-almeida/cortegrid/internal/model"
)

type Resolver struct {
	backend *backend.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewResolver(client *backend.Client, timeout time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{backend: client, timeout: timeout, logger: logger}
}

// Resolve fetches the user's profile within the resolver's timeout. On error
// or timeout it falls back to the session-supplied hint; the caller gets
// degraded=true and must treat ownership comparisons as best-effort until a
// later resolve succeeds.
func (r *Resolver) Resolve(ctx context.Context, hint model.Identity) (model.Identity, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resolved, err := r.backend.FetchProfile(fetchCtx, hint.ID)
	if err != nil {
		r.logger.Warn("profile fetch failed, using cached identity", "err", err, "user", hint.ID)
		return hint, true
	}
	if resolved.ID == "" {
		resolved.ID = hint.ID
	}
	if resolved.AltID == "" {
		resolved.AltID = hint.AltID
	}
	return resolved, false
}
