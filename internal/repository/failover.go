package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"gharsathi/internal/domain"
	"gharsathi/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverIdentityLookup asks the primary directory first and falls back to a
// secondary one (usually the static config seed) when the primary errors or
// does not know the actor.
type FailoverIdentityLookup struct {
	primary   domain.IdentityLookup
	fallback  domain.IdentityLookup
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverIdentityLookup(primary, fallback domain.IdentityLookup, logger *zerolog.Logger) *FailoverIdentityLookup {
	return &FailoverIdentityLookup{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverIdentityLookup) GetActor(ctx context.Context, id string) (*models.Actor, error) {
	if r.isDown.Load() && time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval {
		// Try to recover
		r.isDown.Store(false)
	}

	if !r.isDown.Load() {
		actor, err := r.primary.GetActor(ctx, id)
		if err == nil {
			return actor, nil
		}
		if !errors.Is(err, models.ErrActorNotFound) {
			r.logger.Error().Err(err).Msg("Primary identity lookup failed, falling back to static directory")
			r.markDown()
		}
	}

	return r.fallback.GetActor(ctx, id)
}

func (r *FailoverIdentityLookup) markDown() {
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}
