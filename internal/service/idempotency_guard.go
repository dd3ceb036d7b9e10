package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/observability"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	defaultClaimTTL       = 30 * time.Second
	auditWriteTimeout     = 5 * time.Second
)

// Replay sources reported to metrics.
const (
	replaySourceCache = "cache"
	replaySourceStore = "store"
)

// CommandFunc executes a mutating command and returns the response to store.
type CommandFunc func(ctx context.Context) (status int, payload []byte, err error)

// IdempotencyGuard makes mutating commands safe to retry. A key is claimed in
// the cache and in the durable store before the command runs; a successful
// response is stored under the key and replayed verbatim to later callers.
type IdempotencyGuard struct {
	cache    ports.IdempotencyCache
	repo     ports.IdempotencyRepository
	ttl      time.Duration
	claimTTL time.Duration
	metrics  *observability.Metrics
	log      zerolog.Logger
	now      func() time.Time
	audits   sync.WaitGroup
}

// NewIdempotencyGuard creates an IdempotencyGuard. Zero TTLs fall back to
// 24h for stored responses and 30s for claims.
func NewIdempotencyGuard(
	cache ports.IdempotencyCache,
	repo ports.IdempotencyRepository,
	ttl, claimTTL time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	return &IdempotencyGuard{
		cache:    cache,
		repo:     repo,
		ttl:      ttl,
		claimTTL: claimTTL,
		metrics:  metrics,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// claimState records which stores hold the caller's claim.
type claimState struct {
	cache   bool
	durable bool
}

// Execute runs cmd at most once per (userID, key) within the retention
// window. Failed commands are not stored, so the caller may retry them.
func (g *IdempotencyGuard) Execute(ctx context.Context, userID uuid.UUID, key string, cmd CommandFunc) (*ports.CommandOutcome, error) {
	if strings.TrimSpace(key) == "" {
		return nil, apperror.ErrIdempotencyKeyRequired()
	}
	cacheKey := domain.BuildIdempotencyKey(userID, key)

	// Layer 1: cache
	cached, err := g.cache.Get(ctx, cacheKey)
	if err != nil {
		g.log.Warn().Err(err).Str("key", cacheKey).Msg("idempotency cache lookup failed, falling through to store")
	}
	if cached != nil {
		var rec domain.IdempotencyRecord
		if err := json.Unmarshal(cached, &rec); err != nil {
			g.log.Warn().Err(err).Str("key", cacheKey).Msg("discarding unreadable idempotency cache entry")
		} else if rec.Pending() {
			g.metrics.IdempotentConflict()
			return nil, apperror.ErrIdempotencyInProgress()
		} else {
			g.metrics.IdempotentReplay(replaySourceCache)
			return replayed(&rec), nil
		}
	}

	// Layer 2: durable store
	stored, err := g.repo.Get(ctx, userID, key)
	if err != nil {
		g.log.Warn().Err(err).Str("key", cacheKey).Msg("idempotency store lookup failed")
	}
	if stored != nil && !stored.Expired(g.now()) {
		if stored.Pending() {
			g.metrics.IdempotentConflict()
			return nil, apperror.ErrIdempotencyInProgress()
		}
		g.metrics.IdempotentReplay(replaySourceStore)
		g.prime(ctx, cacheKey, stored)
		return replayed(stored), nil
	}

	held, err := g.claim(ctx, cacheKey, userID, key)
	if err != nil {
		return nil, err
	}

	status, payload, err := cmd(ctx)
	if err != nil {
		g.release(ctx, cacheKey, userID, key, held)
		return nil, err
	}

	now := g.now()
	rec := &domain.IdempotencyRecord{
		Key:             key,
		UserID:          &userID,
		State:           domain.IdempotencyStored,
		ResponseStatus:  status,
		ResponsePayload: payload,
		CreatedAt:       now,
		ExpiresAt:       now.Add(g.ttl),
	}
	if g.prime(ctx, cacheKey, rec) {
		g.audit(ctx, rec)
	} else {
		// The store is the only record of the response.
		g.persist(ctx, rec)
	}

	return &ports.CommandOutcome{Status: status, Payload: payload}, nil
}

// Drain waits for pending durable writes.
func (g *IdempotencyGuard) Drain() {
	g.audits.Wait()
}

// PurgeExpired removes durable records past their retention window.
func (g *IdempotencyGuard) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := g.repo.PurgeExpired(ctx, g.now())
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	g.metrics.IdempotencyPurge(n)
	return n, nil
}

// claim takes the key in both stores. The cache claim is the fast path; the
// durable claim is decided by the UNIQUE (user_id, key) constraint and keeps
// the key exclusive while the cache is down. At least one store must grant
// the claim.
func (g *IdempotencyGuard) claim(ctx context.Context, cacheKey string, userID uuid.UUID, key string) (claimState, error) {
	var held claimState
	now := g.now()
	pending := &domain.IdempotencyRecord{
		Key:       key,
		UserID:    &userID,
		State:     domain.IdempotencyPending,
		CreatedAt: now,
		ExpiresAt: now.Add(g.claimTTL),
	}

	marker, err := json.Marshal(pending)
	if err != nil {
		return held, apperror.InternalError(fmt.Errorf("encode idempotency claim: %w", err))
	}
	won, cacheErr := g.cache.SetNX(ctx, cacheKey, marker, g.claimTTL)
	if cacheErr != nil {
		g.log.Warn().Err(cacheErr).Str("key", cacheKey).Msg("idempotency cache claim failed, claiming in store only")
	} else if !won {
		g.metrics.IdempotentConflict()
		return held, apperror.ErrIdempotencyInProgress()
	}
	held.cache = cacheErr == nil

	won, storeErr := g.repo.Claim(ctx, pending)
	switch {
	case storeErr != nil && !held.cache:
		g.log.Error().Err(storeErr).Str("key", cacheKey).Msg("idempotency key cannot be claimed in any store")
		return held, apperror.ErrIdempotencyUnavailable(errors.Join(cacheErr, storeErr))
	case storeErr != nil:
		g.log.Warn().Err(storeErr).Str("key", cacheKey).Msg("idempotency store claim failed, relying on cache claim")
	case !won:
		g.release(ctx, cacheKey, userID, key, held)
		g.metrics.IdempotentConflict()
		return claimState{}, apperror.ErrIdempotencyInProgress()
	default:
		held.durable = true
	}
	return held, nil
}

// release gives up the claims held so the key can be retried.
func (g *IdempotencyGuard) release(ctx context.Context, cacheKey string, userID uuid.UUID, key string, held claimState) {
	if held.cache {
		if err := g.cache.Delete(ctx, cacheKey); err != nil {
			g.log.Warn().Err(err).Str("key", cacheKey).Msg("failed to release idempotency claim")
		}
	}
	if held.durable {
		if err := g.repo.Release(ctx, userID, key); err != nil {
			g.log.Warn().Err(err).Str("key", cacheKey).Msg("failed to release durable idempotency claim")
		}
	}
}

// prime writes a stored record to the cache for the rest of its lifetime. It
// reports whether the cache now holds the record.
func (g *IdempotencyGuard) prime(ctx context.Context, cacheKey string, rec *domain.IdempotencyRecord) bool {
	ttl := rec.ExpiresAt.Sub(g.now())
	if ttl <= 0 {
		return false
	}
	data, err := json.Marshal(rec)
	if err != nil {
		g.log.Error().Err(err).Str("key", cacheKey).Msg("failed to encode idempotency record")
		return false
	}
	if err := g.cache.Set(ctx, cacheKey, data, ttl); err != nil {
		g.log.Warn().Err(err).Str("key", cacheKey).Msg("failed to cache idempotency record")
		return false
	}
	return true
}

// audit persists the record in the background. The request context may end
// before the write does.
func (g *IdempotencyGuard) audit(ctx context.Context, rec *domain.IdempotencyRecord) {
	g.audits.Add(1)
	go func() {
		defer g.audits.Done()
		g.persist(ctx, rec)
	}()
}

func (g *IdempotencyGuard) persist(ctx context.Context, rec *domain.IdempotencyRecord) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := g.repo.Create(writeCtx, rec); err != nil {
		g.log.Error().Err(err).Str("key", rec.Key).Msg("failed to persist idempotency record")
	}
}

func replayed(rec *domain.IdempotencyRecord) *ports.CommandOutcome {
	return &ports.CommandOutcome{
		Status:   rec.ResponseStatus,
		Payload:  rec.ResponsePayload,
		Replayed: true,
	}
}
