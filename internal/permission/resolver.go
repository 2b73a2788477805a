// Package permission resolves a session identity to its effective permissions.
//
// Lookups go through a short-lived cache keyed by user id. Misses fetch the
// user, their role assignments and each role's permissions from the store,
// pausing between role fetches to stay under backend rate limits. Failed
// fetches are retried with a linear backoff; when retries run out the caller
// gets a minimal read-only set instead of an error.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/tidepoint/marketplace/internal/domain"
)

var tracer = otel.Tracer("tidepoint-permission")

// fetchTimeout bounds one shared fetch including its retries.
const fetchTimeout = 30 * time.Second

// Source tells how a Result was produced.
type Source string

const (
	SourceNone     Source = "none"
	SourceCache    Source = "cache"
	SourceResolved Source = "resolved"
	SourceFallback Source = "fallback"
)

// Result is the outcome of a resolution. It never carries an error.
type Result struct {
	UserID      string   `json:"user_id,omitempty"`
	Permissions []string `json:"permissions"`
	Source      Source   `json:"source"`
}

// Allows reports whether the result grants permission p.
func (r Result) Allows(p string) bool {
	return Has(r.Permissions, p)
}

type cacheEntry struct {
	permissions []string
	storedAt    time.Time
}

type fetched struct {
	userID      string
	permissions []string
}

// Resolver maps identities to flattened permission sets.
type Resolver struct {
	store  domain.PermissionStore
	cfg    domain.PermissionConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cache  map[string]cacheEntry
	emails map[string]string

	group singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock replaces the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a resolver over store.
func NewResolver(store domain.PermissionStore, cfg domain.PermissionConfig, opts ...Option) *Resolver {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryStep <= 0 {
		cfg.RetryStep = time.Second
	}

	r := &Resolver{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
		emails: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the effective permissions for id. A nil or blank identity,
// and one the store does not know, resolve to an empty set.
func (r *Resolver) Resolve(ctx context.Context, id *domain.Identity) Result {
	if id == nil || (id.ID == "" && id.Email == "") {
		return Result{Permissions: []string{}, Source: SourceNone}
	}

	if userID, perms, ok := r.cached(id); ok {
		return Result{UserID: userID, Permissions: perms, Source: SourceCache}
	}

	ctx, span := tracer.Start(ctx, "permission.Resolve")
	defer span.End()

	key := id.ID + "|" + normalizeEmail(id.Email)
	ch := r.group.DoChan(key, func() (any, error) {
		// Callers share the fetch, so no single caller's cancellation ends it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return r.fetchWithRetry(fetchCtx, id)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		r.logger.Debug("permission resolution abandoned by caller", "user_id", id.ID, "error", ctx.Err())
		return Result{Permissions: []string{}, Source: SourceNone}
	}
	v, err := res.Val, res.Err
	span.SetAttributes(attribute.Bool("permission.shared", res.Shared))

	if errors.Is(err, domain.ErrNotFound) {
		return Result{Permissions: []string{}, Source: SourceNone}
	}
	if err != nil {
		r.logger.Warn("permission resolution exhausted, using fallback",
			"user_id", id.ID,
			"attempts", r.cfg.MaxAttempts,
			"error", err,
		)
		span.SetAttributes(attribute.String("permission.source", string(SourceFallback)))
		return Result{UserID: id.ID, Permissions: domain.FallbackPermissions(), Source: SourceFallback}
	}

	f := v.(fetched)
	span.SetAttributes(
		attribute.String("permission.source", string(SourceResolved)),
		attribute.Int("permission.count", len(f.permissions)),
	)
	return Result{UserID: f.userID, Permissions: clone(f.permissions), Source: SourceResolved}
}

// Invalidate drops the cached entry for userID.
func (r *Resolver) Invalidate(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, userID)
}

// InvalidateAll empties the cache.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cacheEntry)
	r.emails = make(map[string]string)
}

func (r *Resolver) cached(id *domain.Identity) (string, []string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := id.ID
	if userID == "" {
		userID = r.emails[normalizeEmail(id.Email)]
	}
	if userID == "" {
		return "", nil, false
	}

	entry, ok := r.cache[userID]
	if !ok || len(entry.permissions) == 0 {
		return "", nil, false
	}
	if r.now().Sub(entry.storedAt) >= r.cfg.CacheTTL {
		return "", nil, false
	}
	return userID, clone(entry.permissions), true
}

func (r *Resolver) remember(userID, email string, perms []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[userID] = cacheEntry{permissions: clone(perms), storedAt: r.now()}
	if email != "" {
		r.emails[normalizeEmail(email)] = userID
	}
}

func (r *Resolver) fetchWithRetry(ctx context.Context, id *domain.Identity) (fetched, error) {
	return backoff.Retry(ctx,
		func() (fetched, error) {
			f, err := r.fetch(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return f, backoff.Permanent(err)
			}
			return f, err
		},
		backoff.WithBackOff(&linearBackOff{step: r.cfg.RetryStep}),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Debug("permission fetch failed, retrying",
				"user_id", id.ID,
				"wait", wait,
				"error", err,
			)
		}),
	)
}

// fetch loads the user, their roles and every role's permissions, and
// caches the deduplicated union under the resolved user id.
func (r *Resolver) fetch(ctx context.Context, id *domain.Identity) (fetched, error) {
	user, err := r.store.GetUser(ctx, id.ID, id.Email)
	if err != nil {
		return fetched{}, fmt.Errorf("get user: %w", err)
	}

	roleIDs, err := r.store.ListUserRoles(ctx, user.ID)
	if err != nil {
		return fetched{}, fmt.Errorf("list roles for %s: %w", user.ID, err)
	}

	set := make(map[string]struct{})
	for i, roleID := range roleIDs {
		if i > 0 && r.cfg.RoleFetchPause > 0 {
			if err := pause(ctx, r.cfg.RoleFetchPause); err != nil {
				return fetched{}, backoff.Permanent(err)
			}
		}

		perms, err := r.store.GetRolePermissions(ctx, roleID)
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("assigned role does not exist", "user_id", user.ID, "role_id", roleID)
			continue
		}
		if err != nil {
			return fetched{}, fmt.Errorf("get permissions for role %s: %w", roleID, err)
		}
		for _, p := range perms {
			set[p] = struct{}{}
		}
	}

	perms := make([]string, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	sort.Strings(perms)

	r.remember(user.ID, user.Email, perms)

	return fetched{userID: user.ID, permissions: perms}, nil
}

// Has reports whether perms contains p.
func Has(perms []string, p string) bool {
	for _, have := range perms {
		if have == p {
			return true
		}
	}
	return false
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func clone(perms []string) []string {
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// linearBackOff waits step × attempt before each retry.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}
