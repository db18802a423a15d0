// Package identity owns the account tier. It resolves the tier once at
// startup, persists every decision locally for offline cold starts and
// notifies subscribers about transitions.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/logger"
	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/storage"
)

// Authenticator is the remote session API the provider drives.
type Authenticator interface {
	ResolveIdentity(ctx context.Context) (models.Identity, error)
	SignIn(ctx context.Context, email, password string) (models.Identity, error)
	SignUp(ctx context.Context, email, password string) (models.Identity, error)
	SignOut(ctx context.Context) error
}

// ConnectivityChecker reports whether the remote service is reachable.
type ConnectivityChecker interface {
	CheckConnectivity(ctx context.Context) bool
}

// PingChecker treats a successful store ping as connectivity.
type PingChecker struct {
	Store   storage.DocumentStore
	Timeout time.Duration
}

func (c PingChecker) CheckConnectivity(ctx context.Context) bool {
	if c.Store == nil {
		return false
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultRemoteTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Store.Ping(ctx) == nil
}

// Offline is a ConnectivityChecker that never connects.
type Offline struct{}

func (Offline) CheckConnectivity(context.Context) bool { return false }

// ErrNoAuthenticator is returned by account operations when no remote is configured.
var ErrNoAuthenticator = fmt.Errorf("%w: no remote account service configured", storage.ErrUnavailable)

// Provider tracks the tier state machine UNKNOWN -> {FREE, PREMIUM}.
type Provider struct {
	local storage.KeyValue
	auth  Authenticator
	conn  ConnectivityChecker

	mu       sync.RWMutex
	tier     models.Tier
	identity models.Identity
	epoch    int64

	subMu     sync.Mutex
	subs      map[int]func(models.Transition)
	nextSubID int
}

// NewProvider builds a provider in the UNKNOWN state. auth may be nil for a
// local-only setup, in which case the tier always resolves to FREE.
func NewProvider(local storage.KeyValue, auth Authenticator, conn ConnectivityChecker) *Provider {
	if conn == nil {
		conn = Offline{}
	}
	return &Provider{
		local: local,
		auth:  auth,
		conn:  conn,
		subs:  make(map[int]func(models.Transition)),
	}
}

// Start resolves the startup tier. Without connectivity the cached tier is
// used (FREE if none). With connectivity a resolved identity means PREMIUM and
// anything else means FREE. Start only fails on local storage errors.
func (p *Provider) Start(ctx context.Context) (models.Tier, error) {
	var epoch int64
	if _, err := p.local.Get(ctx, constants.KeyTierEpoch, &epoch); err != nil {
		return models.TierUnknown, err
	}
	p.mu.Lock()
	p.epoch = epoch
	p.mu.Unlock()

	if p.auth == nil || !p.conn.CheckConnectivity(ctx) {
		var cached models.Tier
		if _, err := p.local.Get(ctx, constants.KeyCachedTier, &cached); err != nil {
			return models.TierUnknown, err
		}
		var identity models.Identity
		if cached == models.TierPremium {
			if _, err := p.local.Get(ctx, constants.KeyCachedIdentity, &identity); err != nil {
				return models.TierUnknown, err
			}
		}
		if cached != models.TierPremium || identity.IsZero() {
			cached, identity = models.TierFree, models.Identity{}
		}
		logger.Debug("Resolved tier from cache", "tier", cached)
		return cached, p.transition(ctx, cached, identity)
	}

	identity, err := p.auth.ResolveIdentity(ctx)
	if err != nil {
		logger.Debug("No remote identity", "error", err)
		return models.TierFree, p.transition(ctx, models.TierFree, models.Identity{})
	}
	return models.TierPremium, p.transition(ctx, models.TierPremium, identity)
}

// SignIn moves to PREMIUM on success.
func (p *Provider) SignIn(ctx context.Context, email, password string) (models.Identity, error) {
	if p.auth == nil {
		return models.Identity{}, ErrNoAuthenticator
	}
	identity, err := p.auth.SignIn(ctx, email, password)
	if err != nil {
		return models.Identity{}, err
	}
	return identity, p.transition(ctx, models.TierPremium, identity)
}

// SignUp creates an account and moves to PREMIUM on success.
func (p *Provider) SignUp(ctx context.Context, email, password string) (models.Identity, error) {
	if p.auth == nil {
		return models.Identity{}, ErrNoAuthenticator
	}
	identity, err := p.auth.SignUp(ctx, email, password)
	if err != nil {
		return models.Identity{}, err
	}
	return identity, p.transition(ctx, models.TierPremium, identity)
}

// SignOut terminates the remote session when reachable and always moves to FREE.
func (p *Provider) SignOut(ctx context.Context) error {
	p.endSession(ctx)
	return p.transition(ctx, models.TierFree, models.Identity{})
}

// ResetTier is the downgrade path. The session is ended the same way as
// SignOut so a later cold start does not resolve back to PREMIUM.
func (p *Provider) ResetTier(ctx context.Context) error {
	logger.Info("Resetting tier to free")
	p.endSession(ctx)
	return p.transition(ctx, models.TierFree, models.Identity{})
}

func (p *Provider) endSession(ctx context.Context) {
	if p.auth == nil {
		return
	}
	if err := p.auth.SignOut(ctx); err != nil {
		logger.Warn("Failed to sign out", "error", err)
	}
}

// transition persists and publishes the new state. A repeat of the current
// state is persisted but not published.
func (p *Provider) transition(ctx context.Context, to models.Tier, identity models.Identity) error {
	p.mu.Lock()
	from := p.tier
	changed := from != to || p.identity != identity
	if changed {
		p.epoch++
	}
	p.tier = to
	p.identity = identity
	ev := models.Transition{From: from, To: to, Identity: identity, Epoch: p.epoch}
	p.mu.Unlock()

	if err := p.persist(ctx, ev); err != nil {
		return err
	}
	if changed {
		logger.Info("Tier changed", "from", from, "to", to, "epoch", ev.Epoch)
		p.publish(ev)
	}
	return nil
}

func (p *Provider) persist(ctx context.Context, ev models.Transition) error {
	var errs []error
	if err := p.local.Set(ctx, constants.KeyCachedTier, ev.To); err != nil {
		errs = append(errs, err)
	}
	if err := p.local.Set(ctx, constants.KeyTierEpoch, ev.Epoch); err != nil {
		errs = append(errs, err)
	}
	if ev.Identity.IsZero() {
		if err := p.local.Remove(ctx, constants.KeyCachedIdentity); err != nil {
			errs = append(errs, err)
		}
	} else if err := p.local.Set(ctx, constants.KeyCachedIdentity, ev.Identity); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to persist tier: %w", err)
	}
	return nil
}

// Subscribe registers fn for future transitions. Callbacks run synchronously
// in the goroutine that caused the transition.
func (p *Provider) Subscribe(fn func(models.Transition)) func() {
	p.subMu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subs[id] = fn
	p.subMu.Unlock()

	return func() {
		p.subMu.Lock()
		delete(p.subs, id)
		p.subMu.Unlock()
	}
}

func (p *Provider) publish(ev models.Transition) {
	p.subMu.Lock()
	fns := make([]func(models.Transition), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Provider) Tier() models.Tier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tier
}

func (p *Provider) Identity() models.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identity
}

// Epoch is the number of transitions observed so far, across restarts.
func (p *Provider) Epoch() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.epoch
}

// IsPremium reports PREMIUM with a resolved identity.
func (p *Provider) IsPremium() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tier == models.TierPremium && !p.identity.IsZero()
}
