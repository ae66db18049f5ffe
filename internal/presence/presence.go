// Package presence implements device liveness leases, mutual-consent
// watchlists, and block lists (§4.9). It is grounded on
// presence.py's Presence/PresenceConfig/FixedWindowRateLimiter: leases
// keyed by device_id, visibility transitions notified only on flip,
// and a ticking sweeper that expires stale leases. Block lists are a
// supplement beyond the Python original (see SPEC_FULL.md), consulted
// here for presence updates and by DM creation; conversation sends and
// social publishes do not check them.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/convgateway/core/internal/domain"
	"github.com/convgateway/core/internal/gatewayerr"
	"github.com/convgateway/core/internal/ratelimit"
)

// Config tunes lease TTLs, watchlist caps, and the sweeper cadence.
type Config struct {
	MaxTTLSeconds          int64
	MinTTLSeconds          int64
	MaxWatchlistSize       int
	MaxWatchersPerTarget   int
	WatchMutationsPerMin   int64
	RenewsPerMin           int64
	SweeperIntervalSeconds float64
}

// DefaultConfig mirrors PresenceConfig's defaults.
func DefaultConfig() Config {
	return Config{
		MaxTTLSeconds:          300,
		MinTTLSeconds:          15,
		MaxWatchlistSize:       256,
		MaxWatchersPerTarget:   256,
		WatchMutationsPerMin:   60,
		RenewsPerMin:           60,
		SweeperIntervalSeconds: 1.0,
	}
}

type lease struct {
	userID     string
	expiresAt  int64
	invisible  bool
	lastSeenMs int64
}

// NotifyFunc delivers a presence.update frame body to one connected
// device.
type NotifyFunc func(domain.PresenceStatus)

// Service implements presence leases, watch/unwatch, block/unblock,
// and the visibility-gated status projection.
type Service struct {
	cfg Config

	mu              sync.Mutex
	leases          map[string]*lease              // device_id -> lease
	deviceUser      map[string]string               // device_id -> user_id
	userDevices     map[string]map[string]struct{}  // user_id -> device_id set
	watchlists      map[string]map[string]struct{}  // watcher user_id -> target user_id set
	reverseWatchers map[string]map[string]struct{}  // target user_id -> watcher user_id set
	blocked         map[string]map[string]struct{}  // user_id -> blocked user_id set
	callbacks       map[string]NotifyFunc           // device_id -> callback

	watchRate  *ratelimit.Limiter
	renewRate  *ratelimit.Limiter
}

// New builds a Service from cfg.
func New(cfg Config) *Service {
	return &Service{
		cfg:             cfg,
		leases:          make(map[string]*lease),
		deviceUser:      make(map[string]string),
		userDevices:     make(map[string]map[string]struct{}),
		watchlists:      make(map[string]map[string]struct{}),
		reverseWatchers: make(map[string]map[string]struct{}),
		blocked:         make(map[string]map[string]struct{}),
		callbacks:       make(map[string]NotifyFunc),
		watchRate:       ratelimit.New(cfg.WatchMutationsPerMin, 60_000),
		renewRate:       ratelimit.New(cfg.RenewsPerMin, 60_000),
	}
}

// RegisterDevice attaches a connection's delivery callback so it can
// receive presence.update frames for whatever its owner watches.
func (s *Service) RegisterDevice(userID, deviceID string, notify NotifyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceUser[deviceID] = userID
	devices := s.userDevices[userID]
	if devices == nil {
		devices = make(map[string]struct{})
		s.userDevices[userID] = devices
	}
	devices[deviceID] = struct{}{}
	s.callbacks[deviceID] = notify
}

// UnregisterDevice detaches a connection's delivery callback, leaving
// its lease (if any) to expire naturally via the sweeper.
func (s *Service) UnregisterDevice(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.callbacks, deviceID)
	if userID, ok := s.deviceUser[deviceID]; ok {
		if devices := s.userDevices[userID]; devices != nil {
			delete(devices, deviceID)
			if len(devices) == 0 {
				delete(s.userDevices, userID)
			}
		}
	}
}

func clampTTL(cfg Config, ttlSeconds int64) int64 {
	if ttlSeconds < cfg.MinTTLSeconds {
		return cfg.MinTTLSeconds
	}
	if ttlSeconds > cfg.MaxTTLSeconds {
		return cfg.MaxTTLSeconds
	}
	return ttlSeconds
}

// Lease establishes or replaces userID's device_id liveness assertion.
func (s *Service) Lease(ctx context.Context, userID, deviceID string, ttlSeconds int64, invisible bool) (int64, error) {
	nowMs := domain.NowMs()
	if ok, retryAfterS := s.renewRate.Allow(deviceID, nowMs); !ok {
		return 0, gatewayerr.RateLimited(retryAfterS)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := nowMs + clampTTL(s.cfg, ttlSeconds)*1000
	prior := s.leases[deviceID]
	wasVisible := prior != nil && prior.expiresAt > nowMs && !prior.invisible

	s.leases[deviceID] = &lease{userID: userID, expiresAt: expiresAt, invisible: invisible, lastSeenMs: nowMs}

	nowVisible := expiresAt > nowMs && !invisible
	if nowVisible && !wasVisible {
		s.notifyLocked(userID, "online", expiresAt, nowMs, invisible)
	}
	if wasVisible && invisible {
		s.notifyLocked(userID, "offline", expiresAt, prior.lastSeenMs, prior.invisible)
	}
	return expiresAt, nil
}

// Renew extends an existing lease, optionally flipping its invisible
// flag; invisible nil keeps the prior value.
func (s *Service) Renew(ctx context.Context, userID, deviceID string, ttlSeconds int64, invisible *bool) (int64, error) {
	nowMs := domain.NowMs()
	if ok, retryAfterS := s.renewRate.Allow(deviceID, nowMs); !ok {
		return 0, gatewayerr.RateLimited(retryAfterS)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prior := s.leases[deviceID]
	currentInvisible := false
	if prior != nil {
		currentInvisible = prior.invisible
	}
	newInvisible := currentInvisible
	if invisible != nil {
		newInvisible = *invisible
	}

	expiresAt := nowMs + clampTTL(s.cfg, ttlSeconds)*1000
	wasVisible := prior != nil && prior.expiresAt > nowMs && !prior.invisible

	s.leases[deviceID] = &lease{userID: userID, expiresAt: expiresAt, invisible: newInvisible, lastSeenMs: nowMs}

	nowVisible := expiresAt > nowMs && !newInvisible
	if nowVisible && !wasVisible {
		s.notifyLocked(userID, "online", expiresAt, nowMs, newInvisible)
	}
	if wasVisible && newInvisible {
		s.notifyLocked(userID, "offline", expiresAt, prior.lastSeenMs, prior.invisible)
	}
	return expiresAt, nil
}

// Expire drops every lease past its expiry and broadcasts offline
// updates for the ones that were visible.
func (s *Service) Expire() {
	nowMs := domain.NowMs()

	s.mu.Lock()
	defer s.mu.Unlock()

	for deviceID, l := range s.leases {
		if l.expiresAt > nowMs {
			continue
		}
		delete(s.leases, deviceID)
		s.notifyLocked(l.userID, "offline", l.expiresAt, l.lastSeenMs, l.invisible)
	}
}

// Start launches the sweeper ticker; it stops when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	interval := time.Duration(s.cfg.SweeperIntervalSeconds * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Expire()
			case <-ctx.Done():
				slog.Info("presence sweeper stopped")
				return
			}
		}
	}()
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Watch adds contacts to watcherUserID's watchlist, enforcing the
// per-watcher and per-target caps.
func (s *Service) Watch(ctx context.Context, watcherUserID string, contacts []string) error {
	nowMs := domain.NowMs()
	if ok, retryAfterS := s.watchRate.Allow(watcherUserID, nowMs); !ok {
		return gatewayerr.RateLimited(retryAfterS)
	}
	contactSet := dedupStrings(contacts)

	s.mu.Lock()
	defer s.mu.Unlock()

	watchlist := s.watchlists[watcherUserID]
	if watchlist == nil {
		watchlist = make(map[string]struct{})
	}
	newTotal := len(watchlist)
	for _, target := range contactSet {
		if _, already := watchlist[target]; !already {
			newTotal++
		}
	}
	if newTotal > s.cfg.MaxWatchlistSize {
		return gatewayerr.LimitExceeded("watchlist too large")
	}
	for _, target := range contactSet {
		if _, already := watchlist[target]; already {
			continue
		}
		watchers := s.reverseWatchers[target]
		if len(watchers) >= s.cfg.MaxWatchersPerTarget {
			return gatewayerr.LimitExceeded("target watcher cap reached")
		}
	}

	for _, target := range contactSet {
		if _, already := watchlist[target]; already {
			continue
		}
		watchlist[target] = struct{}{}
		watchers := s.reverseWatchers[target]
		if watchers == nil {
			watchers = make(map[string]struct{})
			s.reverseWatchers[target] = watchers
		}
		watchers[watcherUserID] = struct{}{}
	}
	s.watchlists[watcherUserID] = watchlist
	return nil
}

// Unwatch removes contacts from watcherUserID's watchlist.
func (s *Service) Unwatch(ctx context.Context, watcherUserID string, contacts []string) error {
	nowMs := domain.NowMs()
	if ok, retryAfterS := s.watchRate.Allow(watcherUserID, nowMs); !ok {
		return gatewayerr.RateLimited(retryAfterS)
	}
	contactSet := dedupStrings(contacts)

	s.mu.Lock()
	defer s.mu.Unlock()

	watchlist := s.watchlists[watcherUserID]
	for _, target := range contactSet {
		if _, present := watchlist[target]; !present {
			continue
		}
		delete(watchlist, target)
		if watchers := s.reverseWatchers[target]; watchers != nil {
			delete(watchers, watcherUserID)
			if len(watchers) == 0 {
				delete(s.reverseWatchers, target)
			}
		}
	}
	if len(watchlist) == 0 {
		delete(s.watchlists, watcherUserID)
	}
	return nil
}

// WatchlistSize reports how many contacts watcherUserID currently
// watches.
func (s *Service) WatchlistSize(watcherUserID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchlists[watcherUserID])
}

// Block adds contacts to userID's block list, returning its new size.
func (s *Service) Block(ctx context.Context, userID string, contacts []string) (int, error) {
	contactSet := dedupStrings(contacts)

	s.mu.Lock()
	defer s.mu.Unlock()

	blocked := s.blocked[userID]
	if blocked == nil {
		blocked = make(map[string]struct{})
		s.blocked[userID] = blocked
	}
	for _, target := range contactSet {
		if target == userID {
			continue
		}
		blocked[target] = struct{}{}
	}
	return len(blocked), nil
}

// Unblock removes contacts from userID's block list, returning its
// new size.
func (s *Service) Unblock(ctx context.Context, userID string, contacts []string) (int, error) {
	contactSet := dedupStrings(contacts)

	s.mu.Lock()
	defer s.mu.Unlock()

	blocked := s.blocked[userID]
	for _, target := range contactSet {
		delete(blocked, target)
	}
	if len(blocked) == 0 {
		delete(s.blocked, userID)
	}
	return len(blocked), nil
}

// BlockList returns userID's blocked contacts, sorted ascending.
func (s *Service) BlockList(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.blocked[userID]))
	for target := range s.blocked[userID] {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// IsBlocked reports whether a and b have blocked each other in either
// direction -- consulted by DM creation and conv send before either
// side is allowed to reach the other.
func (s *Service) IsBlocked(a, b string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockedLocked(a, b)
}

func (s *Service) blockedLocked(a, b string) bool {
	if blocked := s.blocked[a]; blocked != nil {
		if _, ok := blocked[b]; ok {
			return true
		}
	}
	if blocked := s.blocked[b]; blocked != nil {
		if _, ok := blocked[a]; ok {
			return true
		}
	}
	return false
}

// mutualVisibleLocked reports whether watcher is entitled to see
// target's presence: both sides watch each other and neither has
// blocked the other.
func (s *Service) mutualVisibleLocked(watcher, target string) bool {
	if s.blockedLocked(watcher, target) {
		return false
	}
	watchlist := s.watchlists[watcher]
	if _, wantsTarget := watchlist[target]; !wantsTarget {
		return false
	}
	targetWatchlist := s.watchlists[target]
	if _, targetWantsWatcher := targetWatchlist[watcher]; !targetWantsWatcher {
		return false
	}
	return true
}

// eligibleWatchersLocked yields the user_ids entitled to targetUserID's
// presence broadcasts right now.
func (s *Service) eligibleWatchersLocked(targetUserID string) []string {
	watchers := s.reverseWatchers[targetUserID]
	out := make([]string, 0, len(watchers))
	for watcher := range watchers {
		if s.mutualVisibleLocked(watcher, targetUserID) {
			out = append(out, watcher)
		}
	}
	return out
}

// notifyLocked delivers a presence.update to every eligible watcher's
// registered devices; a no-op for invisible leases.
func (s *Service) notifyLocked(targetUserID, status string, expiresAtMs, lastSeenMs int64, invisible bool) {
	if invisible {
		return
	}
	ageSeconds := float64(domain.NowMs()-lastSeenMs) / 1000
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	update := domain.PresenceStatus{
		UserID:         targetUserID,
		Status:         status,
		LastSeenBucket: domain.LastSeenBucket(ageSeconds),
		ExpiresAtMs:    expiresAtMs,
	}
	for _, watcherUserID := range s.eligibleWatchersLocked(targetUserID) {
		for deviceID := range s.userDevices[watcherUserID] {
			if cb := s.callbacks[deviceID]; cb != nil {
				cb(update)
			}
		}
	}
}

// Status projects contacts' presence for requestingUserID, applying
// the same mutual-consent-and-not-blocked gate as live broadcasts;
// contacts the requester isn't entitled to see report offline with no
// last_seen_bucket or expires_at. Results are sorted by user_id.
func (s *Service) Status(ctx context.Context, requestingUserID string, contacts []string) []domain.PresenceStatus {
	contactSet := dedupStrings(contacts)
	sort.Strings(contactSet)

	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := domain.NowMs()
	out := make([]domain.PresenceStatus, 0, len(contactSet))
	for _, target := range contactSet {
		entry := domain.PresenceStatus{UserID: target, Status: "offline"}
		if s.mutualVisibleLocked(requestingUserID, target) {
			if lastSeenMs, expiresAt, invisible, ok := s.latestLeaseLocked(target); ok {
				entry.ExpiresAtMs = expiresAt
				ageSeconds := float64(nowMs-lastSeenMs) / 1000
				if ageSeconds < 0 {
					ageSeconds = 0
				}
				entry.LastSeenBucket = domain.LastSeenBucket(ageSeconds)
				if expiresAt > nowMs && !invisible {
					entry.Status = "online"
				}
			}
		}
		out = append(out, entry)
	}
	return out
}

// latestLeaseLocked returns the most recently seen lease across every
// device userID currently holds one for.
func (s *Service) latestLeaseLocked(userID string) (lastSeenMs, expiresAt int64, invisible bool, ok bool) {
	for deviceID := range s.userDevices[userID] {
		l := s.leases[deviceID]
		if l == nil {
			continue
		}
		if !ok || l.lastSeenMs > lastSeenMs {
			lastSeenMs, expiresAt, invisible, ok = l.lastSeenMs, l.expiresAt, l.invisible, true
		}
	}
	if ok {
		return lastSeenMs, expiresAt, invisible, true
	}
	for _, l := range s.leases {
		if l.userID != userID {
			continue
		}
		if !ok || l.lastSeenMs > lastSeenMs {
			lastSeenMs, expiresAt, invisible, ok = l.lastSeenMs, l.expiresAt, l.invisible, true
		}
	}
	return
}
