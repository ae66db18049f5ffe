// Package runtime wires every component of the conversation gateway
// together into a single value, the way cmd/server/main.go's teacher
// equivalent constructed the repo/manager/session-manager/handler
// chain by hand (Design Notes §9 calls for one composition point).
package runtime

import (
	"context"
	"fmt"

	"github.com/convgateway/core/internal/config"
	"github.com/convgateway/core/internal/convlog"
	"github.com/convgateway/core/internal/convsvc"
	"github.com/convgateway/core/internal/cursors"
	"github.com/convgateway/core/internal/gatewaydir"
	"github.com/convgateway/core/internal/hub"
	"github.com/convgateway/core/internal/keypackages"
	"github.com/convgateway/core/internal/metrics"
	"github.com/convgateway/core/internal/presence"
	"github.com/convgateway/core/internal/ratelimit"
	"github.com/convgateway/core/internal/retention"
	"github.com/convgateway/core/internal/sessionsvc"
	"github.com/convgateway/core/internal/social"
	"github.com/convgateway/core/internal/store"
)

// Runtime holds every long-lived component the transport layer calls
// into.
type Runtime struct {
	Config *config.Config

	Store *store.Store
	Hub   *hub.Hub
	Log   *convlog.Log

	Cursors       *cursors.Service
	Sessions      *sessionsvc.Service
	Conversations *convsvc.Service
	Keypackages   *keypackages.Service
	Social        *social.Service
	Presence      *presence.Service

	ConvSendLimiter     *ratelimit.Limiter
	SocialPublishLimiter *ratelimit.Limiter
	DMCreateLimiter     *ratelimit.Limiter

	Retention *retention.Sweeper
	Metrics   *metrics.Metrics
	Gateways  *gatewaydir.Directory
}

// New builds every component from cfg, opens the durable store at
// cfg.DBPath, and purges the sessions in it that have already expired.
func New(cfg *config.Config) (*Runtime, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	h := hub.New(cfg.Transport.OutboundQueueSize)
	log := convlog.New(st, h)

	cursorSvc := cursors.New(st, func(ctx context.Context, deviceID string) ([]cursors.CursorRow, error) {
		rows, err := st.ListCursors(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		out := make([]cursors.CursorRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, cursors.CursorRow{ConvID: r.ConvID, NextSeq: r.NextSeq})
		}
		return out, nil
	})

	sessionSvc := sessionsvc.New(st, int64(cfg.Session.TTL/1_000_000))
	if _, err := sessionSvc.SweepExpired(context.Background()); err != nil {
		return nil, fmt.Errorf("sweep expired sessions: %w", err)
	}
	convSvc := convsvc.New(st, log, cfg.GatewayID)
	kpSvc := keypackages.New(st)
	socialSvc := social.New(st)

	presenceCfg := presence.Config{
		MaxTTLSeconds:          cfg.Presence.MaxTTLS,
		MinTTLSeconds:          cfg.Presence.MinTTLS,
		MaxWatchlistSize:       cfg.Presence.MaxWatchlistSize,
		MaxWatchersPerTarget:   cfg.Presence.MaxWatchersPerTarget,
		WatchMutationsPerMin:   cfg.RateLimit.PresenceWatchPerMin,
		RenewsPerMin:           cfg.RateLimit.PresenceRenewPerMin,
		SweeperIntervalSeconds: float64(cfg.Presence.SweeperIntervalS),
	}
	presenceSvc := presence.New(presenceCfg)

	retentionPolicy := retention.Policy{
		MaxEventsPerConv: cfg.Retention.MaxEventsPerConv,
		MaxAgeS:          cfg.Retention.MaxAgeS,
		HardLimits:       cfg.Retention.HardLimits,
		SweepIntervalS:   cfg.Retention.SweepIntervalS,
	}
	sweeper := retention.New(st, retentionPolicy, cfg.Cursor.StaleAfterS*1000)

	gateways, err := gatewaydir.Load(cfg.GatewayDirPath)
	if err != nil {
		return nil, fmt.Errorf("load gateway directory: %w", err)
	}

	return &Runtime{
		Config:               cfg,
		Store:                st,
		Hub:                  h,
		Log:                  log,
		Cursors:              cursorSvc,
		Sessions:             sessionSvc,
		Conversations:        convSvc,
		Keypackages:          kpSvc,
		Social:               socialSvc,
		Presence:             presenceSvc,
		ConvSendLimiter:      ratelimit.New(cfg.RateLimit.ConvSendsPerMin, 60_000),
		SocialPublishLimiter: ratelimit.New(cfg.RateLimit.SocialPublishesPerMin, 60_000),
		DMCreateLimiter:      ratelimit.New(cfg.RateLimit.DMCreatesPerMin, 60_000),
		Retention:            sweeper,
		Metrics:              metrics.New(),
		Gateways:             gateways,
	}, nil
}

// Start launches the retention and presence sweepers; both stop when
// ctx is cancelled.
func (rt *Runtime) Start(ctx context.Context) {
	rt.Retention.Start(ctx)
	rt.Presence.Start(ctx)
}

// Close releases the durable store.
func (rt *Runtime) Close() error {
	return rt.Store.Close()
}
