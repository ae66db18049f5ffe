// Package convlog is the service-layer wrapper around the durable
// conversation log: it serializes appends to the same conversation
// behind a per-conv_id critical section on top of internal/store's
// SQLite-level atomicity, and fans newly appended events out through
// internal/hub. Retention pruning calls internal/store directly and
// does not take this critical section.
package convlog

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/convgateway/core/internal/domain"
	"github.com/convgateway/core/internal/gatewayerr"
	"github.com/convgateway/core/internal/hub"
)

// stripeCount bounds how many conversations can be mid-critical-section
// at once; conv_ids hash-bucket into one of these mutexes rather than
// each getting its own, keeping memory bounded under high conv_id
// cardinality.
const stripeCount = 256

type stripedLock struct {
	mus [stripeCount]sync.Mutex
}

func (l *stripedLock) lock(convID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(convID))
	idx := h.Sum32() % stripeCount
	l.mus[idx].Lock()
	return l.mus[idx].Unlock
}

// Backend is the subset of internal/store.Store that Log needs.
type Backend interface {
	AppendEvent(ctx context.Context, convID, msgID, envB64, senderDeviceID string, tsMs int64) (domain.ConversationEvent, bool, error)
	ListFrom(ctx context.Context, convID string, fromSeq, limit int64) ([]domain.ConversationEvent, error)
	Bounds(ctx context.Context, convID string) (earliestSeq, latestSeq, latestTSMs *int64, err error)
}

// Log serializes appends per conversation and broadcasts freshly
// created events to subscribers.
type Log struct {
	backend Backend
	hub     *hub.Hub
	locks   stripedLock
}

// New builds a Log over backend, broadcasting through h.
func New(backend Backend, h *hub.Hub) *Log {
	return &Log{backend: backend, hub: h}
}

// Append appends one event to convID under that conversation's striped
// lock, idempotent on (conv_id, msg_id); newly created events are
// broadcast to subscribers, replays of an existing msg_id are not.
func (l *Log) Append(ctx context.Context, convID, msgID, envB64, senderDeviceID string, tsMs int64) (domain.ConversationEvent, error) {
	unlock := l.locks.lock(convID)
	defer unlock()

	event, created, err := l.backend.AppendEvent(ctx, convID, msgID, envB64, senderDeviceID, tsMs)
	if err != nil {
		return domain.ConversationEvent{}, err
	}
	if created && l.hub != nil {
		l.hub.Broadcast(event)
	}
	return event, nil
}

// Since returns events for convID from fromSeq onward, rejecting a
// fromSeq that has already been pruned past the earliest retained
// event (§4.6/§7 replay_window_exceeded).
func (l *Log) Since(ctx context.Context, convID string, fromSeq, limit int64) ([]domain.ConversationEvent, error) {
	earliest, latest, _, err := l.backend.Bounds(ctx, convID)
	if err != nil {
		return nil, err
	}
	if earliest != nil && fromSeq < *earliest && fromSeq > 0 {
		latestSeq := int64(0)
		if latest != nil {
			latestSeq = *latest
		}
		return nil, gatewayerr.ReplayWindowExceeded(convID, fromSeq, *earliest, latestSeq)
	}
	return l.backend.ListFrom(ctx, convID, fromSeq, limit)
}

// Bounds exposes the conversation's earliest/latest seq and latest
// timestamp, nil all around when there are no events yet.
func (l *Log) Bounds(ctx context.Context, convID string) (earliestSeq, latestSeq, latestTSMs *int64, err error) {
	return l.backend.Bounds(ctx, convID)
}
