// Package social implements the signed social event chain (§4.8):
// publish (verify + chain + persist), profile projection, and
// cursor-paginated feed listing. Event identity, canonical hashing and
// signature verification are grounded on social.py's derive_user_id/
// canonical_bytes/compute_event_id and spec.md §9's canonical JSON
// contract; cursor encoding reproduces social.py's encode_cursor/
// decode_cursor verbatim (base64url of {"ts":<ms>,"event_id":<id>}).
package social

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/convgateway/core/internal/crypto"
	"github.com/convgateway/core/internal/domain"
	"github.com/convgateway/core/internal/gatewayerr"
)

// Backend is the subset of internal/store.Store social needs.
type Backend interface {
	UpsertSocialEvent(ctx context.Context, event domain.SocialEvent) (domain.SocialEvent, error)
	GetSocialEvent(ctx context.Context, eventID string) (*domain.SocialEvent, error)
	LatestHashForUser(ctx context.Context, userID string) (string, error)
	ListChainForUser(ctx context.Context, userID string) ([]domain.SocialEvent, error)
	ListFeed(ctx context.Context, userID string, startTSMs int64, startEventID string, limit int64) ([]domain.SocialEvent, bool, error)
}

// Service implements the social event chain.
type Service struct {
	backend Backend
}

// New builds a Service.
func New(backend Backend) *Service {
	return &Service{backend: backend}
}

// Publish verifies event's signature against the prev_hash the client
// actually signed over, requires that value match the stored chain
// head (or both be empty), and persists the event, idempotent on
// event_hash (§4.8 step 3, §7).
func (s *Service) Publish(ctx context.Context, userID string, kind string, payload map[string]any, tsMs int64, prevHash, sigB64 string) (domain.SocialEvent, error) {
	canonical, err := crypto.SocialEventCanonical(kind, payload, prevHash, tsMs, userID)
	if err != nil {
		return domain.SocialEvent{}, fmt.Errorf("canonicalize event: %w", err)
	}
	ok, err := crypto.VerifySignature(userID, canonical, sigB64)
	if err != nil || !ok {
		return domain.SocialEvent{}, gatewayerr.Unauthorized("signature verification failed")
	}

	eventHash := crypto.SHA256Hex(canonical)

	// a replay of an already-stored event succeeds silently, even if
	// the head has since advanced past it.
	if existing, err := s.backend.GetSocialEvent(ctx, eventHash); err != nil {
		return domain.SocialEvent{}, fmt.Errorf("lookup existing event: %w", err)
	} else if existing != nil {
		return *existing, nil
	}

	currentHead, err := s.backend.LatestHashForUser(ctx, userID)
	if err != nil {
		return domain.SocialEvent{}, fmt.Errorf("read chain head: %w", err)
	}
	if prevHash != currentHead {
		return domain.SocialEvent{}, gatewayerr.Invalid("prev_hash does not match the current chain head")
	}

	event := domain.SocialEvent{
		EventID:   eventHash,
		UserID:    userID,
		PrevHash:  prevHash,
		TSMs:      tsMs,
		Kind:      kind,
		Payload:   payload,
		SigB64:    sigB64,
		EventHash: eventHash,
	}
	stored, err := s.backend.UpsertSocialEvent(ctx, event)
	if err != nil {
		return domain.SocialEvent{}, fmt.Errorf("persist social event: %w", err)
	}
	return stored, nil
}

// Profile builds the last-writer-wins projection of a user's chain.
func (s *Service) Profile(ctx context.Context, userID string) (domain.ProfileView, error) {
	chain, err := s.backend.ListChainForUser(ctx, userID)
	if err != nil {
		return domain.ProfileView{}, fmt.Errorf("list chain: %w", err)
	}
	view := domain.ProfileView{UserID: userID}
	friends := map[string]struct{}{}
	var posts []domain.SocialEvent

	for _, e := range chain {
		switch e.Kind {
		case domain.SocialKindUsername:
			if v, ok := e.Payload["value"].(string); ok {
				view.Username = v
			}
		case domain.SocialKindDescription:
			if v, ok := e.Payload["value"].(string); ok {
				view.Description = v
			}
		case domain.SocialKindAvatar:
			if v, ok := e.Payload["value"].(string); ok {
				view.Avatar = v
			}
		case domain.SocialKindBanner:
			if v, ok := e.Payload["value"].(string); ok {
				view.Banner = v
			}
		case domain.SocialKindInterests:
			view.Interests = e.Payload["value"]
		case domain.SocialKindFollow:
			target, _ := e.Payload["target_user_id"].(string)
			follow, _ := e.Payload["follow"].(bool)
			if target == "" {
				continue
			}
			if follow {
				friends[target] = struct{}{}
			} else {
				delete(friends, target)
			}
		case domain.SocialKindPost:
			posts = append(posts, e)
		}
	}

	for target := range friends {
		view.Friends = append(view.Friends, target)
	}
	if len(posts) > 10 {
		posts = posts[len(posts)-10:]
	}
	for i, j := 0, len(posts)-1; i < j; i, j = i+1, j-1 {
		posts[i], posts[j] = posts[j], posts[i]
	}
	view.LatestPosts = posts
	return view, nil
}

// feedCursor is the decoded shape of a feed pagination cursor.
type feedCursor struct {
	TS      int64  `json:"ts"`
	EventID string `json:"event_id"`
}

// EncodeCursor renders a feed position as the wire cursor string.
func EncodeCursor(tsMs int64, eventID string) string {
	payload, _ := json.Marshal(feedCursor{TS: tsMs, EventID: eventID})
	return base64.RawURLEncoding.EncodeToString(payload)
}

// DecodeCursor parses a feed cursor, defaulting to the start of time
// when cursor is empty.
func DecodeCursor(cursor string) (tsMs int64, eventID string, err error) {
	if cursor == "" {
		return 0, "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", gatewayerr.Invalid("invalid cursor")
	}
	var c feedCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return 0, "", gatewayerr.Invalid("invalid cursor")
	}
	return c.TS, c.EventID, nil
}

// Feed returns one page of userID's events strictly after cursor, the
// next cursor (empty when there's no more), and whether more remain.
func (s *Service) Feed(ctx context.Context, userID, cursor string, limit int64) ([]domain.SocialEvent, string, bool, error) {
	startTS, startEventID, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", false, err
	}
	events, hasMore, err := s.backend.ListFeed(ctx, userID, startTS, startEventID, limit)
	if err != nil {
		return nil, "", false, fmt.Errorf("list feed: %w", err)
	}
	nextCursor := ""
	if hasMore && len(events) > 0 {
		last := events[len(events)-1]
		nextCursor = EncodeCursor(last.TSMs, last.EventID)
	}
	return events, nextCursor, hasMore, nil
}
