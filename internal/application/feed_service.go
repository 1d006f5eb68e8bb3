package application

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const feedTokenBytes = 32

// FeedRenderer encodes feed entries into a calendar document.
type FeedRenderer interface {
	Render(name string, entries []FeedEntry) ([]byte, error)
}

// FeedServiceDeps groups the collaborators of FeedService.
type FeedServiceDeps struct {
	Resources     ResourceCatalog
	Bookings      BookingStore
	Subscriptions SubscriptionStore
	Renderer      FeedRenderer
	// Horizon limits how far back a feed without a range start reaches.
	Horizon     time.Duration
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// FeedService manages calendar feed subscriptions and renders feeds.
type FeedService struct {
	resources     ResourceCatalog
	bookings      BookingStore
	subscriptions SubscriptionStore
	renderer      FeedRenderer
	horizon       time.Duration
	idGenerator   func() string
	now           func() time.Time
	logger        *slog.Logger
}

// NewFeedService wires dependencies for calendar feeds.
func NewFeedService(deps FeedServiceDeps) *FeedService {
	if deps.IDGenerator == nil {
		deps.IDGenerator = uuid.NewString
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &FeedService{
		resources:     deps.Resources,
		bookings:      deps.Bookings,
		subscriptions: deps.Subscriptions,
		renderer:      deps.Renderer,
		horizon:       deps.Horizon,
		idGenerator:   deps.IDGenerator,
		now:           deps.Now,
		logger:        defaultLogger(deps.Logger),
	}
}

// HashToken returns the digest under which a feed token is stored.
func HashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Subscribe issues a new feed token for the user and deactivates any previous one.
func (s *FeedService) Subscribe(ctx context.Context, req SubscribeRequest) (SubscriptionGrant, error) {
	if s == nil {
		return SubscriptionGrant{}, fmt.Errorf("FeedService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "FeedService", "Subscribe", "user_id", req.UserID)

	now := s.now()
	vErr := &ValidationError{}
	if strings.TrimSpace(req.UserID) == "" {
		vErr.add("user_id", "user is required")
	}
	for _, status := range req.Statuses {
		if !status.Valid() {
			vErr.add("statuses", fmt.Sprintf("unknown status %q", status))
			break
		}
	}
	if req.From != nil && req.To != nil && !req.To.After(*req.From) {
		vErr.add("to", "range end must be after range start")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		vErr.add("expires_at", "expiry must be in the future")
	}
	if vErr.HasErrors() {
		return SubscriptionGrant{}, vErr
	}

	token, err := newFeedToken()
	if err != nil {
		return SubscriptionGrant{}, fmt.Errorf("generate feed token: %w", err)
	}
	subscription := CalendarSubscription{
		ID:           s.idGenerator(),
		UserID:       req.UserID,
		TokenHash:    HashToken(token),
		StatusFilter: req.Statuses,
		RangeStart:   req.From,
		RangeEnd:     req.To,
		IsActive:     true,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    now,
	}
	if err := s.subscriptions.ReplaceSubscription(ctx, subscription); err != nil {
		err = mapRepoError("store subscription", err)
		logger.WarnContext(ctx, "subscription not stored", "error", err, "error_kind", ErrorKind(err))
		return SubscriptionGrant{}, err
	}

	logger.InfoContext(ctx, "feed subscription issued", "subscription_id", subscription.ID)
	return SubscriptionGrant{Subscription: subscription, Token: token}, nil
}

// Revoke deactivates every active subscription of the user and returns how many were revoked.
func (s *FeedService) Revoke(ctx context.Context, userID string) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("FeedService is nil")
	}
	revoked, err := s.subscriptions.DeactivateSubscriptions(ctx, userID)
	if err != nil {
		return 0, mapRepoError("revoke subscriptions", err)
	}
	serviceLogger(ctx, s.logger, "FeedService", "Revoke", "user_id", userID).
		InfoContext(ctx, "feed subscriptions revoked", "count", revoked)
	return revoked, nil
}

// Render returns the calendar document for the subscription identified by token.
func (s *FeedService) Render(ctx context.Context, token string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("FeedService is nil")
	}
	if s.renderer == nil {
		return nil, fmt.Errorf("FeedService renderer not configured")
	}
	if strings.TrimSpace(token) == "" {
		return nil, ErrNotFound
	}

	subscription, err := s.subscriptions.GetSubscriptionByTokenHash(ctx, HashToken(token))
	if err != nil {
		return nil, mapRepoError("load subscription", err)
	}
	logger := serviceLogger(ctx, s.logger, "FeedService", "Render", "subscription_id", subscription.ID)

	now := s.now()
	if !subscription.IsActive || (subscription.ExpiresAt != nil && !subscription.ExpiresAt.After(now)) {
		return nil, ErrSubscriptionInactive
	}

	filter := BookingFilter{
		RequesterID: subscription.UserID,
		Statuses:    subscription.StatusFilter,
		From:        subscription.RangeStart,
		To:          subscription.RangeEnd,
	}
	if filter.From == nil && s.horizon > 0 {
		from := now.Add(-s.horizon)
		filter.From = &from
	}
	bookings, err := s.bookings.ListBookings(ctx, filter)
	if err != nil {
		return nil, mapRepoError("list bookings", err)
	}

	entries := make([]FeedEntry, 0, len(bookings))
	titles := make(map[string]Resource)
	for _, booking := range bookings {
		resource, ok := titles[booking.ResourceID]
		if !ok {
			resource, err = s.resources.GetResource(ctx, booking.ResourceID)
			if err != nil {
				resource = Resource{ID: booking.ResourceID, Title: booking.ResourceID}
			}
			titles[booking.ResourceID] = resource
		}
		entry := FeedEntry{Booking: booking, ResourceTitle: resource.Title}
		if resource.Location != nil {
			entry.Location = *resource.Location
		}
		entries = append(entries, entry)
	}

	body, err := s.renderer.Render("Bookings", entries)
	if err != nil {
		return nil, fmt.Errorf("render feed: %w", err)
	}
	if err := s.subscriptions.RecordSubscriptionAccess(ctx, subscription.ID, now); err != nil {
		logger.WarnContext(ctx, "feed access not recorded", "error", err)
	}
	logger.DebugContext(ctx, "feed rendered", "events", len(entries))
	return body, nil
}

func newFeedToken() (string, error) {
	buf := make([]byte, feedTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
