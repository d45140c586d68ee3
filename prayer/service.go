// Package prayer implements the app's data services (prayer sessions,
// candles, intentions, mass orders and profiles) on top of a cached gateway
// to the remote backend.
package prayer

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oremus/go-common/cache"
	"github.com/oremus/go-common/gateway"
	"github.com/oremus/go-common/logger"
	"github.com/oremus/go-common/resilience"
)

var (
	ErrNotAuthenticated = errors.New("user not authenticated")
	ErrAlreadyPraying   = errors.New("already praying for this intention")
)

const (
	// ActivePrayerWindow is how recent a session must be to count as active.
	ActivePrayerWindow = 30 * time.Minute

	DefaultHistoryLimit   = 20
	DefaultIntentionLimit = 20
	DefaultChurchLimit    = 10
)

const (
	keyActivePrayerCount = "active_prayer_count"
	keyCandleLocations   = "active_candle_locations"
	tagPublicIntentions  = "public_intentions"
)

const (
	ttlActivePrayerCount = time.Minute
	ttlPrayerHistory     = 10 * time.Minute
	ttlCandle            = 2 * time.Minute
	ttlCandleLocations   = 30 * time.Second
	ttlPublicIntentions  = 3 * time.Minute
	ttlChurches          = 30 * time.Minute
	ttlMassOrders        = 5 * time.Minute
	ttlProfile           = 10 * time.Minute
)

func historyKey(userID string, limit int) string {
	return fmt.Sprintf("prayer_history_%s_%d", userID, limit)
}

func historyTag(userID string) string {
	return "prayer_history:" + userID
}

func candleKey(candleID string) string {
	return "candle_" + candleID
}

func intentionsKey(limit int) string {
	return fmt.Sprintf("public_intentions_%d", limit)
}

func churchesKey(city string, limit int) string {
	if city == "" {
		city = "all"
	}
	return fmt.Sprintf("churches_%s_%d", city, limit)
}

func massOrdersKey(userID string) string {
	return "mass_orders_" + userID
}

func profileKey(userID string) string {
	return "user_profile_" + userID
}

// Service exposes the domain operations. Reads are served from the cache
// when fresh; writes go to the backend and invalidate what they change.
type Service struct {
	backend Backend
	gateway *gateway.Gateway
	now     func() time.Time
	logger  logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger best-effort failures are reported to.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) { s.logger = log }
}

// NewService returns a Service calling backend through gw.
func NewService(backend Backend, gw *gateway.Gateway, opts ...Option) *Service {
	s := &Service{backend: backend, gateway: gw, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.NewConsoleLogger(logger.LevelWarn)
	}
	s.logger = s.logger.WithPrefix("[prayer]")
	return s
}

func (s *Service) retrier() *resilience.Retrier {
	return s.gateway.Retrier()
}

func (s *Service) classify(err error, label string) error {
	return s.retrier().Classifier().Classify(err, label)
}

// userID resolves the signed-in user. A missing user is not retried.
func (s *Service) userID(ctx context.Context, label string) (string, error) {
	id, err := resilience.WithRetry(ctx, s.retrier(), label, s.backend.CurrentUserID)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", s.classify(ErrNotAuthenticated, label)
	}
	return id, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func orEmpty[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

func (s *Service) sessionTargets(userID string) []gateway.Target {
	return []gateway.Target{gateway.Key(keyActivePrayerCount), gateway.Tag(historyTag(userID))}
}

func (s *Service) newSession(userID, candleID, prayerType, intention string) PrayerSession {
	return PrayerSession{
		UserID:        userID,
		CandleID:      optional(candleID),
		PrayerType:    prayerType,
		IntentionText: optional(intention),
		StartedAt:     s.now().UTC(),
		IsActive:      true,
	}
}

// SignUp creates an account and its profile row.
func (s *Service) SignUp(ctx context.Context, email, password, fullName string) (string, error) {
	return resilience.WithRetry(ctx, s.retrier(), "SignUp", func(ctx context.Context) (string, error) {
		id, err := s.backend.SignUp(ctx, email, password, fullName)
		if err != nil {
			return "", err
		}
		if err := s.backend.InsertProfile(ctx, Profile{ID: id, FullName: fullName, Email: email, CreatedAt: s.now().UTC()}); err != nil {
			return "", err
		}
		return id, nil
	})
}

// SignIn authenticates and records the login time.
func (s *Service) SignIn(ctx context.Context, email, password string) (string, error) {
	id, err := resilience.WithRetry(ctx, s.retrier(), "SignIn", func(ctx context.Context) (string, error) {
		return s.backend.SignIn(ctx, email, password)
	})
	if err != nil {
		return "", err
	}
	if err := s.backend.TouchLastLogin(ctx, id, s.now().UTC()); err != nil {
		s.logger.Warn("failed to update last login for %s: %v", id, err)
	}
	return id, nil
}

// SignOut drops every cached entry and ends the session.
func (s *Service) SignOut(ctx context.Context) error {
	if !s.gateway.Store().Clear(ctx) {
		s.logger.Warn("cache was not fully cleared on sign out")
	}
	if err := s.backend.SignOut(ctx); err != nil {
		return s.classify(err, "SignOut")
	}
	return nil
}

func (s *Service) countActive(ctx context.Context) (int, error) {
	return s.backend.CountActivePrayers(ctx, s.now().Add(-ActivePrayerWindow).UTC())
}

// ActivePrayerCount returns how many sessions started in the last
// ActivePrayerWindow are still active.
func (s *Service) ActivePrayerCount(ctx context.Context) (int, error) {
	return gateway.Read(ctx, s.gateway, keyActivePrayerCount, s.countActive, ttlActivePrayerCount,
		gateway.WithContextLabel("GetActivePrayerCount"))
}

// StartPrayerSession opens a session for the signed-in user. candleID and
// intention are optional.
func (s *Service) StartPrayerSession(ctx context.Context, candleID, prayerType, intention string) (PrayerSession, error) {
	const label = "StartPrayerSession"
	userID, err := s.userID(ctx, label)
	if err != nil {
		return PrayerSession{}, err
	}
	return gateway.WriteThenInvalidate(ctx, s.gateway, label, func(ctx context.Context) (PrayerSession, error) {
		return s.backend.InsertPrayerSession(ctx, s.newSession(userID, candleID, prayerType, intention))
	}, s.sessionTargets(userID)...)
}

// endSession closes a session and stores its length in whole minutes. The
// duration update is best effort.
func (s *Service) endSession(ctx context.Context, sessionID string) (PrayerSession, error) {
	endedAt := s.now().UTC()
	session, err := s.backend.EndPrayerSession(ctx, sessionID, endedAt)
	if err != nil {
		return PrayerSession{}, err
	}
	minutes := max(int(endedAt.Sub(session.StartedAt)/time.Minute), 0)
	if err := s.backend.UpdateSessionDuration(ctx, sessionID, minutes); err != nil {
		s.logger.Warn("failed to store duration of session %s: %v", sessionID, err)
	}
	session.DurationMinutes = &minutes
	return session, nil
}

// EndPrayerSession closes a session and returns it with its duration.
func (s *Service) EndPrayerSession(ctx context.Context, sessionID string) (PrayerSession, error) {
	session, err := resilience.WithRetry(ctx, s.retrier(), "EndPrayerSession", func(ctx context.Context) (PrayerSession, error) {
		return s.endSession(ctx, sessionID)
	})
	if err != nil {
		return PrayerSession{}, err
	}
	s.gateway.Invalidate(ctx, s.sessionTargets(session.UserID)...)
	return session, nil
}

// PrayerHistory returns the signed-in user's most recent sessions.
func (s *Service) PrayerHistory(ctx context.Context, limit int) ([]PrayerSession, error) {
	const label = "GetPrayerHistory"
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	userID, err := s.userID(ctx, label)
	if err != nil {
		return nil, err
	}
	return gateway.Read(ctx, s.gateway, historyKey(userID, limit), func(ctx context.Context) ([]PrayerSession, error) {
		rows, err := s.backend.ListPrayerSessions(ctx, userID, limit)
		return orEmpty(rows), err
	}, ttlPrayerHistory, gateway.WithContextLabel(label), gateway.WithTags(historyTag(userID)))
}

// LightCandle lights the candle carrying nfcID, or a new virtual candle when
// nfcID is empty or unknown, and opens a candle prayer session for it.
func (s *Service) LightCandle(ctx context.Context, intention, nfcID, location string) (CandleLight, error) {
	const label = "LightCandle"
	userID, err := s.userID(ctx, label)
	if err != nil {
		return CandleLight{}, err
	}
	light, err := resilience.WithRetry(ctx, s.retrier(), label, func(ctx context.Context) (CandleLight, error) {
		return s.lightCandle(ctx, userID, intention, nfcID, location)
	})
	if err != nil {
		return CandleLight{}, err
	}

	targets := append(s.sessionTargets(userID),
		gateway.Key(keyCandleLocations),
		gateway.Key(candleKey(light.Candle.ID)),
		gateway.Key(profileKey(userID)),
	)
	s.gateway.Invalidate(ctx, targets...)

	if err := s.backend.IncrementUserCandles(ctx, userID); err != nil {
		s.logger.Warn("failed to update candle stats for %s: %v", userID, err)
	}
	return light, nil
}

func (s *Service) lightCandle(ctx context.Context, userID, intention, nfcID, location string) (CandleLight, error) {
	now := s.now().UTC()
	var candle *Candle
	if nfcID != "" {
		found, err := s.backend.FindCandleByNFC(ctx, nfcID)
		if err != nil {
			return CandleLight{}, err
		}
		candle = found
	}

	if candle == nil {
		if location == "" {
			location = DefaultLocation
		}
		created, err := s.backend.InsertCandle(ctx, Candle{
			UserID:        userID,
			NFCID:         optional(nfcID),
			Location:      location,
			IntentionText: intention,
			IsLit:         true,
			LitAt:         &now,
			TotalLights:   1,
		})
		if err != nil {
			return CandleLight{}, err
		}
		candle = &created
	} else {
		if err := s.backend.RelightCandle(ctx, candle.ID, intention, candle.TotalLights+1, now); err != nil {
			return CandleLight{}, err
		}
		candle.IsLit = true
		candle.LitAt = &now
		candle.TotalLights++
		candle.IntentionText = intention
	}

	session, err := s.backend.InsertPrayerSession(ctx, s.newSession(userID, candle.ID, TypeCandle, intention))
	if err != nil {
		return CandleLight{}, err
	}
	return CandleLight{Candle: *candle, Session: session}, nil
}

// ExtinguishCandle ends the candle's session and puts the candle out.
func (s *Service) ExtinguishCandle(ctx context.Context, candleID, sessionID string) (PrayerSession, error) {
	session, err := resilience.WithRetry(ctx, s.retrier(), "ExtinguishCandle", func(ctx context.Context) (PrayerSession, error) {
		session, err := s.endSession(ctx, sessionID)
		if err != nil {
			return PrayerSession{}, err
		}
		if err := s.backend.ExtinguishCandle(ctx, candleID, *session.DurationMinutes); err != nil {
			return PrayerSession{}, err
		}
		return session, nil
	})
	if err != nil {
		return PrayerSession{}, err
	}
	targets := append(s.sessionTargets(session.UserID), gateway.Key(keyCandleLocations), gateway.Key(candleKey(candleID)))
	s.gateway.Invalidate(ctx, targets...)
	return session, nil
}

// Candle returns a candle with its sessions.
func (s *Service) Candle(ctx context.Context, candleID string) (Candle, error) {
	return gateway.Read(ctx, s.gateway, candleKey(candleID), func(ctx context.Context) (Candle, error) {
		return s.backend.GetCandle(ctx, candleID)
	}, ttlCandle, gateway.WithContextLabel("GetCandleData"))
}

func (s *Service) activeCandles(ctx context.Context) ([]Candle, error) {
	rows, err := s.backend.ListActiveCandles(ctx)
	return orEmpty(rows), err
}

// ActiveCandleLocations returns every lit candle with an active session.
func (s *Service) ActiveCandleLocations(ctx context.Context) ([]Candle, error) {
	return gateway.Read(ctx, s.gateway, keyCandleLocations, s.activeCandles, ttlCandleLocations,
		gateway.WithContextLabel("GetActiveCandleLocations"))
}

// PublicIntentions returns the newest public, active intentions.
func (s *Service) PublicIntentions(ctx context.Context, limit int) ([]Intention, error) {
	if limit <= 0 {
		limit = DefaultIntentionLimit
	}
	return gateway.Read(ctx, s.gateway, intentionsKey(limit), func(ctx context.Context) ([]Intention, error) {
		rows, err := s.backend.ListPublicIntentions(ctx, limit)
		return orEmpty(rows), err
	}, ttlPublicIntentions, gateway.WithContextLabel("GetPublicIntentions"), gateway.WithTags(tagPublicIntentions))
}

// AddIntention records an intention, optionally tied to a candle.
func (s *Service) AddIntention(ctx context.Context, candleID, text string, public bool) (Intention, error) {
	const label = "AddIntention"
	userID, err := s.userID(ctx, label)
	if err != nil {
		return Intention{}, err
	}
	return gateway.WriteThenInvalidate(ctx, s.gateway, label, func(ctx context.Context) (Intention, error) {
		return s.backend.InsertIntention(ctx, Intention{
			UserID:    userID,
			CandleID:  optional(candleID),
			Intention: text,
			IsPublic:  public,
			IsActive:  true,
		})
	}, gateway.Tag(tagPublicIntentions))
}

// PrayForIntention joins the signed-in user to an intention. Joining twice
// fails with ErrAlreadyPraying, which is checked before the write so it is
// not retried.
func (s *Service) PrayForIntention(ctx context.Context, intentionID string) error {
	const label = "PrayForIntention"
	userID, err := s.userID(ctx, label)
	if err != nil {
		return err
	}
	praying, err := resilience.WithRetry(ctx, s.retrier(), label, func(ctx context.Context) (bool, error) {
		return s.backend.HasActiveIntentionPrayer(ctx, userID, intentionID)
	})
	if err != nil {
		return err
	}
	if praying {
		return s.classify(ErrAlreadyPraying, label)
	}
	return s.gateway.Write(ctx, label, func(ctx context.Context) error {
		prayer := IntentionPrayer{IntentionID: intentionID, UserID: userID, StartedAt: s.now().UTC(), IsActive: true}
		if err := s.backend.InsertIntentionPrayer(ctx, prayer); err != nil {
			return err
		}
		if err := s.backend.IncrementIntentionPrayers(ctx, intentionID); err != nil {
			s.logger.Warn("failed to count prayer for intention %s: %v", intentionID, err)
		}
		return nil
	}, gateway.Tag(tagPublicIntentions))
}

func (s *Service) churches(city string, limit int) func(ctx context.Context) ([]Church, error) {
	return func(ctx context.Context) ([]Church, error) {
		rows, err := s.backend.ListChurches(ctx, city, limit)
		return orEmpty(rows), err
	}
}

// Churches returns active churches, in city when it is not empty.
func (s *Service) Churches(ctx context.Context, city string, limit int) ([]Church, error) {
	if limit <= 0 {
		limit = DefaultChurchLimit
	}
	return gateway.Read(ctx, s.gateway, churchesKey(city, limit), s.churches(city, limit), ttlChurches,
		gateway.WithContextLabel("GetChurches"))
}

// OrderMass submits a pending mass order for the signed-in user.
func (s *Service) OrderMass(ctx context.Context, req MassOrderRequest) (MassOrder, error) {
	const label = "OrderMass"
	userID, err := s.userID(ctx, label)
	if err != nil {
		return MassOrder{}, err
	}
	return gateway.WriteThenInvalidate(ctx, s.gateway, label, func(ctx context.Context) (MassOrder, error) {
		return s.backend.InsertMassOrder(ctx, MassOrder{
			MassOrderRequest: req,
			UserID:           userID,
			Status:           "pending",
			CreatedAt:        s.now().UTC(),
		})
	}, gateway.Key(massOrdersKey(userID)))
}

// MassOrders returns the signed-in user's orders, newest first.
func (s *Service) MassOrders(ctx context.Context) ([]MassOrder, error) {
	const label = "GetMyMassOrders"
	userID, err := s.userID(ctx, label)
	if err != nil {
		return nil, err
	}
	return gateway.Read(ctx, s.gateway, massOrdersKey(userID), func(ctx context.Context) ([]MassOrder, error) {
		rows, err := s.backend.ListMassOrders(ctx, userID)
		return orEmpty(rows), err
	}, ttlMassOrders, gateway.WithContextLabel(label))
}

// Profile returns the signed-in user's profile.
func (s *Service) Profile(ctx context.Context) (Profile, error) {
	const label = "GetUserProfile"
	userID, err := s.userID(ctx, label)
	if err != nil {
		return Profile{}, err
	}
	return gateway.Read(ctx, s.gateway, profileKey(userID), func(ctx context.Context) (Profile, error) {
		return s.backend.GetProfile(ctx, userID)
	}, ttlProfile, gateway.WithContextLabel(label))
}

// UpdateProfile applies update to the signed-in user's profile.
func (s *Service) UpdateProfile(ctx context.Context, update ProfileUpdate) (Profile, error) {
	const label = "UpdateProfile"
	userID, err := s.userID(ctx, label)
	if err != nil {
		return Profile{}, err
	}
	now := s.now().UTC()
	update.UpdatedAt = &now
	return gateway.WriteThenInvalidate(ctx, s.gateway, label, func(ctx context.Context) (Profile, error) {
		return s.backend.UpdateProfile(ctx, userID, update)
	}, gateway.Key(profileKey(userID)))
}

// Warmup preloads the shared data shown on the home screen.
func (s *Service) Warmup(ctx context.Context) bool {
	return s.gateway.Store().Warmup(ctx, map[string]cache.WarmupEntry{
		keyActivePrayerCount: {
			Factory: warm(s, "GetActivePrayerCount", s.countActive),
			TTL:     ttlActivePrayerCount,
		},
		keyCandleLocations: {
			Factory: warm(s, "GetActiveCandleLocations", s.activeCandles),
			TTL:     ttlCandleLocations,
		},
		churchesKey("", DefaultChurchLimit): {
			Factory: warm(s, "GetChurches", s.churches("", DefaultChurchLimit)),
			TTL:     ttlChurches,
		},
	})
}

func warm[T any](s *Service, label string, fetch func(ctx context.Context) (T, error)) cache.Factory {
	return func(ctx context.Context) (any, error) {
		val, err := resilience.WithRetry(ctx, s.retrier(), label, fetch)
		if err != nil {
			return nil, err
		}
		return val, nil
	}
}
