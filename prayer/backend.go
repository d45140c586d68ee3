package prayer

import (
	"context"
	"time"
)

// Backend is the remote data service the Service caches in front of. Every
// method is a single remote call; retries, caching and error classification
// are handled by the Service.
type Backend interface {
	// CurrentUserID returns the signed-in user, or "" when nobody is signed in.
	CurrentUserID(ctx context.Context) (string, error)
	SignUp(ctx context.Context, email, password, fullName string) (string, error)
	SignIn(ctx context.Context, email, password string) (string, error)
	SignOut(ctx context.Context) error

	InsertProfile(ctx context.Context, profile Profile) error
	GetProfile(ctx context.Context, userID string) (Profile, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (Profile, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error

	CountActivePrayers(ctx context.Context, since time.Time) (int, error)
	InsertPrayerSession(ctx context.Context, session PrayerSession) (PrayerSession, error)
	// EndPrayerSession marks the session inactive and returns the updated row.
	EndPrayerSession(ctx context.Context, sessionID string, endedAt time.Time) (PrayerSession, error)
	UpdateSessionDuration(ctx context.Context, sessionID string, minutes int) error
	ListPrayerSessions(ctx context.Context, userID string, limit int) ([]PrayerSession, error)

	// FindCandleByNFC returns nil when no candle carries the tag.
	FindCandleByNFC(ctx context.Context, nfcID string) (*Candle, error)
	GetCandle(ctx context.Context, candleID string) (Candle, error)
	InsertCandle(ctx context.Context, candle Candle) (Candle, error)
	RelightCandle(ctx context.Context, candleID, intention string, totalLights int, litAt time.Time) error
	ExtinguishCandle(ctx context.Context, candleID string, durationMinutes int) error
	ListActiveCandles(ctx context.Context) ([]Candle, error)
	IncrementUserCandles(ctx context.Context, userID string) error

	ListPublicIntentions(ctx context.Context, limit int) ([]Intention, error)
	InsertIntention(ctx context.Context, intention Intention) (Intention, error)
	HasActiveIntentionPrayer(ctx context.Context, userID, intentionID string) (bool, error)
	InsertIntentionPrayer(ctx context.Context, prayer IntentionPrayer) error
	IncrementIntentionPrayers(ctx context.Context, intentionID string) error

	// ListChurches returns active churches, optionally restricted to city.
	ListChurches(ctx context.Context, city string, limit int) ([]Church, error)
	InsertMassOrder(ctx context.Context, order MassOrder) (MassOrder, error)
	ListMassOrders(ctx context.Context, userID string) ([]MassOrder, error)
}
