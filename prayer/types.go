package prayer

import "time"

// Prayer types recorded on a session.
const (
	TypeCandle  = "candle"
	TypeRosary  = "rosary"
	TypeGeneral = "general"
)

// DefaultLocation is used for candles lit without a physical tag.
const DefaultLocation = "Lokalizacja wirtualna"

// CandleRef is the candle summary embedded in a prayer history row.
type CandleRef struct {
	Location string  `json:"location"`
	NFCID    *string `json:"nfc_id"`
}

// ProfileRef is the profile summary embedded in joined rows.
type ProfileRef struct {
	FullName string `json:"full_name"`
}

// PrayerSession is a row of prayer_sessions.
type PrayerSession struct {
	ID              string      `json:"id,omitempty"`
	UserID          string      `json:"user_id"`
	CandleID        *string     `json:"candle_id"`
	PrayerType      string      `json:"prayer_type"`
	IntentionText   *string     `json:"intention_text"`
	StartedAt       time.Time   `json:"started_at"`
	EndedAt         *time.Time  `json:"ended_at,omitempty"`
	IsActive        bool        `json:"is_active"`
	DurationMinutes *int        `json:"duration_minutes,omitempty"`
	Candle          *CandleRef  `json:"candles,omitempty"`
	Profile         *ProfileRef `json:"profiles,omitempty"`
}

// Candle is a row of candles. Sessions is only filled by joined queries.
type Candle struct {
	ID              string          `json:"id,omitempty"`
	UserID          string          `json:"user_id,omitempty"`
	NFCID           *string         `json:"nfc_id"`
	Location        string          `json:"location"`
	IntentionText   string          `json:"intention_text,omitempty"`
	IsLit           bool            `json:"is_lit"`
	LitAt           *time.Time      `json:"lit_at,omitempty"`
	TotalLights     int             `json:"total_lights"`
	Latitude        *float64        `json:"latitude"`
	Longitude       *float64        `json:"longitude"`
	DurationMinutes *int            `json:"duration_minutes,omitempty"`
	Sessions        []PrayerSession `json:"prayer_sessions,omitempty"`
}

// CandleLight is the outcome of lighting a candle.
type CandleLight struct {
	Candle  Candle        `json:"candle"`
	Session PrayerSession `json:"session"`
}

// Intention is a row of prayer_intentions.
type Intention struct {
	ID          string      `json:"id,omitempty"`
	UserID      string      `json:"user_id"`
	CandleID    *string     `json:"candle_id"`
	Intention   string      `json:"intention"`
	IsPublic    bool        `json:"is_public"`
	IsActive    bool        `json:"is_active"`
	PrayerCount int         `json:"prayer_count"`
	CreatedAt   *time.Time  `json:"created_at,omitempty"`
	Profile     *ProfileRef `json:"profiles,omitempty"`
}

// IntentionPrayer is a row of intention_prayers.
type IntentionPrayer struct {
	IntentionID string    `json:"intention_id"`
	UserID      string    `json:"user_id"`
	StartedAt   time.Time `json:"started_at"`
	IsActive    bool      `json:"is_active"`
}

// Church is a row of churches.
type Church struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	City     string `json:"city"`
	IsActive bool   `json:"is_active"`
}

// MassOrderRequest is what a user fills in to order a mass.
type MassOrderRequest struct {
	ChurchID      string  `json:"church_id"`
	Intention     string  `json:"intention"`
	PreferredDate string  `json:"preferred_date,omitempty"`
	Offering      float64 `json:"offering_amount,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

// MassOrder is a row of mass_orders.
type MassOrder struct {
	MassOrderRequest

	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Church    *Church   `json:"churches,omitempty"`
}

// Profile is a row of profiles.
type Profile struct {
	ID            string     `json:"id"`
	FullName      string     `json:"full_name"`
	Email         string     `json:"email"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	PrayerDays    int        `json:"prayer_days"`
	TotalCandles  int        `json:"total_candles"`
	TotalRosaries int        `json:"total_rosaries"`
}

// ProfileUpdate holds the editable profile fields. Nil fields are left as is.
type ProfileUpdate struct {
	FullName  *string    `json:"full_name,omitempty"`
	Email     *string    `json:"email,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
