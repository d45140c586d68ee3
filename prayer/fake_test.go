package prayer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// fakeBackend keeps every table in memory and counts calls per method.
type fakeBackend struct {
	mu sync.Mutex

	user     string
	calls    map[string]int
	failures map[string][]error
	nextID   int

	profiles   map[string]Profile
	sessions   map[string]PrayerSession
	candles    map[string]Candle
	intentions []Intention
	praying    map[string]bool
	churches   []Church
	orders     []MassOrder
	candleRPC  map[string]int
}

var _ Backend = (*fakeBackend)(nil)

func newFakeBackend(user string) *fakeBackend {
	return &fakeBackend{
		user:      user,
		calls:     make(map[string]int),
		failures:  make(map[string][]error),
		profiles:  make(map[string]Profile),
		sessions:  make(map[string]PrayerSession),
		candles:   make(map[string]Candle),
		praying:   make(map[string]bool),
		candleRPC: make(map[string]int),
	}
}

// failNext queues errors returned by the next calls to method.
func (f *fakeBackend) failNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], errs...)
}

func (f *fakeBackend) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// enter records a call and pops a queued failure. Callers hold no lock.
func (f *fakeBackend) enter(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if queue := f.failures[method]; len(queue) > 0 {
		f.failures[method] = queue[1:]
		return queue[0]
	}
	return nil
}

func (f *fakeBackend) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeBackend) CurrentUserID(ctx context.Context) (string, error) {
	if err := f.enter("CurrentUserID"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user, nil
}

func (f *fakeBackend) SignUp(ctx context.Context, email, password, fullName string) (string, error) {
	if err := f.enter("SignUp"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = f.id("user")
	return f.user, nil
}

func (f *fakeBackend) SignIn(ctx context.Context, email, password string) (string, error) {
	if err := f.enter("SignIn"); err != nil {
		return "", err
	}
	if password != "secret" {
		return "", errors.New("invalid login credentials")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = "user-" + email
	return f.user, nil
}

func (f *fakeBackend) SignOut(ctx context.Context) error {
	if err := f.enter("SignOut"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = ""
	return nil
}

func (f *fakeBackend) InsertProfile(ctx context.Context, profile Profile) error {
	if err := f.enter("InsertProfile"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[profile.ID] = profile
	return nil
}

func (f *fakeBackend) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if err := f.enter("GetProfile"); err != nil {
		return Profile{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[userID]
	if !ok {
		return Profile{}, errors.New("profile not found")
	}
	return profile, nil
}

func (f *fakeBackend) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (Profile, error) {
	if err := f.enter("UpdateProfile"); err != nil {
		return Profile{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	profile := f.profiles[userID]
	if update.FullName != nil {
		profile.FullName = *update.FullName
	}
	if update.Email != nil {
		profile.Email = *update.Email
	}
	profile.UpdatedAt = update.UpdatedAt
	f.profiles[userID] = profile
	return profile, nil
}

func (f *fakeBackend) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	if err := f.enter("TouchLastLogin"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	profile := f.profiles[userID]
	profile.LastLogin = &at
	f.profiles[userID] = profile
	return nil
}

func (f *fakeBackend) CountActivePrayers(ctx context.Context, since time.Time) (int, error) {
	if err := f.enter("CountActivePrayers"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, session := range f.sessions {
		if session.IsActive && !session.StartedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) InsertPrayerSession(ctx context.Context, session PrayerSession) (PrayerSession, error) {
	if err := f.enter("InsertPrayerSession"); err != nil {
		return PrayerSession{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	session.ID = f.id("session")
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeBackend) EndPrayerSession(ctx context.Context, sessionID string, endedAt time.Time) (PrayerSession, error) {
	if err := f.enter("EndPrayerSession"); err != nil {
		return PrayerSession{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return PrayerSession{}, errors.Newf("session %s not found", sessionID)
	}
	session.IsActive = false
	session.EndedAt = &endedAt
	f.sessions[sessionID] = session
	return session, nil
}

func (f *fakeBackend) UpdateSessionDuration(ctx context.Context, sessionID string, minutes int) error {
	if err := f.enter("UpdateSessionDuration"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	session := f.sessions[sessionID]
	session.DurationMinutes = &minutes
	f.sessions[sessionID] = session
	return nil
}

func (f *fakeBackend) ListPrayerSessions(ctx context.Context, userID string, limit int) ([]PrayerSession, error) {
	if err := f.enter("ListPrayerSessions"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PrayerSession
	for _, session := range f.sessions {
		if session.UserID == userID && len(out) < limit {
			out = append(out, session)
		}
	}
	return out, nil
}

func (f *fakeBackend) FindCandleByNFC(ctx context.Context, nfcID string) (*Candle, error) {
	if err := f.enter("FindCandleByNFC"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, candle := range f.candles {
		if candle.NFCID != nil && *candle.NFCID == nfcID {
			return &candle, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) GetCandle(ctx context.Context, candleID string) (Candle, error) {
	if err := f.enter("GetCandle"); err != nil {
		return Candle{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	candle, ok := f.candles[candleID]
	if !ok {
		return Candle{}, errors.Newf("candle %s not found", candleID)
	}
	return candle, nil
}

func (f *fakeBackend) InsertCandle(ctx context.Context, candle Candle) (Candle, error) {
	if err := f.enter("InsertCandle"); err != nil {
		return Candle{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	candle.ID = f.id("candle")
	f.candles[candle.ID] = candle
	return candle, nil
}

func (f *fakeBackend) RelightCandle(ctx context.Context, candleID, intention string, totalLights int, litAt time.Time) error {
	if err := f.enter("RelightCandle"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	candle := f.candles[candleID]
	candle.IsLit = true
	candle.IntentionText = intention
	candle.TotalLights = totalLights
	candle.LitAt = &litAt
	f.candles[candleID] = candle
	return nil
}

func (f *fakeBackend) ExtinguishCandle(ctx context.Context, candleID string, durationMinutes int) error {
	if err := f.enter("ExtinguishCandle"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	candle := f.candles[candleID]
	candle.IsLit = false
	candle.DurationMinutes = &durationMinutes
	f.candles[candleID] = candle
	return nil
}

func (f *fakeBackend) ListActiveCandles(ctx context.Context) ([]Candle, error) {
	if err := f.enter("ListActiveCandles"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Candle
	for _, candle := range f.candles {
		if candle.IsLit {
			out = append(out, candle)
		}
	}
	return out, nil
}

func (f *fakeBackend) IncrementUserCandles(ctx context.Context, userID string) error {
	if err := f.enter("IncrementUserCandles"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candleRPC[userID]++
	return nil
}

func (f *fakeBackend) ListPublicIntentions(ctx context.Context, limit int) ([]Intention, error) {
	if err := f.enter("ListPublicIntentions"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Intention
	for i := len(f.intentions) - 1; i >= 0 && len(out) < limit; i-- {
		if f.intentions[i].IsPublic && f.intentions[i].IsActive {
			out = append(out, f.intentions[i])
		}
	}
	return out, nil
}

func (f *fakeBackend) InsertIntention(ctx context.Context, intention Intention) (Intention, error) {
	if err := f.enter("InsertIntention"); err != nil {
		return Intention{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	intention.ID = f.id("intention")
	f.intentions = append(f.intentions, intention)
	return intention, nil
}

func (f *fakeBackend) HasActiveIntentionPrayer(ctx context.Context, userID, intentionID string) (bool, error) {
	if err := f.enter("HasActiveIntentionPrayer"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.praying[userID+"/"+intentionID], nil
}

func (f *fakeBackend) InsertIntentionPrayer(ctx context.Context, prayer IntentionPrayer) error {
	if err := f.enter("InsertIntentionPrayer"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.praying[prayer.UserID+"/"+prayer.IntentionID] = true
	return nil
}

func (f *fakeBackend) IncrementIntentionPrayers(ctx context.Context, intentionID string) error {
	if err := f.enter("IncrementIntentionPrayers"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.intentions {
		if f.intentions[i].ID == intentionID {
			f.intentions[i].PrayerCount++
		}
	}
	return nil
}

func (f *fakeBackend) ListChurches(ctx context.Context, city string, limit int) ([]Church, error) {
	if err := f.enter("ListChurches"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Church
	for _, church := range f.churches {
		if church.IsActive && (city == "" || church.City == city) && len(out) < limit {
			out = append(out, church)
		}
	}
	return out, nil
}

func (f *fakeBackend) InsertMassOrder(ctx context.Context, order MassOrder) (MassOrder, error) {
	if err := f.enter("InsertMassOrder"); err != nil {
		return MassOrder{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	order.ID = f.id("order")
	f.orders = append(f.orders, order)
	return order, nil
}

func (f *fakeBackend) ListMassOrders(ctx context.Context, userID string) ([]MassOrder, error) {
	if err := f.enter("ListMassOrders"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []MassOrder
	for _, order := range f.orders {
		if order.UserID == userID {
			out = append(out, order)
		}
	}
	return out, nil
}
