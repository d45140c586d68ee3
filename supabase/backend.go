// Package supabase implements prayer.Backend on a Supabase project: PostgREST
// tables for data, GoTrue for accounts and Postgres functions for counters.
package supabase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/oremus/go-common/logger"
	"github.com/oremus/go-common/prayer"
	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

// Tables and functions used by the backend.
const (
	TableProfiles         = "profiles"
	TablePrayerSessions   = "prayer_sessions"
	TableCandles          = "candles"
	TableIntentions       = "prayer_intentions"
	TableIntentionPrayers = "intention_prayers"
	TableChurches         = "churches"
	TableMassOrders       = "mass_orders"

	FuncIncrementUserCandles      = "increment_user_candles"
	FuncIncrementIntentionPrayers = "increment_intention_prayers"
)

const (
	historyColumns      = "*,candles(location,nfc_id)"
	candleColumns       = "*,prayer_sessions(id,user_id,started_at,is_active,profiles(full_name))"
	activeCandleColumns = "id,location,latitude,longitude,is_lit,prayer_sessions!inner(id,user_id,is_active,profiles(full_name))"
	intentionColumns    = "*,profiles(full_name)"
	massOrderColumns    = "*,churches(name,address,city)"
)

var newestFirst = &postgrest.OrderOpts{Ascending: false}

type config struct {
	schema  string
	headers map[string]string
	userID  string
	token   string
	logger  logger.Logger
}

// Option configures a Backend.
type Option func(*config)

// WithSchema selects the Postgres schema. Defaults to public.
func WithSchema(schema string) Option {
	return func(c *config) { c.schema = schema }
}

// WithHeader adds a header to every request.
func WithHeader(name, value string) Option {
	return func(c *config) {
		if c.headers == nil {
			c.headers = make(map[string]string)
		}
		c.headers[name] = value
	}
}

// WithUserID acts as userID without a session, for service-role clients.
func WithUserID(userID string) Option {
	return func(c *config) { c.userID = userID }
}

// WithAccessToken resumes an existing session. The user is resolved on first
// use.
func WithAccessToken(token string) Option {
	return func(c *config) { c.token = token }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *config) { c.logger = log }
}

// Backend talks to Supabase. postgrest-go has no context support, so a
// context only stops calls that have not started yet. Switching sessions
// (SignIn, SignUp, SignOut) must not overlap with other calls.
type Backend struct {
	client *supa.Client
	key    string
	logger logger.Logger

	// postgrest-go keeps the first client error and fails every later
	// request with it, so functions run on their own client that is reset
	// after each call.
	rpcMutex sync.Mutex
	rpc      *postgrest.Client

	mutex  sync.RWMutex
	userID string
	token  string
}

var _ prayer.Backend = (*Backend)(nil)

// New connects to the project at url with the anon or service key.
func New(url, key string, opts ...Option) (*Backend, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger(logger.LevelWarn)
	}

	client, err := supa.NewClient(url, key, &supa.ClientOptions{Headers: cfg.headers, Schema: cfg.schema})
	if err != nil {
		return nil, errors.Wrap(err, "supabase: failed to create client")
	}
	headers := map[string]string{"apikey": key, "Authorization": "Bearer " + key}
	for k, v := range cfg.headers {
		headers[k] = v
	}
	rpc := postgrest.NewClient(url+supa.REST_URL, cfg.schema, headers)
	if rpc.ClientError != nil {
		return nil, errors.Wrap(rpc.ClientError, "supabase: failed to create rpc client")
	}

	b := &Backend{
		client: client,
		key:    key,
		logger: cfg.logger.WithPrefix("[supabase]"),
		rpc:    rpc,
		userID: cfg.userID,
	}
	if cfg.token != "" {
		b.useSession(types.Session{AccessToken: cfg.token}, cfg.userID)
	}
	return b, nil
}

// useSession switches every client to the session's token.
func (b *Backend) useSession(session types.Session, userID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.client.UpdateAuthSession(session)
	b.rpcMutex.Lock()
	b.rpc.SetAuthToken(session.AccessToken)
	b.rpcMutex.Unlock()
	b.token = session.AccessToken
	b.userID = userID
}

func wrap(err error, op, table string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "supabase: %s %s", op, table)
}

func (b *Backend) from(table string) *postgrest.QueryBuilder {
	return b.client.From(table)
}

// call invokes a Postgres function. A PostgREST error body is turned into an
// error; any other result is ignored.
func (b *Backend) call(ctx context.Context, name string, body any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.rpcMutex.Lock()
	result := b.rpc.Rpc(name, "", body)
	clientErr := b.rpc.ClientError
	b.rpc.ClientError = nil
	b.rpcMutex.Unlock()

	if clientErr != nil {
		return wrap(clientErr, "call", name)
	}
	var failure postgrest.ExecuteError
	if json.Unmarshal([]byte(result), &failure) == nil && failure.Message != "" {
		return errors.Newf("supabase: call %s: (%s) %s", name, failure.Code, failure.Message)
	}
	return nil
}

// CurrentUserID returns the configured user, or the owner of the session
// token. It returns "" when there is neither.
func (b *Backend) CurrentUserID(ctx context.Context) (string, error) {
	b.mutex.RLock()
	userID, token := b.userID, b.token
	b.mutex.RUnlock()
	if userID != "" || token == "" {
		return userID, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	user, err := b.client.Auth.WithToken(token).GetUser()
	if err != nil {
		return "", errors.Wrap(err, "supabase: failed to resolve session user")
	}
	userID = user.ID.String()
	b.logger.Debug("resolved session user %s", userID)

	b.mutex.Lock()
	if b.token == token {
		b.userID = userID
	}
	b.mutex.Unlock()
	return userID, nil
}

// SignUp registers an account. When the project auto-confirms emails the new
// session becomes current.
func (b *Backend) SignUp(ctx context.Context, email, password, fullName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, err := b.client.Auth.Signup(types.SignupRequest{
		Email:    email,
		Password: password,
		Data:     map[string]interface{}{"full_name": fullName},
	})
	if err != nil {
		return "", errors.Wrap(err, "supabase: sign up failed")
	}
	id := resp.User.ID
	if id == uuid.Nil {
		id = resp.Session.User.ID
	}
	if resp.Session.AccessToken != "" {
		b.useSession(resp.Session, id.String())
	}
	return id.String(), nil
}

// SignIn starts a password session.
func (b *Backend) SignIn(ctx context.Context, email, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, err := b.client.Auth.SignInWithEmailPassword(email, password)
	if err != nil {
		return "", errors.Wrap(err, "supabase: sign in failed")
	}
	id := resp.User.ID.String()
	b.useSession(resp.Session, id)
	b.logger.Debug("signed in as %s", id)
	return id, nil
}

// SignOut ends the session and falls back to the project key.
func (b *Backend) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mutex.RLock()
	token := b.token
	b.mutex.RUnlock()
	if token != "" {
		if err := b.client.Auth.WithToken(token).Logout(); err != nil {
			return errors.Wrap(err, "supabase: sign out failed")
		}
	}
	b.useSession(types.Session{AccessToken: b.key}, "")
	b.mutex.Lock()
	b.token = ""
	b.mutex.Unlock()
	b.logger.Debug("signed out")
	return nil
}

func (b *Backend) InsertProfile(ctx context.Context, profile prayer.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := b.from(TableProfiles).Insert(profile, false, "", "minimal", "").Execute()
	return wrap(err, "insert", TableProfiles)
}

func (b *Backend) GetProfile(ctx context.Context, userID string) (prayer.Profile, error) {
	var profile prayer.Profile
	if err := ctx.Err(); err != nil {
		return profile, err
	}
	_, err := b.from(TableProfiles).Select("*", "", false).Eq("id", userID).Single().ExecuteTo(&profile)
	return profile, wrap(err, "select", TableProfiles)
}

func (b *Backend) UpdateProfile(ctx context.Context, userID string, update prayer.ProfileUpdate) (prayer.Profile, error) {
	var profile prayer.Profile
	if err := ctx.Err(); err != nil {
		return profile, err
	}
	_, err := b.from(TableProfiles).Update(update, "representation", "").Eq("id", userID).Single().ExecuteTo(&profile)
	return profile, wrap(err, "update", TableProfiles)
}

func (b *Backend) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := b.from(TableProfiles).Update(map[string]any{"last_login": at}, "minimal", "").Eq("id", userID).Execute()
	return wrap(err, "update", TableProfiles)
}

func (b *Backend) CountActivePrayers(ctx context.Context, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_, count, err := b.from(TablePrayerSessions).
		Select("*", "exact", true).
		Eq("is_active", "true").
		Gte("started_at", since.UTC().Format(time.RFC3339Nano)).
		Execute()
	return int(count), wrap(err, "count", TablePrayerSessions)
}

func (b *Backend) InsertPrayerSession(ctx context.Context, session prayer.PrayerSession) (prayer.PrayerSession, error) {
	var created prayer.PrayerSession
	if err := ctx.Err(); err != nil {
		return created, err
	}
	_, err := b.from(TablePrayerSessions).Insert(session, false, "", "representation", "").Single().ExecuteTo(&created)
	return created, wrap(err, "insert", TablePrayerSessions)
}

func (b *Backend) EndPrayerSession(ctx context.Context, sessionID string, endedAt time.Time) (prayer.PrayerSession, error) {
	var session prayer.PrayerSession
	if err := ctx.Err(); err != nil {
		return session, err
	}
	_, err := b.from(TablePrayerSessions).
		Update(map[string]any{"ended_at": endedAt, "is_active": false}, "representation", "").
		Eq("id", sessionID).
		Single().
		ExecuteTo(&session)
	return session, wrap(err, "update", TablePrayerSessions)
}

func (b *Backend) UpdateSessionDuration(ctx context.Context, sessionID string, minutes int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := b.from(TablePrayerSessions).Update(map[string]any{"duration_minutes": minutes}, "minimal", "").Eq("id", sessionID).Execute()
	return wrap(err, "update", TablePrayerSessions)
}

func (b *Backend) ListPrayerSessions(ctx context.Context, userID string, limit int) ([]prayer.PrayerSession, error) {
	var rows []prayer.PrayerSession
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, err := b.from(TablePrayerSessions).
		Select(historyColumns, "", false).
		Eq("user_id", userID).
		Order("started_at", newestFirst).
		Limit(limit, "").
		ExecuteTo(&rows)
	return rows, wrap(err, "select", TablePrayerSessions)
}

func (b *Backend) FindCandleByNFC(ctx context.Context, nfcID string) (*prayer.Candle, error) {
	var rows []prayer.Candle
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := b.from(TableCandles).Select("*", "", false).Eq("nfc_id", nfcID).Limit(1, "").ExecuteTo(&rows); err != nil {
		return nil, wrap(err, "select", TableCandles)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (b *Backend) GetCandle(ctx context.Context, candleID string) (prayer.Candle, error) {
	var candle prayer.Candle
	if err := ctx.Err(); err != nil {
		return candle, err
	}
	_, err := b.from(TableCandles).Select(candleColumns, "", false).Eq("id", candleID).Single().ExecuteTo(&candle)
	return candle, wrap(err, "select", TableCandles)
}

func (b *Backend) InsertCandle(ctx context.Context, candle prayer.Candle) (prayer.Candle, error) {
	var created prayer.Candle
	if err := ctx.Err(); err != nil {
		return created, err
	}
	_, err := b.from(TableCandles).Insert(candle, false, "", "representation", "").Single().ExecuteTo(&created)
	return created, wrap(err, "insert", TableCandles)
}

func (b *Backend) RelightCandle(ctx context.Context, candleID, intention string, totalLights int, litAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	update := map[string]any{
		"is_lit":         true,
		"lit_at":         litAt,
		"total_lights":   totalLights,
		"intention_text": intention,
	}
	_, _, err := b.from(TableCandles).Update(update, "minimal", "").Eq("id", candleID).Execute()
	return wrap(err, "update", TableCandles)
}

func (b *Backend) ExtinguishCandle(ctx context.Context, candleID string, durationMinutes int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	update := map[string]any{"is_lit": false, "duration_minutes": durationMinutes}
	_, _, err := b.from(TableCandles).Update(update, "minimal", "").Eq("id", candleID).Execute()
	return wrap(err, "update", TableCandles)
}

func (b *Backend) ListActiveCandles(ctx context.Context) ([]prayer.Candle, error) {
	var rows []prayer.Candle
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, err := b.from(TableCandles).
		Select(activeCandleColumns, "", false).
		Eq("is_lit", "true").
		Eq("prayer_sessions.is_active", "true").
		ExecuteTo(&rows)
	return rows, wrap(err, "select", TableCandles)
}

func (b *Backend) IncrementUserCandles(ctx context.Context, userID string) error {
	return b.call(ctx, FuncIncrementUserCandles, map[string]string{"user_id": userID})
}

func (b *Backend) ListPublicIntentions(ctx context.Context, limit int) ([]prayer.Intention, error) {
	var rows []prayer.Intention
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, err := b.from(TableIntentions).
		Select(intentionColumns, "", false).
		Eq("is_public", "true").
		Eq("is_active", "true").
		Order("created_at", newestFirst).
		Limit(limit, "").
		ExecuteTo(&rows)
	return rows, wrap(err, "select", TableIntentions)
}

func (b *Backend) InsertIntention(ctx context.Context, intention prayer.Intention) (prayer.Intention, error) {
	var created prayer.Intention
	if err := ctx.Err(); err != nil {
		return created, err
	}
	_, err := b.from(TableIntentions).Insert(intention, false, "", "representation", "").Single().ExecuteTo(&created)
	return created, wrap(err, "insert", TableIntentions)
}

func (b *Backend) HasActiveIntentionPrayer(ctx context.Context, userID, intentionID string) (bool, error) {
	var rows []prayer.IntentionPrayer
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := b.from(TableIntentionPrayers).
		Select("*", "", false).
		Eq("user_id", userID).
		Eq("intention_id", intentionID).
		Eq("is_active", "true").
		ExecuteTo(&rows)
	return len(rows) > 0, wrap(err, "select", TableIntentionPrayers)
}

func (b *Backend) InsertIntentionPrayer(ctx context.Context, row prayer.IntentionPrayer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := b.from(TableIntentionPrayers).Insert(row, false, "", "minimal", "").Execute()
	return wrap(err, "insert", TableIntentionPrayers)
}

func (b *Backend) IncrementIntentionPrayers(ctx context.Context, intentionID string) error {
	return b.call(ctx, FuncIncrementIntentionPrayers, map[string]string{"intention_id": intentionID})
}

func (b *Backend) ListChurches(ctx context.Context, city string, limit int) ([]prayer.Church, error) {
	var rows []prayer.Church
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := b.from(TableChurches).Select("*", "", false).Eq("is_active", "true").Limit(limit, "")
	if city != "" {
		query = query.Eq("city", city)
	}
	_, err := query.ExecuteTo(&rows)
	return rows, wrap(err, "select", TableChurches)
}

func (b *Backend) InsertMassOrder(ctx context.Context, order prayer.MassOrder) (prayer.MassOrder, error) {
	var created prayer.MassOrder
	if err := ctx.Err(); err != nil {
		return created, err
	}
	_, err := b.from(TableMassOrders).Insert(order, false, "", "representation", "").Single().ExecuteTo(&created)
	return created, wrap(err, "insert", TableMassOrders)
}

func (b *Backend) ListMassOrders(ctx context.Context, userID string) ([]prayer.MassOrder, error) {
	var rows []prayer.MassOrder
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, err := b.from(TableMassOrders).
		Select(massOrderColumns, "", false).
		Eq("user_id", userID).
		Order("created_at", newestFirst).
		ExecuteTo(&rows)
	return rows, wrap(err, "select", TableMassOrders)
}
