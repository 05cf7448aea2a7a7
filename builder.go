package goBankAuth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goBankAuth/internal"
	"github.com/MrEthical07/goBankAuth/session"
)

// Builder assembles one session and its strategy. A Builder is single use.
type Builder struct {
	config Config

	app           *AppData
	authorization string
	userID        string

	store          *session.Store
	backend        session.Backend
	sessionKey     string
	httpClient     *http.Client
	auditSink      AuditSink
	logger         *slog.Logger
	metrics        *Metrics
	metricsEnabled *bool

	err   error
	built bool
}

// New returns a builder with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithAppData sets the app identity directly.
func (b *Builder) WithAppData(app AppData) *Builder {
	b.app = &app
	return b
}

// WithBank resolves the app identity from table. A lookup failure is
// reported by the Build call.
func (b *Builder) WithBank(table AppIdentityTable, bank string) *Builder {
	if table == nil {
		b.err = fmt.Errorf("%w: nil app identity table", ErrPrecondition)
		return b
	}
	app, err := table.Lookup(bank)
	if err != nil {
		b.err = err
		return b
	}
	b.app = &app
	return b
}

// WithAuthorizationKey sets the Authorization header value. Without it a
// key is generated from the app ID.
func (b *Builder) WithAuthorizationKey(key string) *Builder {
	b.authorization = key
	return b
}

// WithUserID sets the user for Restore. Only needed when a restored Mobile
// BankID session must start a new challenge.
func (b *Builder) WithUserID(userID string) *Builder {
	b.userID = userID
	return b
}

// WithPersistence mirrors the session to store.
func (b *Builder) WithPersistence(store *session.Store) *Builder {
	b.store = store
	return b
}

// WithPersistenceBackend mirrors the session to backend under sessionKey,
// using Config.Persistence for prefix, TTL and sealing.
func (b *Builder) WithPersistenceBackend(backend session.Backend, sessionKey string) *Builder {
	b.backend = backend
	b.sessionKey = sessionKey
	return b
}

// WithRedis is WithPersistenceBackend over a Redis client.
func (b *Builder) WithRedis(client redis.UniversalClient, sessionKey string) *Builder {
	if client == nil {
		b.err = fmt.Errorf("%w: nil redis client", ErrPrecondition)
		return b
	}
	return b.WithPersistenceBackend(session.NewRedisBackend(client), sessionKey)
}

// WithHTTPClient takes the RoundTripper of c. The session still owns its
// cookie jar, redirect policy and timeout.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// WithAuditSink receives audit events when Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger; default slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics shares m between sessions. It overrides Config.Metrics.
func (b *Builder) WithMetrics(m *Metrics) *Builder {
	b.metrics = m
	return b
}

// WithMetricsEnabled toggles Config.Metrics.Enabled.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.metricsEnabled = &enabled
	return b
}

// BuildPersonalCode returns a personal code strategy. Nothing is sent
// until Login.
func (b *Builder) BuildPersonalCode(ctx context.Context, userID, personalCode string) (*PersonalCode, error) {
	if userID == "" || personalCode == "" {
		return nil, fmt.Errorf("%w: user id and personal code are required", ErrPrecondition)
	}
	sess, err := b.prepare(ctx, session.KindPersonalCode, userID, nil)
	if err != nil {
		return nil, err
	}
	return newPersonalCode(sess, userID, personalCode), nil
}

// BuildMobileBankID returns a Mobile BankID strategy in the unverified
// state.
func (b *Builder) BuildMobileBankID(ctx context.Context, userID string) (*MobileBankID, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrPrecondition)
	}
	sess, err := b.prepare(ctx, session.KindMobileBankID, userID, nil)
	if err != nil {
		return nil, err
	}
	return newMobileBankID(sess, userID, b.config.Verification.PollInterval), nil
}

// Restore rebuilds the strategy saved in the configured store. App
// identity, authorization key and strategy state come from the record;
// the transport starts uninitialized. A missing record is
// ErrSessionNotFound.
func (b *Builder) Restore(ctx context.Context) (Authenticator, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	store, err := b.resolveStore()
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: restore requires persistence", ErrPrecondition)
	}

	rec, err := store.Restore(ctx, validateRecordState)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, store.Key())
	}
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}
	sess, err := b.prepare(ctx, rec.Kind, b.userID, rec)
	if err != nil {
		return nil, err
	}

	var auth Authenticator
	switch rec.Kind {
	case session.KindPersonalCode:
		p := newPersonalCode(sess, b.userID, "")
		p.state = CredentialState(rec.State)
		auth = p
	default:
		m := newMobileBankID(sess, b.userID, b.config.Verification.PollInterval)
		m.state = VerificationState(rec.State)
		auth = m
	}

	sess.metrics.Inc(MetricSessionRestored)
	sess.emit(AuditSessionRestored, nil, map[string]string{"schema": fmt.Sprint(rec.SchemaVersion)})
	return auth, nil
}

func validateRecordState(rec *session.Record) error {
	switch rec.Kind {
	case session.KindPersonalCode:
		if rec.State > uint8(CredentialFailed) {
			return fmt.Errorf("personal code state %d out of range", rec.State)
		}
	case session.KindMobileBankID:
		if rec.State > uint8(VerificationVerified) {
			return fmt.Errorf("mobile bankid state %d out of range", rec.State)
		}
	}
	return nil
}

func (b *Builder) resolveStore() (*session.Store, error) {
	if b.store != nil {
		return b.store, nil
	}
	if b.backend == nil {
		return nil, nil
	}
	if b.sessionKey == "" {
		return nil, fmt.Errorf("%w: persistence backend without a session key", ErrPrecondition)
	}
	opts := []session.Option{
		session.WithKeyPrefix(b.config.Persistence.KeyPrefix),
		session.WithTTL(b.config.Persistence.TTL),
	}
	if key := b.config.Persistence.SealingKey; key != "" {
		sealer, err := session.NewSealer([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPrecondition, err)
		}
		opts = append(opts, session.WithSealer(sealer))
	}
	return session.NewStore(b.backend, b.sessionKey, opts...), nil
}

// prepare builds the session shared by all strategies. rec is non-nil when
// restoring.
func (b *Builder) prepare(ctx context.Context, kind session.Kind, userID string, rec *session.Record) (*Session, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.err != nil {
		return nil, b.err
	}

	cfg := b.config
	if b.metricsEnabled != nil {
		cfg.Metrics.Enabled = *b.metricsEnabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var app AppData
	authorization := b.authorization
	switch {
	case rec != nil:
		app = AppData{AppID: rec.AppID, UserAgent: rec.UserAgent}
		authorization = rec.Authorization
		cfg.Debug = cfg.Debug || rec.Debug
	case b.app != nil:
		app = *b.app
	default:
		return nil, fmt.Errorf("%w: app data required", ErrPrecondition)
	}
	if err := app.Validate(); err != nil {
		return nil, err
	}
	if authorization == "" {
		authorization = internal.NewAuthorizationKey(app.AppID)
	}

	store, err := b.resolveStore()
	if err != nil {
		return nil, err
	}

	metrics := b.metrics
	if metrics == nil {
		metrics = NewMetrics(cfg.Metrics)
	}
	var transport http.RoundTripper
	if b.httpClient != nil {
		transport = b.httpClient.Transport
	}

	sess, err := newSession(cfg, app, authorization, userID, kind, sessionDeps{
		transport: transport,
		metrics:   metrics,
		auditCfg:  cfg.Audit,
		auditSink: b.auditSink,
		logger:    b.logger,
	})
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.ProfileType != "" {
		sess.profileType = rec.ProfileType
	}

	if store != nil {
		if err := sess.EnablePersistence(ctx, store); err != nil {
			sess.Close()
			return nil, err
		}
	}

	b.built = true
	return sess, nil
}
