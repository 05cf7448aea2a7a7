package goBankAuth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/MrEthical07/goBankAuth/session"
)

type doMode uint8

const (
	// modePrimary applies failure handling (logout on 4xx, cleanup).
	modePrimary doMode = iota
	// modeSecondary returns failures untouched. Used for logout itself so a
	// failing logout can never trigger another one.
	modeSecondary
)

const redactedValue = "[REDACTED]"

// Session is one authenticated conversation with the bank API: app
// identity, authorization key, cookie jar and transport. It is not safe
// for concurrent use.
type Session struct {
	app           AppData
	authorization string
	profileType   string
	debug         bool
	persistent    bool
	kind          session.Kind

	pipe    *pipeline
	store   *session.Store
	metrics *Metrics
	audit   *auditTrail
	logger  *slog.Logger

	// state returns the owning strategy's state for persisted records.
	state func() uint8
}

type sessionDeps struct {
	transport http.RoundTripper
	metrics   *Metrics
	auditCfg  AuditConfig
	auditSink AuditSink
	logger    *slog.Logger
}

func newSession(cfg Config, app AppData, authorization, userID string, kind session.Kind, deps sessionDeps) (*Session, error) {
	if err := app.Validate(); err != nil {
		return nil, err
	}
	if authorization == "" {
		return nil, fmt.Errorf("%w: authorization key is empty", ErrPrecondition)
	}
	pipe, err := newPipeline(cfg.Transport, cfg.Endpoint(), deps.transport)
	if err != nil {
		return nil, err
	}
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}
	trail := newAuditTrail(deps.auditCfg, deps.auditSink, AuditEvent{
		UserID: userID,
		AppID:  app.AppID,
		Method: kind.String(),
	})
	return &Session{
		app:           app,
		authorization: authorization,
		profileType:   app.ProfileType(),
		debug:         cfg.Debug,
		kind:          kind,
		pipe:          pipe,
		metrics:       deps.metrics,
		audit:         trail,
		logger:        logger.With(slog.String("component", "bankauth"), slog.String("method", kind.String())),
		state:         func() uint8 { return 0 },
	}, nil
}

// AppData returns the app identity the session presents.
func (s *Session) AppData() AppData { return s.app }

// AuthorizationKey returns the key sent in the Authorization header.
func (s *Session) AuthorizationKey() string { return s.authorization }

// ProfileType is "privateProfile" or "corporateProfiles".
func (s *Session) ProfileType() string { return s.profileType }

// Debug reports whether exchanges are logged.
func (s *Session) Debug() bool { return s.debug }

// Persistent reports whether the session is mirrored to a store.
func (s *Session) Persistent() bool { return s.persistent }

// Kind returns the strategy that owns the session.
func (s *Session) Kind() session.Kind { return s.kind }

// TransportReady reports whether a cookie jar and HTTP client exist.
func (s *Session) TransportReady() bool { return s.pipe.ready() }

// Cookies returns the jar's cookies for the API root, or nil when the
// transport is not initialized.
func (s *Session) Cookies() []*http.Cookie { return s.pipe.cookies() }

// MetricsSnapshot returns the counters this session reports to.
func (s *Session) MetricsSnapshot() MetricsSnapshot { return s.metrics.Snapshot() }

// AuditDropped returns the number of audit events lost to a full buffer.
func (s *Session) AuditDropped() uint64 { return s.audit.droppedCount() }

// Close flushes queued audit events and stops the audit worker. The session
// stays usable but records no further audit events. Terminate closes the
// session itself.
func (s *Session) Close() {
	s.audit.end()
}

// EnablePersistence mirrors the session to store. The store must be
// reachable now; a nil or unreachable store is ErrPrecondition.
func (s *Session) EnablePersistence(ctx context.Context, store *session.Store) error {
	if store == nil {
		return fmt.Errorf("%w: persistence requested without a store", ErrPrecondition)
	}
	if err := store.Available(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPrecondition, err)
	}
	s.store = store
	s.persistent = true
	return nil
}

// Do sends req through the pipeline and returns the decoded JSON body, nil
// for an empty body.
//
// Failure handling keeps the asymmetry bank app clients have always had:
// a 4xx response triggers one logout attempt and then cleanup, a 5xx only
// cleanup, a transport failure neither. Cleanup drops the cookie jar and
// transport and deletes the persisted record. The next call starts a fresh
// transport.
func (s *Session) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	return s.do(ctx, req, modePrimary)
}

func (s *Session) do(ctx context.Context, req Request, mode doMode) (json.RawMessage, error) {
	if s.authorization == "" || s.app.UserAgent == "" {
		return nil, fmt.Errorf("%w: session has no authorization key or user agent", ErrPrecondition)
	}

	ex, err := s.pipe.send(ctx, req, s.authorization, s.app.UserAgent)
	if err != nil {
		var transportErr *TransportError
		var unexpectedErr *UnexpectedResponseError
		switch {
		case errors.As(err, &transportErr):
			s.metrics.Inc(MetricRequest)
			s.metrics.Inc(MetricRequestTransportError)
		case errors.As(err, &unexpectedErr):
			s.metrics.Inc(MetricRequest)
			s.metrics.Inc(MetricUnexpectedResponse)
		}
		if s.debug {
			s.logger.LogAttrs(ctx, slog.LevelDebug, "bank api exchange failed",
				slog.String("http_method", req.Method),
				slog.String("path", req.Path),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	s.metrics.Inc(MetricRequest)
	s.metrics.Observe(MetricRequestLatency, ex.duration)
	s.logExchange(ctx, req, ex)

	if ex.status >= http.StatusBadRequest {
		apiErr := &APIError{
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: ex.status,
			Header:     ex.header,
			Body:       ex.body,
		}
		if mode == modeSecondary {
			return nil, apiErr
		}
		if apiErr.ServerSide() {
			s.metrics.Inc(MetricRequestServerError)
			_ = s.cleanup(ctx, "server_error")
			return nil, apiErr
		}
		s.metrics.Inc(MetricRequestClientError)
		s.logout(ctx)
		_ = s.cleanup(ctx, "client_error")
		return nil, apiErr
	}

	if len(ex.body) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(ex.body) {
		s.metrics.Inc(MetricUnexpectedResponse)
		return nil, &UnexpectedResponseError{
			Operation: req.Method + " " + req.Path,
			Body:      ex.body,
			Err:       errors.New("body is not valid JSON"),
		}
	}
	return json.RawMessage(ex.body), nil
}

// logout sends one logout request and reports any failure. It never
// cleans up by itself.
func (s *Session) logout(ctx context.Context) error {
	_, err := s.do(ctx, logoutRequest(), modeSecondary)
	s.metrics.Inc(MetricLogout)
	s.emit(AuditLogout, err, nil)
	return err
}

// cleanup drops the transport and the persisted record. The delete runs
// even when ctx is already cancelled.
func (s *Session) cleanup(ctx context.Context, reason string) error {
	s.pipe.reset()
	s.metrics.Inc(MetricSessionCleanup)

	var err error
	if s.persistent && s.store != nil {
		if err = s.store.Delete(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "delete persisted session", slog.String("error", err.Error()))
		}
	}
	s.emit(AuditSessionCleanup, err, map[string]string{"reason": reason})
	return err
}

// Terminate logs out, cleans up and ends the audit trail. Cleanup happens
// even when logout fails; the returned error joins the logout and delete
// failures.
func (s *Session) Terminate(ctx context.Context) error {
	logoutErr := s.logout(ctx)
	cleanupErr := s.cleanup(ctx, "terminate")
	s.audit.end()
	return errors.Join(logoutErr, cleanupErr)
}

func (s *Session) record() *session.Record {
	return &session.Record{
		Kind:          s.kind,
		AppID:         s.app.AppID,
		UserAgent:     s.app.UserAgent,
		Authorization: s.authorization,
		ProfileType:   s.profileType,
		Debug:         s.debug,
		Persistent:    s.persistent,
		State:         s.state(),
	}
}

// save writes the record when persistence is on.
func (s *Session) save(ctx context.Context) error {
	if !s.persistent || s.store == nil {
		return nil
	}
	if err := s.store.Save(ctx, s.record()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.metrics.Inc(MetricSessionSaved)
	return nil
}

func (s *Session) emit(eventType string, err error, meta map[string]string) {
	s.audit.record(eventType, err, meta)
}

func (s *Session) logExchange(ctx context.Context, req Request, ex *exchange) {
	if !s.debug || !s.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	attrs := []slog.Attr{
		slog.String("http_method", req.Method),
		slog.String("path", req.Path),
		slog.Int("status", ex.status),
		slog.Duration("duration", ex.duration),
		slog.Int("response_bytes", len(ex.body)),
	}
	if len(ex.reqBody) > 0 {
		attrs = append(attrs, slog.String("request_body", string(redactBody(ex.reqBody))))
	}
	s.logger.LogAttrs(ctx, slog.LevelDebug, "bank api exchange", attrs...)
}

// redactBody masks credential fields in a JSON request body. Non-JSON
// bodies are replaced entirely.
func redactBody(body []byte) []byte {
	if !gjson.ValidBytes(body) {
		return []byte(redactedValue)
	}
	out := body
	for _, field := range []string{"password", "personalCode"} {
		if !gjson.GetBytes(out, field).Exists() {
			continue
		}
		redacted, err := sjson.SetBytes(out, field, redactedValue)
		if err != nil {
			return []byte(redactedValue)
		}
		out = redacted
	}
	return out
}
