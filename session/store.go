package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for the store's key.
	ErrNotFound = errors.New("session record not found")
	// ErrBackendUnavailable wraps backend I/O failures.
	ErrBackendUnavailable = errors.New("session backend unavailable")
	// ErrInvalidRecord is returned by Restore for records naming an unknown
	// strategy or failing a caller check.
	ErrInvalidRecord = errors.New("invalid session record")
)

// DefaultKeyPrefix namespaces persisted auth records.
const DefaultKeyPrefix = "swedbankjson_auth"

// Backend is the persistence port. Implementations must return ErrNotFound
// for missing or expired keys and treat Delete of a missing key as success.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Store binds a Backend to the record of one logical session.
type Store struct {
	backend Backend
	prefix  string
	id      string
	ttl     time.Duration
	sealer  *Sealer
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets how long a saved record lives in the backend (0 = no expiry).
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithSealer signs records before they reach the backend.
func WithSealer(sealer *Sealer) Option {
	return func(s *Store) {
		s.sealer = sealer
	}
}

// NewStore creates a store for the session identified by id (for example the
// caller's own web session ID).
func NewStore(backend Backend, id string, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		prefix:  DefaultKeyPrefix,
		id:      id,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the backend key used for this session.
func (s *Store) Key() string {
	if s.prefix == "" {
		return s.id
	}
	return s.prefix + ":" + s.id
}

// Available reports whether the backend is initialized and reachable.
func (s *Store) Available(ctx context.Context) error {
	if s == nil || s.backend == nil {
		return errors.New("session backend not configured")
	}
	if s.id == "" {
		return errors.New("session id is empty")
	}
	if err := s.backend.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Save writes rec using the current schema. SchemaVersion and SavedAt are
// stamped on rec.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	rec.SchemaVersion = CurrentSchemaVersion
	rec.SavedAt = s.now().Unix()

	data, err := Encode(rec)
	if err != nil {
		return err
	}
	if s.sealer != nil {
		if data, err = s.sealer.Seal(data, s.ttl); err != nil {
			return err
		}
	}

	return s.backend.Save(ctx, s.Key(), data, s.ttl)
}

// Restore loads the record. The strategy kind and every check must pass
// before anything else happens; a rejected record is left as stored.
// Records in an older layout are then rewritten in the current one.
func (s *Store) Restore(ctx context.Context, checks ...func(*Record) error) (*Record, error) {
	data, err := s.backend.Load(ctx, s.Key())
	if err != nil {
		return nil, err
	}

	if s.sealer != nil {
		if data, err = s.sealer.Open(data); err != nil {
			return nil, err
		}
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, err
	}

	if rec.Kind != KindPersonalCode && rec.Kind != KindMobileBankID {
		return nil, fmt.Errorf("%w: unknown strategy %s", ErrInvalidRecord, rec.Kind)
	}
	for _, check := range checks {
		if err := check(rec); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
	}

	if rec.SchemaVersion != CurrentSchemaVersion {
		migrated := *rec
		if err := s.Save(ctx, &migrated); err != nil {
			return nil, err
		}
		return &migrated, nil
	}

	return rec, nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.Key()); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
