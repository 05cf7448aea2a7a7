package session

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func newMemoryStore(t *testing.T, opts ...Option) (*Store, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	return NewStore(backend, "php-session-1", opts...), backend
}

func TestStoreSaveRestoreRoundTrip(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()

	in := testRecord()
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	if in.SavedAt == 0 || in.SchemaVersion != CurrentSchemaVersion {
		t.Fatalf("save must stamp version and time, got %+v", in)
	}

	out, err := store.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if *out != *in {
		t.Fatalf("restore mismatch:\n got %+v\nwant %+v", *out, *in)
	}
}

func TestStoreRestoreMissing(t *testing.T) {
	store, _ := newMemoryStore(t)
	if _, err := store.Restore(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	store, backend := newMemoryStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testRecord()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Delete(ctx); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if backend.Len() != 0 {
		t.Fatalf("expected empty backend, got %d entries", backend.Len())
	}
}

func TestStoreKeyPrefix(t *testing.T) {
	if got := NewStore(NewMemoryBackend(), "abc").Key(); got != DefaultKeyPrefix+":abc" {
		t.Fatalf("unexpected default key %q", got)
	}
	if got := NewStore(NewMemoryBackend(), "abc", WithKeyPrefix("")).Key(); got != "abc" {
		t.Fatalf("unexpected unprefixed key %q", got)
	}
}

func TestStoreAvailable(t *testing.T) {
	ctx := context.Background()

	var nilStore *Store
	if err := nilStore.Available(ctx); err == nil {
		t.Fatal("expected error for nil store")
	}
	if err := NewStore(nil, "x").Available(ctx); err == nil {
		t.Fatal("expected error for nil backend")
	}
	if err := NewStore(NewMemoryBackend(), "").Available(ctx); err == nil {
		t.Fatal("expected error for empty id")
	}
	if err := NewStore(NewMemoryBackend(), "x").Available(ctx); err != nil {
		t.Fatalf("expected memory backend available, got %v", err)
	}
}

func TestStoreRestoreMigratesLegacySchema(t *testing.T) {
	store, backend := newMemoryStore(t)
	ctx := context.Background()

	legacy := testRecord()
	if err := backend.Save(ctx, store.Key(), encodeLegacyV1Record(t, legacy), 0); err != nil {
		t.Fatalf("seed legacy record: %v", err)
	}

	rec, err := store.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if rec.SchemaVersion != CurrentSchemaVersion {
		t.Fatalf("expected migrated schema version %d, got %d", CurrentSchemaVersion, rec.SchemaVersion)
	}

	raw, err := backend.Load(ctx, store.Key())
	if err != nil {
		t.Fatalf("read migrated blob: %v", err)
	}
	if len(raw) == 0 || raw[0] != CurrentSchemaVersion {
		t.Fatalf("expected stored schema byte %d, got %v", CurrentSchemaVersion, raw)
	}
}

func TestStoreRestoreRejectsBeforeMigrating(t *testing.T) {
	store, backend := newMemoryStore(t)
	ctx := context.Background()

	legacy := testRecord()
	seeded := encodeLegacyV1Record(t, legacy)
	if err := backend.Save(ctx, store.Key(), seeded, 0); err != nil {
		t.Fatalf("seed legacy record: %v", err)
	}

	stateTooHigh := errors.New("state out of range")
	_, err := store.Restore(ctx, func(*Record) error { return stateTooHigh })
	if !errors.Is(err, ErrInvalidRecord) || !errors.Is(err, stateTooHigh) {
		t.Fatalf("expected ErrInvalidRecord wrapping the check error, got %v", err)
	}
	raw, err := backend.Load(ctx, store.Key())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(raw, seeded) {
		t.Fatal("rejected legacy record was rewritten")
	}

	unknown := testRecord()
	unknown.Kind = KindUnknown
	seeded = encodeLegacyV1Record(t, unknown)
	if err := backend.Save(ctx, store.Key(), seeded, 0); err != nil {
		t.Fatalf("seed unknown record: %v", err)
	}
	if _, err := store.Restore(ctx); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord for unknown kind, got %v", err)
	}
	if raw, _ := backend.Load(ctx, store.Key()); !bytes.Equal(raw, seeded) {
		t.Fatal("unknown-kind legacy record was rewritten")
	}
}

func TestStoreTTLExpiry(t *testing.T) {
	store, backend := newMemoryStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	now := time.Unix(1700000000, 0)
	backend.now = func() time.Time { return now }

	if err := store.Save(ctx, testRecord()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Restore(ctx); err != nil {
		t.Fatalf("restore before expiry: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := store.Restore(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestStoreSealedRoundTripAndTamper(t *testing.T) {
	sealer, err := NewSealer(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	store, backend := newMemoryStore(t, WithSealer(sealer), WithTTL(time.Hour))
	ctx := context.Background()

	in := testRecord()
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := backend.Load(ctx, store.Key())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if bytes.Count(raw, []byte(".")) != 2 {
		t.Fatalf("expected compact JWS in backend, got %q", raw)
	}

	out, err := store.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if out.Authorization != in.Authorization {
		t.Fatalf("authorization mismatch: %q != %q", out.Authorization, in.Authorization)
	}

	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-2] ^= 0x01
	if err := backend.Save(ctx, store.Key(), tampered, 0); err != nil {
		t.Fatalf("seed tampered blob: %v", err)
	}
	if _, err := store.Restore(ctx); !errors.Is(err, ErrRecordTampered) {
		t.Fatalf("expected ErrRecordTampered, got %v", err)
	}

	other, err := NewSealer(bytes.Repeat([]byte("z"), 32))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	foreign, err := other.Seal([]byte{CurrentSchemaVersion}, 0)
	if err != nil {
		t.Fatalf("seal foreign: %v", err)
	}
	if err := backend.Save(ctx, store.Key(), foreign, 0); err != nil {
		t.Fatalf("seed foreign blob: %v", err)
	}
	if _, err := store.Restore(ctx); !errors.Is(err, ErrRecordTampered) {
		t.Fatalf("expected ErrRecordTampered for foreign key, got %v", err)
	}
}

func TestSealerExpiredReadsAsNotFound(t *testing.T) {
	sealer, err := NewSealer(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	now := time.Unix(1700000000, 0)
	sealer.now = func() time.Time { return now }

	token, err := sealer.Seal([]byte("payload"), time.Minute)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	now = now.Add(time.Hour)
	if _, err := sealer.Open(token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired seal, got %v", err)
	}
}

func TestNewSealerRejectsShortKey(t *testing.T) {
	if _, err := NewSealer([]byte("short")); err == nil {
		t.Fatal("expected short key rejection")
	}
}
