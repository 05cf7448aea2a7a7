package goBankAuth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func TestAuditTrailDisabledIsInert(t *testing.T) {
	if tr := newAuditTrail(AuditConfig{Enabled: false}, &countingSink{}, AuditEvent{}); tr != nil {
		t.Fatal("disabled audit must not start a trail")
	}
	var tr *auditTrail
	tr.record(AuditLogout, nil, nil)
	tr.end()
	if tr.droppedCount() != 0 {
		t.Fatal("nil trail must be inert")
	}
}

func TestAuditTrailStampsSessionIdentity(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := NewChannelSink(4)
	tr := newAuditTrail(AuditConfig{Enabled: true, BufferSize: 4}, sink, AuditEvent{
		UserID: "199001011234",
		AppID:  testApp.AppID,
		Method: "mobile_bankid",
	})
	tr.record(AuditChallengeFailure, errors.New("status SIGN_FAILED"), map[string]string{"status": "SIGN_FAILED"})
	tr.end()

	select {
	case ev := <-sink.Events():
		if ev.EventType != AuditChallengeFailure || ev.Timestamp.IsZero() {
			t.Fatalf("event = %+v", ev)
		}
		if ev.UserID != "199001011234" || ev.AppID != testApp.AppID || ev.Method != "mobile_bankid" {
			t.Fatalf("identity not stamped: %+v", ev)
		}
		if ev.Success || ev.Error != "status SIGN_FAILED" || ev.Metadata["status"] != "SIGN_FAILED" {
			t.Fatalf("outcome not recorded: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestAuditTrailFullQueueDropsWithoutBlocking(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := newGateSink()
	tr := newAuditTrail(AuditConfig{Enabled: true, BufferSize: 1}, sink, AuditEvent{})
	defer func() {
		close(sink.gate)
		tr.end()
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			tr.record(AuditVerificationComplete, nil, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("record blocked on a full queue")
	}
	if tr.droppedCount() == 0 {
		t.Fatal("expected drops while the sink is stalled")
	}
}

func TestAuditTrailEndFlushesAndIgnoresLaterRecords(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := &countingSink{}
	tr := newAuditTrail(AuditConfig{Enabled: true, BufferSize: 4}, sink, AuditEvent{})

	tr.record(AuditLogout, nil, nil)
	tr.record(AuditSessionCleanup, nil, nil)
	tr.end()
	tr.end()
	tr.record(AuditLogout, nil, nil)

	if sink.Count() != 2 {
		t.Fatalf("expected queued events flushed on end, got %d", sink.Count())
	}
	if tr.droppedCount() != 0 {
		t.Fatalf("records after end are not drops, got %d", tr.droppedCount())
	}
}

func TestClientTerminateStopsAuditWorker(t *testing.T) {
	bank := newFakeBank(t)
	bank.json(http.MethodPost, pathPersonalCode, http.StatusOK, loginOK)
	bank.json(http.MethodGet, pathOverview, http.StatusOK, overviewOK)
	opts := []goleak.Option{
		goleak.IgnoreCurrent(),
		goleak.IgnoreAnyFunction("net/http.(*conn).serve"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	}

	cfg := bank.config()
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 8}
	sink := &countingSink{}
	c := NewClient(bank.personalCode(t, New().WithConfig(cfg).WithAppData(testApp).WithAuditSink(sink)))
	ctx := context.Background()

	if _, err := c.ListAccounts(ctx); err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if err := c.Terminate(ctx); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	goleak.VerifyNone(t, opts...)
	if sink.Count() != 3 {
		t.Fatalf("expected login, logout and cleanup delivered before Terminate returns, got %d", sink.Count())
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: AuditLoginSuccess,
		UserID:    "u1",
		Success:   true,
	})

	if !buf.Contains(`"event_type":"login_success"`) || !buf.Contains(`"user_id":"u1"`) {
		t.Fatalf("unexpected JSON line %q", buf.String())
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatal("expected newline-terminated record")
	}
}

func TestAuditSlogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	sink.Emit(context.Background(), AuditEvent{
		EventType: AuditLoginFailure,
		UserID:    "u1",
		Error:     "login failed",
		Metadata:  map[string]string{"reason": "x"},
	})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v", err)
	}
	if line["level"] != "WARN" || line["event_type"] != AuditLoginFailure || line["meta.reason"] != "x" {
		t.Fatalf("log line = %v", line)
	}
}

func TestSessionAuditEventsCarryNoSecrets(t *testing.T) {
	bank := newFakeBank(t)
	bank.json(http.MethodPost, pathPersonalCode, http.StatusOK, loginOK)

	cfg := bank.config()
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 16}
	sink := NewChannelSink(16)
	p := bank.personalCode(t, New().WithConfig(cfg).WithAppData(testApp).WithAuditSink(sink))
	ctx := context.Background()

	if err := p.Login(ctx); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := p.Terminate(ctx); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	p.Session().Close()

	var types []string
	needles := []string{"secret-code-9911", p.Session().AuthorizationKey()}
	for len(types) < 3 {
		select {
		case ev := <-sink.Events():
			types = append(types, ev.EventType)
			data, _ := json.Marshal(ev)
			for _, n := range needles {
				if strings.Contains(string(data), n) {
					t.Fatalf("secret leaked in audit event %s", data)
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing audit events, got %v", types)
		}
	}
	want := []string{AuditLoginSuccess, AuditLogout, AuditSessionCleanup}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
	if p.Session().AuditDropped() != 0 {
		t.Fatal("no events should be dropped")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *syncBuffer) Contains(v string) bool {
	return strings.Contains(b.String(), v)
}
