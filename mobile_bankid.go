package goBankAuth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	pathMobileBankID       = "identification/bankid/mobile"
	pathMobileBankIDVerify = "identification/bankid/mobile/verify"

	statusUserSign = "USER_SIGN"
	statusComplete = "COMPLETE"
)

// VerificationState is the Mobile BankID challenge state.
type VerificationState uint8

const (
	// VerificationUnverified: no challenge has been started.
	VerificationUnverified VerificationState = iota
	// VerificationPending: the user has been asked to sign in the BankID app.
	VerificationPending
	// VerificationVerified: the bank reported the signature complete.
	VerificationVerified
)

func (s VerificationState) String() string {
	switch s {
	case VerificationUnverified:
		return "unverified"
	case VerificationPending:
		return "pending_challenge"
	case VerificationVerified:
		return "verified"
	default:
		return fmt.Sprintf("VerificationState(%d)", uint8(s))
	}
}

// MobileBankID authenticates through an out-of-band signature in the
// BankID app: InitiateChallenge, then Poll until verified.
type MobileBankID struct {
	sess         *Session
	userID       string
	state        VerificationState
	pollInterval time.Duration
}

func newMobileBankID(sess *Session, userID string, pollInterval time.Duration) *MobileBankID {
	m := &MobileBankID{sess: sess, userID: userID, pollInterval: pollInterval}
	sess.state = func() uint8 { return uint8(m.state) }
	return m
}

type mobileBankIDStart struct {
	UseEasyLogin        bool   `json:"useEasyLogin"`
	GenerateEasyLoginID bool   `json:"generateEasyLoginId"`
	UserID              string `json:"userId"`
}

// InitiateChallenge asks the bank to push a signing request to the user's
// BankID app. It does nothing once verified.
func (m *MobileBankID) InitiateChallenge(ctx context.Context) error {
	if m.state == VerificationVerified {
		return nil
	}
	if m.userID == "" {
		return fmt.Errorf("%w: mobile bankid needs a user id", ErrPrecondition)
	}

	out, err := m.sess.Do(ctx, Post(pathMobileBankID, mobileBankIDStart{UserID: m.userID}))
	if err != nil {
		m.challengeFailed(ctx, err)
		return err
	}
	if status := gjson.GetBytes(out, "status").String(); status != statusUserSign {
		err := fmt.Errorf("%w: status %q", ErrChallengeInitiation, status)
		m.challengeFailed(ctx, err)
		return err
	}

	m.state = VerificationPending
	m.sess.metrics.Inc(MetricChallengeStarted)
	m.sess.emit(AuditChallengeStarted, nil, nil)
	return m.sess.save(ctx)
}

func (m *MobileBankID) challengeFailed(ctx context.Context, err error) {
	m.sess.metrics.Inc(MetricChallengeFailure)
	m.sess.emit(AuditChallengeFailure, err, nil)
}

// Poll asks the bank whether the user has signed. It returns true once
// verified, without a request when already verified. The new state is
// committed only together with a successful save; a poll that fails or
// whose ctx ends after the response leaves the state untouched.
func (m *MobileBankID) Poll(ctx context.Context) (bool, error) {
	if m.state == VerificationVerified {
		return true, nil
	}

	out, err := m.sess.Do(ctx, Get(pathMobileBankIDVerify, nil))
	if err != nil {
		return false, err
	}
	status := gjson.GetBytes(out, "status").String()
	if status == "" {
		return false, ErrVerification
	}
	m.sess.metrics.Inc(MetricVerificationPoll)

	next := VerificationPending
	if status == statusComplete {
		next = VerificationVerified
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	prev := m.state
	m.state = next
	if err := m.sess.save(ctx); err != nil {
		m.state = prev
		return false, err
	}
	if next == VerificationVerified {
		m.sess.metrics.Inc(MetricVerificationComplete)
		m.sess.emit(AuditVerificationComplete, nil, map[string]string{"status": status})
		return true, nil
	}
	return false, nil
}

// WaitForVerification polls at most once per interval until the user has
// signed, a poll fails, or ctx ends. A non-positive interval uses the
// configured poll interval. The first poll is immediate.
func (m *MobileBankID) WaitForVerification(ctx context.Context, interval time.Duration) error {
	if m.state == VerificationVerified {
		return nil
	}
	if m.state == VerificationUnverified {
		return fmt.Errorf("%w: no challenge started", ErrPrecondition)
	}
	if interval <= 0 {
		interval = m.pollInterval
	}

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		verified, err := m.Poll(ctx)
		if err != nil {
			return err
		}
		if verified {
			return nil
		}
	}
}

// Login succeeds only after verification. It never contacts the bank.
func (m *MobileBankID) Login(context.Context) error {
	if m.state != VerificationVerified {
		return ErrNotVerified
	}
	return nil
}

// State returns the current challenge state.
func (m *MobileBankID) State() VerificationState { return m.state }

// Authenticated implements Authenticator.
func (m *MobileBankID) Authenticated() bool { return m.state == VerificationVerified }

// Do implements Authenticator.
func (m *MobileBankID) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	return m.sess.Do(ctx, req)
}

// Terminate implements Authenticator.
func (m *MobileBankID) Terminate(ctx context.Context) error {
	return m.sess.Terminate(ctx)
}

// Session implements Authenticator.
func (m *MobileBankID) Session() *Session { return m.sess }
