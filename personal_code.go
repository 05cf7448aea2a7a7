package goBankAuth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

const pathPersonalCode = "identification/personalcode"

// CredentialState is the personal code login state.
type CredentialState uint8

const (
	// CredentialUnauthenticated: no login attempted yet.
	CredentialUnauthenticated CredentialState = iota
	// CredentialAuthenticated: the bank accepted the personal code.
	CredentialAuthenticated
	// CredentialFailed: the attempt was rejected. Build a new session to retry.
	CredentialFailed
)

func (s CredentialState) String() string {
	switch s {
	case CredentialUnauthenticated:
		return "unauthenticated"
	case CredentialAuthenticated:
		return "authenticated"
	case CredentialFailed:
		return "failed"
	default:
		return fmt.Sprintf("CredentialState(%d)", uint8(s))
	}
}

// PersonalCode logs in with a user ID and personal code in one request.
// The personal code is held in memory only and is never persisted.
type PersonalCode struct {
	sess   *Session
	userID string
	code   string
	state  CredentialState
}

func newPersonalCode(sess *Session, userID, code string) *PersonalCode {
	p := &PersonalCode{sess: sess, userID: userID, code: code}
	sess.state = func() uint8 { return uint8(p.state) }
	return p
}

type personalCodeLogin struct {
	UseEasyLogin        bool   `json:"useEasyLogin"`
	Password            string `json:"password"`
	GenerateEasyLoginID bool   `json:"generateEasyLoginId"`
	UserID              string `json:"userId"`
}

// Login posts the credentials. Once authenticated it is a no-op; once
// failed it returns ErrLoginFailed without contacting the bank.
func (p *PersonalCode) Login(ctx context.Context) error {
	switch p.state {
	case CredentialAuthenticated:
		return nil
	case CredentialFailed:
		return ErrLoginFailed
	}

	out, err := p.sess.Do(ctx, Post(pathPersonalCode, personalCodeLogin{
		Password: p.code,
		UserID:   p.userID,
	}))
	if err != nil {
		return p.fail(ctx, err)
	}
	if gjson.GetBytes(out, "personalCodeChangeRequired").Bool() {
		return p.fail(ctx, ErrPersonalCodeChangeRequired)
	}
	if gjson.GetBytes(out, "links.next.uri").String() == "" {
		return p.fail(ctx, ErrLoginFailed)
	}

	p.state = CredentialAuthenticated
	p.sess.metrics.Inc(MetricLoginSuccess)
	p.sess.emit(AuditLoginSuccess, nil, nil)
	return p.sess.save(ctx)
}

func (p *PersonalCode) fail(ctx context.Context, err error) error {
	p.state = CredentialFailed
	p.sess.metrics.Inc(MetricLoginFailure)
	p.sess.emit(AuditLoginFailure, err, nil)
	return err
}

// State returns the current login state.
func (p *PersonalCode) State() CredentialState { return p.state }

// Authenticated implements Authenticator.
func (p *PersonalCode) Authenticated() bool { return p.state == CredentialAuthenticated }

// Do implements Authenticator.
func (p *PersonalCode) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	return p.sess.Do(ctx, req)
}

// Terminate implements Authenticator.
func (p *PersonalCode) Terminate(ctx context.Context) error {
	return p.sess.Terminate(ctx)
}

// Session implements Authenticator.
func (p *PersonalCode) Session() *Session { return p.sess }
