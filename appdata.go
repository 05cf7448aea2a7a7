package goBankAuth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Profile types sent with profile requests.
const (
	ProfileTypePrivate   = "privateProfile"
	ProfileTypeCorporate = "corporateProfiles"
)

// AppData identifies the mobile app a session impersonates.
type AppData struct {
	AppID     string `json:"appID" validate:"required,printascii"`
	UserAgent string `json:"useragent" validate:"required,printascii"`
}

// Validate reports a malformed identity as ErrPrecondition.
func (a AppData) Validate() error {
	if err := validator.New().Struct(a); err != nil {
		return fmt.Errorf("%w: app data: %v", ErrPrecondition, err)
	}
	return nil
}

// ProfileType derives the profile kind from the user agent.
func (a AppData) ProfileType() string {
	if strings.Contains(a.UserAgent, "Corporate") {
		return ProfileTypeCorporate
	}
	return ProfileTypePrivate
}

// AppIdentityTable resolves a bank identifier to app data.
type AppIdentityTable interface {
	Lookup(bank string) (AppData, error)
}

// AppTable is a static AppIdentityTable.
type AppTable map[string]AppData

// Lookup implements AppIdentityTable.
func (t AppTable) Lookup(bank string) (AppData, error) {
	app, ok := t[bank]
	if !ok {
		return AppData{}, fmt.Errorf("%w: unknown bank %q (known: %s)", ErrPrecondition, bank, strings.Join(t.Banks(), ", "))
	}
	return app, nil
}

// Banks lists the table keys in sorted order.
func (t AppTable) Banks() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
