package goBankAuth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"
)

const (
	pathOverview     = "engagement/overview"
	pathTransactions = "engagement/transactions/"
	pathHoldings     = "portfolio/holdings"
	pathProfile      = "profile/"
	pathProfileMenus = "profile/private/"

	// allTransactionsPerPage is what the bank apps send to get every
	// transaction on one page.
	allTransactionsPerPage = 10000
)

// Client calls business endpoints through an Authenticator, logging in
// lazily. It only checks that the top-level field each endpoint is known
// for is present; the payload is returned as is.
type Client struct {
	auth Authenticator
}

// NewClient wraps auth.
func NewClient(auth Authenticator) *Client {
	return &Client{auth: auth}
}

// Authenticator returns the wrapped strategy.
func (c *Client) Authenticator() Authenticator {
	return c.auth
}

func (c *Client) ensureLogin(ctx context.Context) error {
	if c.auth.Authenticated() {
		return nil
	}
	return c.auth.Login(ctx)
}

func (c *Client) fetch(ctx context.Context, op string, req Request, field string) (json.RawMessage, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}
	out, err := c.auth.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(out, field).Exists() {
		c.auth.Session().metrics.Inc(MetricUnexpectedResponse)
		return nil, &UnexpectedResponseError{Operation: op, Field: field, Body: out}
	}
	return out, nil
}

// ListAccounts returns the engagement overview. The response must carry
// transactionAccounts.
func (c *Client) ListAccounts(ctx context.Context) (json.RawMessage, error) {
	return c.fetch(ctx, "ListAccounts", Get(pathOverview, nil), "transactionAccounts")
}

// AccountDetails returns the transactions of one account. With fetchAll
// every transaction is requested on a single page.
func (c *Client) AccountDetails(ctx context.Context, accountID string, fetchAll bool) (json.RawMessage, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: empty account id", ErrPrecondition)
	}
	var query url.Values
	if fetchAll {
		query = url.Values{
			"transactionsPerPage": {strconv.Itoa(allTransactionsPerPage)},
			"page":                {"1"},
		}
	}
	return c.fetch(ctx, "AccountDetails", Get(pathTransactions+url.PathEscape(accountID), query), "transactions")
}

// ListPortfolios returns investment holdings. The response must carry
// savingsAccounts.
func (c *Client) ListPortfolios(ctx context.Context) (json.RawMessage, error) {
	return c.fetch(ctx, "ListPortfolios", Get(pathHoldings, nil), "savingsAccounts")
}

// Profile returns the profile listing. At least one bank with a bankId must
// be present.
func (c *Client) Profile(ctx context.Context) (json.RawMessage, error) {
	return c.fetch(ctx, "Profile", Get(pathProfile, nil), "banks.0.bankId")
}

// SelectProfile activates the private profile of bankID for the session.
func (c *Client) SelectProfile(ctx context.Context, bankID string) (json.RawMessage, error) {
	if bankID == "" {
		return nil, fmt.Errorf("%w: empty bank id", ErrPrecondition)
	}
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}
	return c.auth.Do(ctx, Post(pathProfileMenus+url.PathEscape(bankID), nil))
}

// SelectDefaultProfile reads the profile listing and activates the first
// bank's private profile. It returns the selected bank ID.
func (c *Client) SelectDefaultProfile(ctx context.Context) (string, error) {
	profile, err := c.Profile(ctx)
	if err != nil {
		return "", err
	}
	bankID := gjson.GetBytes(profile, "banks.0.bankId").String()
	if _, err := c.SelectProfile(ctx, bankID); err != nil {
		return "", err
	}
	return bankID, nil
}

// Terminate logs out and cleans up the session.
func (c *Client) Terminate(ctx context.Context) error {
	return c.auth.Terminate(ctx)
}

// IsUnexpectedResponse reports whether err is a shape-check failure.
func IsUnexpectedResponse(err error) bool {
	return errors.Is(err, ErrUnexpectedResponse)
}
