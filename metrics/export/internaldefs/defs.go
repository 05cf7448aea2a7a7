package internaldefs

import (
	"math"

	goBankAuth "github.com/MrEthical07/goBankAuth"
)

// CounterDef names one goBankAuth counter for exporters.
type CounterDef struct {
	ID   goBankAuth.MetricID
	Name string
	Help string
}

// HistogramDef names one goBankAuth histogram for exporters.
type HistogramDef struct {
	ID   goBankAuth.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for events lost by a full session audit queue.
const AuditDroppedName = "bankauth_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Audit events dropped because the session audit queue was full."

// CounterDefs lists every exported counter.
var CounterDefs = []CounterDef{
	{ID: goBankAuth.MetricRequest, Name: "bankauth_requests_total", Help: "Requests sent to the bank API."},
	{ID: goBankAuth.MetricRequestClientError, Name: "bankauth_request_client_errors_total", Help: "Requests answered with a 4xx status."},
	{ID: goBankAuth.MetricRequestServerError, Name: "bankauth_request_server_errors_total", Help: "Requests answered with a 5xx status."},
	{ID: goBankAuth.MetricRequestTransportError, Name: "bankauth_request_transport_errors_total", Help: "Requests that received no response."},
	{ID: goBankAuth.MetricUnexpectedResponse, Name: "bankauth_unexpected_responses_total", Help: "Responses that failed shape checks."},
	{ID: goBankAuth.MetricLoginSuccess, Name: "bankauth_login_success_total", Help: "Accepted personal code logins."},
	{ID: goBankAuth.MetricLoginFailure, Name: "bankauth_login_failure_total", Help: "Rejected personal code logins."},
	{ID: goBankAuth.MetricChallengeStarted, Name: "bankauth_challenge_started_total", Help: "Mobile BankID challenges accepted by the bank."},
	{ID: goBankAuth.MetricChallengeFailure, Name: "bankauth_challenge_failure_total", Help: "Mobile BankID challenges refused by the bank."},
	{ID: goBankAuth.MetricVerificationPoll, Name: "bankauth_verification_polls_total", Help: "Completed Mobile BankID verification polls."},
	{ID: goBankAuth.MetricVerificationComplete, Name: "bankauth_verification_complete_total", Help: "Mobile BankID verifications reported complete."},
	{ID: goBankAuth.MetricLogout, Name: "bankauth_logout_total", Help: "Logout requests sent."},
	{ID: goBankAuth.MetricSessionCleanup, Name: "bankauth_session_cleanup_total", Help: "Session cleanups (jar and transport discarded)."},
	{ID: goBankAuth.MetricSessionSaved, Name: "bankauth_session_saved_total", Help: "Persisted session records written."},
	{ID: goBankAuth.MetricSessionRestored, Name: "bankauth_session_restored_total", Help: "Sessions rebuilt from a persisted record."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goBankAuth.MetricRequestLatency, Name: "bankauth_request_latency_seconds", Help: "Bank API round-trip latency."},
}

// HistogramUpperBounds are the bucket bounds in seconds, matching the
// in-process histogram. The last bound is +Inf.
var HistogramUpperBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, math.Inf(1)}

// HistogramBoundSuffix names each bound for exporters that cannot carry
// labels per bucket.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
