package session

// Kind identifies which authentication strategy produced a persisted record.
type Kind uint8

const (
	// KindUnknown marks a record whose strategy could not be determined.
	KindUnknown Kind = iota
	// KindPersonalCode is the direct-credential (personal code) strategy.
	KindPersonalCode
	// KindMobileBankID is the challenge-response (Mobile BankID) strategy.
	KindMobileBankID
)

func (k Kind) String() string {
	switch k {
	case KindPersonalCode:
		return "personal_code"
	case KindMobileBankID:
		return "mobile_bankid"
	default:
		return "unknown"
	}
}

// Record is the persisted form of an authenticated session.
//
// The field set is the schema: cookies and the live HTTP transport are never
// part of it. Adding a field means bumping CurrentSchemaVersion and teaching
// Decode how to read the previous layout.
type Record struct {
	SchemaVersion uint8
	Kind          Kind

	AppID         string
	UserAgent     string
	Authorization string
	ProfileType   string

	Debug      bool
	Persistent bool

	// State holds the strategy's own state machine value.
	State uint8

	SavedAt int64
}
