package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// DSIDLength is the length of the per-request anti-cache token.
const DSIDLength = 8

const (
	dsidHalf       = DSIDLength / 2
	lowerHexDigits = "0123456789abcdef"
	upperHexDigits = "0123456789ABCDEF"
)

var errDSIDSource = errors.New("dsid random source exhausted")

// NewDSID returns a fresh dsid drawn from crypto/rand.
func NewDSID() (string, error) {
	return NewDSIDFrom(rand.Reader)
}

// NewDSIDFrom builds a dsid from the given random source. The first half is
// lowercase hex with at least one letter, the second half uppercase hex. Each
// half is shuffled independently; characters never cross halves.
//
// The lower half is redrawn while it is all digits, so its positions are not
// uniform over 0-9a-f: each holds a digit with probability about 0.56
// instead of 0.625. The upper half is uniform.
func NewDSIDFrom(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}

	var out [DSIDLength]byte

	for {
		hasLetter := false
		for i := 0; i < dsidHalf; i++ {
			n, err := randIndex(r, len(lowerHexDigits))
			if err != nil {
				return "", err
			}
			out[i] = lowerHexDigits[n]
			if n >= 10 {
				hasLetter = true
			}
		}
		if hasLetter {
			break
		}
	}

	for i := dsidHalf; i < DSIDLength; i++ {
		n, err := randIndex(r, len(upperHexDigits))
		if err != nil {
			return "", err
		}
		out[i] = upperHexDigits[n]
	}

	if err := shuffle(r, out[:dsidHalf]); err != nil {
		return "", err
	}
	if err := shuffle(r, out[dsidHalf:]); err != nil {
		return "", err
	}

	return string(out[:]), nil
}

// NewAuthorizationKey derives the Authorization header value for a new
// session: base64(appID + ":" + UPPER(uuidv4)).
func NewAuthorizationKey(appID string) string {
	raw := appID + ":" + strings.ToUpper(uuid.NewString())
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func shuffle(r io.Reader, b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randIndex(r, i+1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

func randIndex(r io.Reader, n int) (int, error) {
	v, err := rand.Int(r, big.NewInt(int64(n)))
	if err != nil {
		return 0, errors.Join(errDSIDSource, err)
	}
	return int(v.Int64()), nil
}
