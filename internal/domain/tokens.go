package domain

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	mathrand "math/rand/v2"

	"github.com/cockroachdb/errors"
)

const cancellationTokenBytes = 32

// NewAccessCode returns the 6-digit on-site code shown to the guest. It is a
// convenience code, not an authorization token.
func NewAccessCode() string {
	return fmt.Sprintf("%06d", mathrand.IntN(1_000_000))
}

// NewCancellationToken returns 256 random bits, base64url encoded without padding.
func NewCancellationToken() (string, error) {
	buf := make([]byte, cancellationTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "read random token")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func TokensEqual(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
