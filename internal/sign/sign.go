// Package sign builds the CEA authorization header required by the
// Coupang Partners open API.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// signedDateFormat is the upstream's signature timestamp layout (yyMMdd'T'HHmmss'Z').
const signedDateFormat = "060102T150405Z"

// ErrMissingCredentials is returned when the access key or secret key is
// empty. Callers must refuse to issue the request rather than send a header
// signed with empty values.
var ErrMissingCredentials = errors.New("sign: access key or secret key not configured")

// Signer produces authorization headers for upstream requests.
type Signer struct {
	accessKey string
	secretKey string
	now       func() time.Time
}

func New(accessKey, secretKey string) *Signer {
	return &Signer{
		accessKey: accessKey,
		secretKey: secretKey,
		now:       time.Now,
	}
}

// Authorization returns the CEA header value for a method and request path.
// The path may carry a query string.
func (s *Signer) Authorization(method, path string) (string, error) {
	if s.accessKey == "" || s.secretKey == "" {
		return "", ErrMissingCredentials
	}
	return s.authorization(method, path, s.now()), nil
}

// authorization signs with an explicit timestamp. The upstream verifies the
// signed date against its own clock, so the timestamp must be UTC.
func (s *Signer) authorization(method, path string, at time.Time) string {
	signedDate := at.UTC().Format(signedDateFormat)

	// Per the upstream's convention only the literal "?" is stripped from the
	// path; query keys and values stay in the message.
	message := signedDate + method + strings.ReplaceAll(path, "?", "")

	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(message))
	signature := hex.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("CEA algorithm=HmacSHA256, access-key=%s, signed-date=%s, signature=%s",
		s.accessKey, signedDate, signature)
}
