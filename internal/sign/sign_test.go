package sign

import (
	"strings"
	"testing"
	"time"
)

var fixedTime = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func TestAuthorizationMissingCredentials(t *testing.T) {
	cases := []struct {
		name   string
		access string
		secret string
	}{
		{"no access key", "", "secret"},
		{"no secret key", "access", ""},
		{"neither", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(tc.access, tc.secret)
			if _, err := s.Authorization("GET", "/v1/products/goldbox"); err != ErrMissingCredentials {
				t.Fatalf("expected ErrMissingCredentials, got %v", err)
			}
		})
	}
}

func TestAuthorizationFormat(t *testing.T) {
	s := New("AKEY", "SKEY")
	header := s.authorization("GET", "/v1/products/goldbox", fixedTime)

	if !strings.HasPrefix(header, "CEA algorithm=HmacSHA256, access-key=AKEY, signed-date=240315T093000Z, signature=") {
		t.Fatalf("unexpected header: %s", header)
	}
	sig := header[strings.LastIndex(header, "=")+1:]
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars of signature, got %d (%s)", len(sig), sig)
	}
	for _, c := range sig {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("signature not lowercase hex: %s", sig)
		}
	}
}

func TestAuthorizationDeterministic(t *testing.T) {
	s := New("AKEY", "SKEY")
	a := s.authorization("GET", "/v1/products/search?keyword=tv", fixedTime)
	b := s.authorization("GET", "/v1/products/search?keyword=tv", fixedTime)
	if a != b {
		t.Fatal("same inputs produced different signatures")
	}
}

func TestAuthorizationVariesWithInputs(t *testing.T) {
	base := New("AKEY", "SKEY").authorization("GET", "/v1/deeplink", fixedTime)

	variants := []string{
		New("AKEY", "SKEY").authorization("POST", "/v1/deeplink", fixedTime),
		New("AKEY", "SKEY").authorization("GET", "/v1/deeplink2", fixedTime),
		New("AKEY", "OTHER").authorization("GET", "/v1/deeplink", fixedTime),
		New("AKEY", "SKEY").authorization("GET", "/v1/deeplink", fixedTime.Add(time.Second)),
	}
	for i, v := range variants {
		if signatureOf(v) == signatureOf(base) {
			t.Fatalf("variant %d produced the same signature as base", i)
		}
	}
}

// TestAuthorizationStripsQuestionMark verifies that only the literal "?" is
// removed from the signed message: a path with the query marker signs the
// same as the path with the marker deleted but the query text kept.
func TestAuthorizationStripsQuestionMark(t *testing.T) {
	s := New("AKEY", "SKEY")
	withMarker := s.authorization("GET", "/v1/products/search?keyword=tv&limit=20", fixedTime)
	without := s.authorization("GET", "/v1/products/searchkeyword=tv&limit=20", fixedTime)
	if signatureOf(withMarker) != signatureOf(without) {
		t.Fatal("expected the query marker to be the only character stripped")
	}
}

func signatureOf(header string) string {
	return header[strings.LastIndex(header, "=")+1:]
}
