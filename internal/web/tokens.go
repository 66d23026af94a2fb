package web

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	tokenMaxAge     = 24 * time.Hour
	tokenClockSkew  = 5 * time.Minute
	nonceCookieName = "form_nonce"
)

// FormSigner issues and checks form tokens. A token binds the browser's
// nonce cookie to an issue time: "<unix>.<hex hmac>".
type FormSigner struct {
	key []byte
	now func() time.Time
}

// NewFormSigner derives the signing key from secret. An empty secret gets a
// random key, so tokens do not survive a restart.
func NewFormSigner(secret string) (*FormSigner, error) {
	var key []byte
	if strings.TrimSpace(secret) == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate form key: %w", err)
		}
	} else {
		h := hmac.New(sha256.New, []byte("CatalogForm"))
		h.Write([]byte(secret))
		key = h.Sum(nil)
	}
	return &FormSigner{key: key, now: time.Now}, nil
}

func (s *FormSigner) Issue(nonce string) string {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	return ts + "." + s.sign(nonce, ts)
}

func (s *FormSigner) Verify(token string, nonce string) error {
	if token == "" {
		return fmt.Errorf("token is missing")
	}
	if nonce == "" {
		return fmt.Errorf("nonce is missing")
	}

	ts, sig, ok := strings.Cut(token, ".")
	if !ok {
		return fmt.Errorf("malformed token")
	}

	expected := s.sign(nonce, ts)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("signature mismatch")
	}

	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed timestamp: %w", err)
	}
	issuedAt := time.Unix(issued, 0)
	now := s.now()

	if now.Sub(issuedAt) > tokenMaxAge {
		return fmt.Errorf("token expired (older than 24h)")
	}
	if issuedAt.Sub(now) > tokenClockSkew {
		return fmt.Errorf("token is from future (check server time)")
	}
	return nil
}

func (s *FormSigner) sign(nonce, ts string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(nonce + "\n" + ts))
	return hex.EncodeToString(h.Sum(nil))
}

func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
