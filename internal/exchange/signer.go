package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Signer produces HMAC-SHA256 request signatures over the canonical query
// string. The timestamp parameter is injected before signing so replayed
// requests age out on the venue side.
type Signer struct {
	apiKey    string
	secretKey []byte
	now       func() time.Time
}

// NewSigner creates a signer for one venue credential pair.
func NewSigner(apiKey, secret string) *Signer {
	return &Signer{apiKey: apiKey, secretKey: []byte(secret), now: time.Now}
}

// APIKey returns the public API key for header injection.
func (s *Signer) APIKey() string { return s.apiKey }

// Sign canonicalizes params (sorted keys, url-encoded), appends a millisecond
// timestamp, and returns the signed query string including the signature.
func (s *Signer) Sign(params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(s.now().UnixMilli(), 10))

	canonical := canonicalize(params)
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(canonical))
	signature := hex.EncodeToString(mac.Sum(nil))

	return canonical + "&signature=" + signature
}

// Verify checks a signed query string; used by tests.
func (s *Signer) Verify(signedQuery string) bool {
	idx := strings.LastIndex(signedQuery, "&signature=")
	if idx < 0 {
		return false
	}
	canonical, signature := signedQuery[:idx], signedQuery[idx+len("&signature="):]

	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(canonical))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

func canonicalize(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}
