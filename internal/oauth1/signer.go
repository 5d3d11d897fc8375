package oauth1

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SigningError indicates a request cannot be signed at all. It is raised only
// for a missing consumer secret and is never retryable.
type SigningError struct {
	Reason string
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("oauth1 signing: %s", e.Reason)
}

// PercentEncode encodes s per RFC 3986 section 2.1 with the unreserved set
// [A-Za-z0-9-._~] and uppercase hex, as required by OAuth 1.0a. This differs
// from url.QueryEscape, which encodes space as '+' and leaves '~' alone only
// incidentally.
func PercentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-' || c == '.' || c == '_' || c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// Sign computes the HMAC-SHA1 signature for a request.
//
// The base string is UPPER(method) & "&" & encode(url) & "&" &
// encode(paramString), where paramString is every key=value pair
// percent-encoded and sorted lexicographically on encoded key, then encoded
// value. The signing key is encode(consumerSecret) & "&" &
// encode(tokenSecret); an empty tokenSecret is valid and used for the
// request-token leg.
func Sign(method, rawURL string, params map[string]string, consumerSecret, tokenSecret string) (string, error) {
	if consumerSecret == "" {
		return "", &SigningError{Reason: "empty consumer secret"}
	}

	type pair struct{ key, value string }
	encoded := make([]pair, 0, len(params))
	for k, v := range params {
		encoded = append(encoded, pair{key: PercentEncode(k), value: PercentEncode(v)})
	}
	sort.Slice(encoded, func(i, j int) bool {
		if encoded[i].key != encoded[j].key {
			return encoded[i].key < encoded[j].key
		}
		return encoded[i].value < encoded[j].value
	})

	var paramString strings.Builder
	for i, p := range encoded {
		if i > 0 {
			paramString.WriteByte('&')
		}
		paramString.WriteString(p.key)
		paramString.WriteByte('=')
		paramString.WriteString(p.value)
	}

	baseString := strings.ToUpper(method) + "&" + PercentEncode(rawURL) + "&" + PercentEncode(paramString.String())
	signingKey := PercentEncode(consumerSecret) + "&" + PercentEncode(tokenSecret)

	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// AuthorizationHeader renders an OAuth Authorization header value from the
// oauth_* protocol parameters and the computed signature. Parameters are
// emitted in sorted order with the signature last; non-oauth parameters are
// ignored (they belong in the query string, not the header).
func AuthorizationHeader(params map[string]string, signature string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if strings.HasPrefix(k, "oauth_") && k != "oauth_signature" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OAuth ")
	for _, k := range keys {
		b.WriteString(PercentEncode(k))
		b.WriteString(`="`)
		b.WriteString(PercentEncode(params[k]))
		b.WriteString(`", `)
	}
	b.WriteString(`oauth_signature="`)
	b.WriteString(PercentEncode(signature))
	b.WriteString(`"`)
	return b.String()
}

// Signer binds a consumer credential pair with nonce/timestamp sources and
// produces signed Authorization headers for broker requests.
type Signer struct {
	ConsumerKey    string
	ConsumerSecret string

	// Now and Nonce are injectable for deterministic tests. Defaults are
	// time.Now and a random UUID.
	Now   func() time.Time
	Nonce func() string
}

// NewSigner creates a Signer with the default clock and nonce source.
func NewSigner(consumerKey, consumerSecret string) *Signer {
	return &Signer{
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		Now:            time.Now,
		Nonce:          uuid.NewString,
	}
}

// ProtocolParams returns the base oauth_* parameter set for a request signed
// with the given token. Token may be empty for the request-token leg. The
// extra map is merged in (e.g. oauth_callback, oauth_verifier) and wins on
// conflict.
func (s *Signer) ProtocolParams(token string, extra map[string]string) map[string]string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	nonce := uuid.NewString
	if s.Nonce != nil {
		nonce = s.Nonce
	}

	params := map[string]string{
		"oauth_consumer_key":     s.ConsumerKey,
		"oauth_nonce":            nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(now().Unix(), 10),
		"oauth_version":          "1.0",
	}
	if token != "" {
		params["oauth_token"] = token
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

// Header signs a request and returns the complete Authorization header value.
// tokenSecret may be empty for the request-token leg.
func (s *Signer) Header(method, rawURL string, params map[string]string, tokenSecret string) (string, error) {
	signature, err := Sign(method, rawURL, params, s.ConsumerSecret, tokenSecret)
	if err != nil {
		return "", err
	}
	return AuthorizationHeader(params, signature), nil
}
