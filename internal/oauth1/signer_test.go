package oauth1

import (
	"strings"
	"testing"
	"time"
)

func TestPercentEncode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "unreserved untouched", input: "Abc123-._~", expected: "Abc123-._~"},
		{name: "space", input: "a b", expected: "a%20b"},
		{name: "plus", input: "a+b", expected: "a%2Bb"},
		{name: "ampersand and equals", input: "a&b=c", expected: "a%26b%3Dc"},
		{name: "uppercase hex", input: "/", expected: "%2F"},
		{name: "utf8 multibyte", input: "é", expected: "%C3%A9"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PercentEncode(tt.input); got != tt.expected {
				t.Errorf("PercentEncode(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

// Known-answer vector from the RFC 5849 era Twitter API documentation, the
// canonical worked example of HMAC-SHA1 request signing.
func TestSignKnownAnswer(t *testing.T) {
	params := map[string]string{
		"oauth_consumer_key":     "xvz1evFS4wEEPTGEFPHBog",
		"oauth_nonce":            "kYjzVBB8Y0ZFabxSWbWovY3uYSQ2pTgmZeNu2VS4cg",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        "1318622958",
		"oauth_token":            "370773112-GmHxMAgYyLbNEtIKZeRNFsMKPR9EyMZeS9weJAEb",
		"oauth_version":          "1.0",
		"include_entities":       "true",
		"status":                 "Hello Ladies + Gentlemen, a signed OAuth request!",
	}

	got, err := Sign(
		"post",
		"https://api.twitter.com/1/statuses/update.json",
		params,
		"kAcSOqF21Fu85e7zjz7ZN2U4ZRhfV3WpwPAoE3Z7kBw",
		"LswwdoUaIvS8ltyTt5jkRh4J50vUPVVHtR2YPi5kE",
	)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if want := "tnnArxj06cWHq44gCs1OSKk/jLY="; got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}
}

func TestSignEmptyTokenSecret(t *testing.T) {
	params := map[string]string{"oauth_consumer_key": "CKEY"}

	got, err := Sign("GET", "https://broker.example/oauth/request_token", params, "CSECRET", "")
	if err != nil {
		t.Fatalf("Sign() with empty token secret should succeed, got %v", err)
	}
	if got == "" {
		t.Error("Sign() returned empty signature")
	}
}

func TestSignMissingConsumerSecret(t *testing.T) {
	_, err := Sign("GET", "https://broker.example/x", map[string]string{"a": "b"}, "", "ts")
	if err == nil {
		t.Fatal("Sign() with empty consumer secret should fail")
	}
	if _, ok := err.(*SigningError); !ok {
		t.Errorf("expected *SigningError, got %T", err)
	}
}

func TestSignDeterministicAndSensitive(t *testing.T) {
	base := map[string]string{
		"oauth_consumer_key": "CKEY",
		"oauth_nonce":        "fixed-nonce",
		"oauth_timestamp":    "1700000000",
		"oauth_callback":     "oob",
	}

	first, err := Sign("GET", "https://broker.example/oauth/request_token", base, "CSECRET", "")
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	second, _ := Sign("GET", "https://broker.example/oauth/request_token", base, "CSECRET", "")
	if first != second {
		t.Errorf("signature not deterministic: %q vs %q", first, second)
	}

	// Flipping a single character of any parameter must change the signature.
	mutated := map[string]string{}
	for k, v := range base {
		mutated[k] = v
	}
	mutated["oauth_nonce"] = "fixed-noncf"
	changed, _ := Sign("GET", "https://broker.example/oauth/request_token", mutated, "CSECRET", "")
	if changed == first {
		t.Error("signature unchanged after mutating a parameter")
	}
}

func TestAuthorizationHeader(t *testing.T) {
	params := map[string]string{
		"oauth_consumer_key": "CKEY",
		"oauth_nonce":        "n1",
		"oauth_callback":     "oob",
		"status":             "not-a-protocol-param",
	}

	header := AuthorizationHeader(params, "sig+value")

	if !strings.HasPrefix(header, "OAuth ") {
		t.Fatalf("header missing OAuth prefix: %q", header)
	}
	if strings.Contains(header, "status") {
		t.Error("non-oauth parameter leaked into header")
	}
	if !strings.HasSuffix(header, `oauth_signature="sig%2Bvalue"`) {
		t.Errorf("signature not encoded last: %q", header)
	}
	if !strings.Contains(header, `oauth_callback="oob"`) {
		t.Errorf("missing oauth_callback: %q", header)
	}
}

func TestSignerProtocolParams(t *testing.T) {
	s := NewSigner("CKEY", "CSECRET")
	s.Now = func() time.Time { return time.Unix(1700000000, 0) }
	s.Nonce = func() string { return "nonce-1" }

	params := s.ProtocolParams("", map[string]string{"oauth_callback": "oob"})

	if params["oauth_timestamp"] != "1700000000" {
		t.Errorf("oauth_timestamp = %q", params["oauth_timestamp"])
	}
	if params["oauth_nonce"] != "nonce-1" {
		t.Errorf("oauth_nonce = %q", params["oauth_nonce"])
	}
	if _, ok := params["oauth_token"]; ok {
		t.Error("oauth_token present for request-token leg")
	}

	withToken := s.ProtocolParams("RT1", nil)
	if withToken["oauth_token"] != "RT1" {
		t.Errorf("oauth_token = %q", withToken["oauth_token"])
	}
}
