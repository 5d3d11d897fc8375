// Package oauth1 implements OAuth 1.0a request signing (RFC 5849) with the
// HMAC-SHA1 signature method.
//
// The brokerage API this repository targets still speaks the legacy
// three-legged OAuth 1.0a protocol, for which no maintained library exposes
// the raw signature base string. Signing is therefore implemented directly:
// percent-encoding per the RFC 3986 unreserved set, lexicographic parameter
// normalization, and HMAC-SHA1 over the canonical base string.
//
// The package is pure: no network, no stored state, and the nonce/timestamp
// sources are injectable so signatures are deterministic under test.
package oauth1
