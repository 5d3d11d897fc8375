package lifecycle

import "time"

// recordSchemaVersion guards the persisted JSON shape. A record with an
// unknown version is treated as absent, never as an error.
const recordSchemaVersion = 1

// minTokenLength rejects records whose token fields are too short to be a
// real broker-issued credential (truncated writes, placeholder values).
const minTokenLength = 8

// AccessTokenRecord is the durable credential artifact: exactly one per
// environment, overwritten on each successful renewal. LastUsedAt is updated
// opportunistically by any authenticated call made elsewhere in the system.
type AccessTokenRecord struct {
	SchemaVersion    int         `json:"schema_version"`
	Environment      Environment `json:"environment"`
	OAuthToken       string      `json:"oauth_token"`
	OAuthTokenSecret string      `json:"oauth_token_secret"`
	IssuedAt         time.Time   `json:"issued_at"`
	LastUsedAt       time.Time   `json:"last_used_at"`
}

// plausible reports whether the token fields look like a real credential
// pair. Timestamp validity is the caller's concern.
func (r *AccessTokenRecord) plausible() bool {
	return r != nil &&
		len(r.OAuthToken) >= minTokenLength &&
		len(r.OAuthTokenSecret) >= minTokenLength &&
		!r.IssuedAt.IsZero()
}

// pendingFlow is the ephemeral request-token state persisted between a start
// and its matching complete, which may arrive from a different process
// instance. Superseded, not accumulated, by any later start for the same
// environment. LastError records an upstream rejection so every replica's
// status reflects the ERROR state until an operator retries.
type pendingFlow struct {
	SchemaVersion int         `json:"schema_version"`
	Environment   Environment `json:"environment"`
	Token         string      `json:"token"`
	Secret        string      `json:"secret"`
	CreatedAt     time.Time   `json:"created_at"`
	LastError     string      `json:"last_error,omitempty"`
}
