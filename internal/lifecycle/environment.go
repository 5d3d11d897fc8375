package lifecycle

import "fmt"

// Environment identifies one of the broker's isolated API environments. The
// two environments are fully independent state machines sharing no data.
type Environment string

const (
	Production Environment = "prod"
	Sandbox    Environment = "sandbox"
)

// Environments returns all known environments in a stable order.
func Environments() []Environment {
	return []Environment{Production, Sandbox}
}

// ParseEnvironment validates an environment name from user input.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case Production, Sandbox:
		return Environment(s), nil
	default:
		return "", fmt.Errorf("unknown environment %q (want prod or sandbox)", s)
	}
}

// Credentials is the immutable consumer-key pair for one environment, loaded
// once at startup from configuration and never persisted by this subsystem.
type Credentials struct {
	Environment    Environment
	ConsumerKey    string
	ConsumerSecret string
}

// State is the derived condition of one environment's credential. It is never
// stored; it is computed from the persisted record and the current time.
type State string

const (
	// StateNoCredentials: no consumer key/secret configured.
	StateNoCredentials State = "NO_CREDENTIALS"
	// StateRequestTokenIssued: temporary token obtained, awaiting the
	// human-entered PIN.
	StateRequestTokenIssued State = "REQUEST_TOKEN_ISSUED"
	// StateAccessTokenActive: usable, issued since local midnight.
	StateAccessTokenActive State = "ACCESS_TOKEN_ACTIVE"
	// StateIdleWarn: usable but idle past the renewal threshold.
	StateIdleWarn State = "IDLE_WARN"
	// StateExpired: issued before local midnight, or no usable record.
	StateExpired State = "EXPIRED"
	// StateError: the broker rejected a handshake step; an operator must
	// restart the flow.
	StateError State = "ERROR"
)
