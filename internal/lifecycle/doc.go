// Package lifecycle owns the OAuth 1.0a credential state machine for the
// brokerage API: the three-legged handshake (request token → human-entered
// PIN → access token), durable persistence of the resulting credential pair,
// and the derived per-environment state used by the renewal scheduler and the
// operator surface.
//
// The broker invalidates access tokens at local midnight in its reference
// timezone, so validity is a pure function of the persisted record and the
// wall clock. All mutable state lives in the injected tokenstore so that
// multiple stateless replicas observe one consistent credential state.
package lifecycle
