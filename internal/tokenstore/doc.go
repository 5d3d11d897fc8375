// Package tokenstore provides persistent storage abstractions for named
// secrets (access-token records, pending handshake state, dedup markers).
//
// Supports three storage backends with different security and deployment
// tradeoffs:
//   - Keyring: OS-native credential storage (macOS Keychain, Windows
//     Credential Manager, Linux Secret Service)
//   - File: Local filesystem storage with atomic writes and secure permissions
//   - Env: Read-only environment variable access (requires external secret
//     management)
//
// Layered composes backends into the read-fallback chain the token lifecycle
// depends on: reads walk the layers in order, writes always target the
// primary layer and never silently fall back.
package tokenstore
