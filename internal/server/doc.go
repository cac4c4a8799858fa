// Package server implements the hostscan read-only HTTP API.
//
// Owns:
//   - HTTP routing, handlers, and response contracts
//   - Request logging
//
// Does not own:
//   - Storage internals (localstore, remote)
//   - Inventory collection
//
// Invariants:
//   - JSON responses are consistent via writeJSON
//   - Every endpoint is GET only; nothing here mutates a store
//   - Each remote request opens and closes its own client
package server
