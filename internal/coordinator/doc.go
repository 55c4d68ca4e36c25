// Package coordinator implements the coordinator side of the bridge:
// the session registry, mesh-state store, liveness monitor, pending-RPC
// table, the UDP datagram listener that feeds them, and the
// HTTP<->datagram translator that exposes them as the public endpoint
// table.
//
// Architecture:
//
//	┌───────────────────────────────────────────┐
//	│               Coordinator                 │
//	├───────────────────────────────────────────┤
//	│  UDP :8081  ── Listener ── register/hb/   │
//	│                            state/mirror    │
//	│  SessionRegistry   (mesh-id -> Session)    │
//	│  StateStore        (mesh-id -> snapshot)   │
//	│  LivenessMonitor   (periodic sweep)        │
//	│  PendingRPCTable   (seq -> waiter)         │
//	│  HTTP :8080 ── Translator ── /api/*        │
//	└───────────────────────────────────────────┘
//
// Every registry in this package is single-writer-safe and returns
// copies from its read paths, never internal pointers, so callers
// cannot race with the writer goroutine.
package coordinator
