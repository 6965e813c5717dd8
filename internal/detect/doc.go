// Package detect implements the lifecycle and hot-reload core of the
// detection engine: immutable rule snapshots (EngineSnapshot), per-worker
// scratch state (ThreadContext), the process-wide snapshot registry
// (MasterRegistry), the reload handshake (SyncLatch), the app-layer
// inspection callback table (AppInspectionRegistry) and the orchestrator
// that swaps a live worker fleet from one snapshot to the next without
// stopping traffic.
//
// Signature compilation, pattern matching and packet I/O are treated as
// external collaborators: this package calls them through small interfaces
// and never implements rule semantics itself.
package detect
