// Package store is the versioned device configuration store and its
// profile manager.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────┐
//	│                   Store (store.go)                   │
//	│  current: atomic pointer to an immutable snapshot    │
//	│                                                      │
//	│  mutate(op):                                         │
//	│   1. acquire lock (bounded poll, guard fed)          │
//	│   2. stage next snapshot (chunked copy)              │
//	│   3. generation = current + 1                        │
//	│   4. persist profile list, then main document        │
//	│      (shared scratch buffer, lock held)              │
//	│   5. publish + rebuild template registry             │
//	│   6. release, notify                                 │
//	└──────────────────────────────────────────────────────┘
//	        │ Storage                 │ ProfileStorage
//	        ▼                         ▼
//	   FileStorage         FileProfileStorage / SQLiteProfileStorage
//
// A failure in step 4 returns the error without publishing: the previous
// snapshot and generation stay in place, so the in-memory configuration is
// never ahead of what is on disk.
//
// # Profiles
//
// Exactly one profile is active. The main document carries the active
// profile's devices; every profile's device list is also stored on its own.
// Every entry path heals a dangling active pointer before acting on it.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Get never blocks. Mutations,
// Export and the persistence passes are serialised by one lock, which also
// guards the shared scratch buffer.
package store
