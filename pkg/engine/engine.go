// Package engine defines the contract between the share orchestrator and
// the content distribution engine.
//
// The orchestrator never talks to swarms directly: it hands the engine a
// manifest (publish path) or a swarm locator (join path) and receives a
// Handle it can start, stop and observe. Any implementation that satisfies
// Engine and Handle can back the orchestrator; pkg/engine/local provides an
// in-process loopback implementation used by the default configuration and
// the test suites.
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
)

// LocatorSize is the fixed width of a swarm locator in bytes. The engine's
// addressing scheme is 20-byte identifiers, so every locator derivation must
// produce exactly this many bytes.
const LocatorSize = 20

// Locator addresses a specific content manifest within the distribution
// engine. Two peers holding the same locator reach the same swarm.
type Locator [LocatorSize]byte

// String returns the locator as lowercase hex (40 characters).
func (l Locator) String() string {
	return hex.EncodeToString(l[:])
}

// IsZero reports whether the locator is the all-zero value, which is never
// a valid swarm address.
func (l Locator) IsZero() bool {
	return l == Locator{}
}

// ParseLocator decodes a 40-character hex string into a Locator.
// Parsing is case-insensitive.
func ParseLocator(s string) (Locator, error) {
	var l Locator
	if len(s) != LocatorSize*2 {
		return l, fmt.Errorf("locator must be %d hex characters, got %d", LocatorSize*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return l, fmt.Errorf("invalid locator: %w", err)
	}
	copy(l[:], b)
	return l, nil
}

// TransferState describes what a handle is currently doing with its swarm.
type TransferState int

const (
	// StatePending means the handle exists but has not started transferring
	// (waiting for the swarm to become reachable, or not yet started).
	StatePending TransferState = iota

	// StateSyncing means content is being downloaded or verified.
	StateSyncing

	// StateSeeding means all local content is verified and the handle is
	// actively serving it to the swarm.
	StateSeeding

	// StateStopped means the handle was stopped and holds no resources.
	StateStopped

	// StateFailed means the handle hit an unrecoverable error.
	StateFailed
)

func (s TransferState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSyncing:
		return "syncing"
	case StateSeeding:
		return "seeding"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of a handle's transfer activity.
type Stats struct {
	// State is the current transfer state.
	State TransferState

	// Progress is the fraction of the manifest verified locally, in [0, 1].
	// A handle with an empty manifest reports 1.
	Progress float64

	// DownloadRate and UploadRate are in bytes per second, averaged over
	// the implementation's sampling window.
	DownloadRate float64
	UploadRate   float64

	// Peers is the number of other swarm members currently connected.
	Peers int
}

// EventType discriminates handle events.
type EventType int

const (
	// EventStateChanged fires on every transfer state transition.
	EventStateChanged EventType = iota

	// EventFileVerified fires once per file whose local copy has been
	// downloaded (or found) and hash-verified against the manifest.
	EventFileVerified
)

// Event is an asynchronous notification from a handle. State is set for
// EventStateChanged; Path (manifest-relative) is set for EventFileVerified.
type Event struct {
	Type  EventType
	State TransferState
	Path  string
}

// Engine joins swarms on behalf of the orchestrator.
//
// JoinManifest is the publish/republish path: the caller already holds a
// manifest (freshly built or restored) and serves it under the given swarm
// address. The address stays fixed for a share's lifetime while the
// manifest behind it changes on every re-publish. JoinLocator is the
// download path: only the swarm address is known and the manifest is
// resolved from the swarm itself.
//
// Both return a Handle in the pending state; nothing is transferred until
// Start or VerifyThenStart is called.
type Engine interface {
	JoinManifest(ctx context.Context, loc Locator, m *Manifest, dir string) (Handle, error)
	JoinLocator(ctx context.Context, loc Locator, dir string) (Handle, error)
}

// Handle is one active swarm participation.
//
// Stop is bounded by its context; implementations must release resources
// even when the context expires first. Events returns a channel that is
// closed when the handle stops; callers must drain it to avoid blocking
// slow implementations.
type Handle interface {
	// Start begins serving the handle's content without re-verifying it.
	// Used on the publish path where the manifest was just built from disk.
	Start(ctx context.Context) error

	// VerifyThenStart checks local content against the manifest, downloads
	// whatever is missing or mismatched, then serves. Used on the join path.
	VerifyThenStart(ctx context.Context) error

	// Stop halts transfer and releases swarm membership.
	Stop(ctx context.Context) error

	// Stats returns a snapshot of current transfer activity.
	Stats() Stats

	// Manifest returns the manifest this handle serves, or nil if it has
	// not been resolved from the swarm yet.
	Manifest() *Manifest

	// Events returns the handle's notification stream.
	Events() <-chan Event
}
