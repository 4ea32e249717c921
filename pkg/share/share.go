// Package share defines the share entity, its lifecycle status and the
// persistence contract for share records.
package share

import (
	"errors"
	"time"

	"github.com/marmos91/swarmsync/pkg/secret"
)

// Status is a share's position in its lifecycle state machine. Transitions
// are driven only by the orchestrator in response to distribution engine
// state callbacks.
type Status int

const (
	// StatusIdle means the share is not actively participating in a swarm.
	StatusIdle Status = iota

	// StatusSyncing means a transfer is in progress.
	StatusSyncing

	// StatusUpToDate means the share is fully synchronized and actively
	// serving content.
	StatusUpToDate

	// StatusError means an unrecoverable local condition stopped the share.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSyncing:
		return "syncing"
	case StatusUpToDate:
		return "up-to-date"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Share is the local record of one participation: a binding between a local
// folder and a synchronized content identity. While active it is owned
// exclusively by the orchestrator; the persisted copy is the source of
// truth across restarts.
type Share struct {
	// ID is the share's public identity.
	ID secret.Identity `json:"id"`

	// Name is a local display name; it is not synchronized.
	Name string `json:"name"`

	// Path is the local root directory of the share.
	Path string `json:"path"`

	// DefaultPath is an optional suggested local path for downstream
	// joiners. Empty means no suggestion.
	DefaultPath string `json:"default_path,omitempty"`

	// Secret is the secret this peer joined with.
	Secret secret.Secret `json:"secret"`

	// WriteSecret and ReadSecret are both known only to the original
	// publisher (and to write-level joiners, who know WriteSecret via
	// Secret). Empty when unknown.
	WriteSecret secret.Secret `json:"write_secret,omitempty"`
	ReadSecret  secret.Secret `json:"read_secret,omitempty"`

	// Access is the level granted by Secret.
	Access secret.AccessLevel `json:"access"`

	// Rules is the ordered inclusion-filter rule list for this share.
	Rules []string `json:"rules,omitempty"`

	// Locator is the share's swarm address as 40 hex characters. Fixed at
	// create/join time; re-publishes reuse it so joiners keep finding the
	// share after content changes.
	Locator string `json:"locator,omitempty"`

	// CreatedAt is when this record was created locally.
	CreatedAt time.Time `json:"created_at"`

	// Publisher marks whether this peer originally created the share.
	Publisher bool `json:"publisher"`

	// Status is the share's current lifecycle state. It is runtime state:
	// persisted copies carry whatever was last saved but every share
	// restarts as idle.
	Status Status `json:"-"`
}

// ChangeType discriminates share change notifications.
type ChangeType int

const (
	// FilesUpdated fires after a local edit burst has been coalesced into
	// one completed re-publish.
	FilesUpdated ChangeType = iota

	// FilesDownloaded fires for each unit of newly verified incoming
	// content while syncing.
	FilesDownloaded

	// SyncCompleted fires on the transition into StatusUpToDate.
	SyncCompleted
)

func (t ChangeType) String() string {
	switch t {
	case FilesUpdated:
		return "files-updated"
	case FilesDownloaded:
		return "files-downloaded"
	case SyncCompleted:
		return "sync-completed"
	default:
		return "unknown"
	}
}

// Change is one share change notification.
type Change struct {
	ID   secret.Identity
	Type ChangeType
}

// ErrNotFound is returned by stores and the orchestrator for operations on
// identities they do not hold.
var ErrNotFound = errors.New("share not found")
