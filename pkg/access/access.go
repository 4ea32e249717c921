// Package access enforces per-share operation policy.
//
// The controller is advisory local enforcement: it gates orchestration
// actions such as whether a share's local tree is watched for edits. The
// distribution engine mirrors the same policy at the transfer level;
// neither layer trusts the other to be the only check.
package access

import (
	"sync"

	"github.com/marmos91/swarmsync/pkg/secret"
)

// Operation is a kind of action checked against a share's access level.
type Operation int

const (
	OpRead Operation = iota
	OpWrite
	OpCreate
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Controller maps active share identities to the access level granted by
// the secret used to join them. Safe for concurrent use.
type Controller struct {
	mu     sync.RWMutex
	levels map[secret.Identity]secret.AccessLevel
}

// NewController creates an empty controller.
func NewController() *Controller {
	return &Controller{
		levels: make(map[secret.Identity]secret.AccessLevel),
	}
}

// Register records the access level granted for a share. Registering an
// identity again overwrites the previous level.
func (c *Controller) Register(id secret.Identity, level secret.AccessLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels[id] = level
}

// Unregister drops a share from the controller. Unregistering an unknown
// identity is a no-op.
func (c *Controller) Unregister(id secret.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.levels, id)
}

// Level returns the registered access level for a share and whether the
// share is registered at all.
func (c *Controller) Level(id secret.Identity) (secret.AccessLevel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	level, ok := c.levels[id]
	return level, ok
}

// Allowed reports whether the given operation is permitted on the share.
//
// Policy: Read is allowed for any registered share; Write, Create and
// Delete require write-level access; an unregistered identity allows
// nothing.
func (c *Controller) Allowed(id secret.Identity, op Operation) bool {
	level, ok := c.Level(id)
	if !ok {
		return false
	}
	if op == OpRead {
		return true
	}
	return level == secret.AccessReadWrite
}
