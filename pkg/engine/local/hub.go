package local

import (
	"sync"

	"github.com/marmos91/swarmsync/pkg/engine"
)

// Hub is the in-process swarm fabric. Engines sharing one Hub value see
// each other's swarms; there is no ambient global hub, callers construct
// one and hand it to every engine that should be able to exchange content.
type Hub struct {
	mu     sync.RWMutex
	swarms map[engine.Locator]*swarmState
}

type swarmState struct {
	// version increments every time the manifest behind this locator is
	// replaced; downloaders use it to notice re-publishes.
	version  uint64
	manifest *engine.Manifest
	peers    map[string]peerInfo
}

type peerInfo struct {
	dir     string
	seeding bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{swarms: make(map[engine.Locator]*swarmState)}
}

// publish registers peerID as a seeding source for loc and installs (or
// replaces) the swarm's manifest.
func (h *Hub) publish(loc engine.Locator, peerID, dir string, m *engine.Manifest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.swarm(loc)
	s.manifest = m
	s.version++
	s.peers[peerID] = peerInfo{dir: dir, seeding: true}
}

// addPeer registers a non-seeding swarm member (a downloader).
func (h *Hub) addPeer(loc engine.Locator, peerID, dir string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.swarm(loc).peers[peerID] = peerInfo{dir: dir}
}

// setSeeding marks an existing peer as a content source.
func (h *Hub) setSeeding(loc engine.Locator, peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.swarms[loc]; ok {
		if p, ok := s.peers[peerID]; ok {
			p.seeding = true
			s.peers[peerID] = p
		}
	}
}

// removePeer drops a peer from a swarm. Empty swarms are kept: their
// manifest stays resolvable for late joiners, mirroring how a real swarm's
// metadata outlives individual members.
func (h *Hub) removePeer(loc engine.Locator, peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.swarms[loc]; ok {
		delete(s.peers, peerID)
	}
}

// lookup returns the current manifest and version for a swarm, if any
// publisher has installed one yet.
func (h *Hub) lookup(loc engine.Locator) (*engine.Manifest, uint64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.swarms[loc]
	if !ok || s.manifest == nil {
		return nil, 0, false
	}
	return s.manifest, s.version, true
}

// sources returns the local directories of all seeding peers except self.
func (h *Hub) sources(loc engine.Locator, selfID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.swarms[loc]
	if !ok {
		return nil
	}
	var dirs []string
	for id, p := range s.peers {
		if p.seeding && id != selfID {
			dirs = append(dirs, p.dir)
		}
	}
	return dirs
}

// peerCount returns the number of swarm members other than self.
func (h *Hub) peerCount(loc engine.Locator, selfID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.swarms[loc]
	if !ok {
		return 0
	}
	n := len(s.peers)
	if _, ok := s.peers[selfID]; ok {
		n--
	}
	return n
}

// swarm returns the state for loc, creating it if needed. Callers hold mu.
func (h *Hub) swarm(loc engine.Locator) *swarmState {
	s, ok := h.swarms[loc]
	if !ok {
		s = &swarmState{peers: make(map[string]peerInfo)}
		h.swarms[loc] = s
	}
	return s
}
