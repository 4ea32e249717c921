// Package local implements the distribution engine contract in-process.
//
// Engines created over a shared Hub exchange content by copying files
// between their local directories, verifying every file against the
// manifest's SHA-256 digests. This is the engine behind the default
// configuration (single host, multiple instances) and behind the end-to-end
// test suites; a networked engine implementing the same contract drops in
// without orchestrator changes.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/swarmsync/internal/ratelimiter"
	"github.com/marmos91/swarmsync/pkg/engine"
)

const defaultPollInterval = 200 * time.Millisecond

// LocalEngine joins in-process swarms over a shared Hub.
type LocalEngine struct {
	hub   *Hub
	poll  time.Duration
	limit *ratelimiter.Limiter
}

// Option configures a LocalEngine.
type Option func(*LocalEngine)

// WithDownloadLimit caps sustained download throughput in bytes per second
// across all of the engine's handles. Zero means unlimited.
func WithDownloadLimit(bytesPerSecond uint64) Option {
	return func(e *LocalEngine) {
		if bytesPerSecond > 0 {
			e.limit = ratelimiter.New(bytesPerSecond)
		}
	}
}

// NewEngine creates an engine over the given hub.
func NewEngine(hub *Hub, opts ...Option) *LocalEngine {
	e := &LocalEngine{hub: hub, poll: defaultPollInterval}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// JoinManifest returns a publish-oriented handle serving m under loc.
func (e *LocalEngine) JoinManifest(ctx context.Context, loc engine.Locator, m *engine.Manifest, dir string) (engine.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("manifest is required on the publish path")
	}
	h := newHandle(e, loc, dir)
	h.manifest = m
	return h, nil
}

// JoinLocator returns a download-oriented handle for the swarm at loc. The
// manifest is resolved from the hub once a publisher installs one.
func (e *LocalEngine) JoinLocator(ctx context.Context, loc engine.Locator, dir string) (engine.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newHandle(e, loc, dir), nil
}

type handle struct {
	id  string
	eng *LocalEngine
	loc engine.Locator
	dir string

	mu        sync.Mutex
	manifest  *engine.Manifest
	state     engine.TransferState
	progress  float64
	started   bool
	workered  bool
	syncStart time.Time
	dlBytes   uint64

	// emitMu serializes event emission against channel close on Stop.
	emitMu   sync.Mutex
	closed   bool
	events   chan engine.Event
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newHandle(e *LocalEngine, loc engine.Locator, dir string) *handle {
	return &handle{
		id:     uuid.NewString(),
		eng:    e,
		loc:    loc,
		dir:    dir,
		state:  engine.StatePending,
		events: make(chan engine.Event, 64),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start publishes the handle's manifest and begins seeding immediately,
// without re-verifying local content.
func (h *handle) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("handle already started")
	}
	if h.manifest == nil {
		h.mu.Unlock()
		return fmt.Errorf("cannot seed without a manifest; use VerifyThenStart")
	}
	h.started = true
	h.progress = 1
	m := h.manifest
	h.mu.Unlock()

	h.eng.hub.publish(h.loc, h.id, h.dir, m)
	h.setState(engine.StateSeeding)
	return nil
}

// VerifyThenStart joins the swarm, verifies local content against the
// resolved manifest, downloads whatever is missing or stale, then seeds.
// The worker keeps watching the swarm afterwards and re-syncs whenever a
// publisher installs a new manifest.
func (h *handle) VerifyThenStart(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("handle already started")
	}
	h.started = true
	h.workered = true
	h.mu.Unlock()

	h.eng.hub.addPeer(h.loc, h.id, h.dir)
	go h.run()
	return nil
}

// Stop leaves the swarm. The wait for the transfer worker is bounded by
// ctx; when it expires the worker is abandoned (it exits on its next stop
// check) and resources are released anyway.
func (h *handle) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.stopCh) })

	h.mu.Lock()
	waitWorker := h.workered
	h.mu.Unlock()

	var waitErr error
	if waitWorker {
		select {
		case <-h.doneCh:
		case <-ctx.Done():
			waitErr = fmt.Errorf("engine stop timed out: %w", ctx.Err())
		}
	}

	h.eng.hub.removePeer(h.loc, h.id)
	h.setState(engine.StateStopped)

	h.emitMu.Lock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	h.emitMu.Unlock()

	return waitErr
}

// Stats returns a snapshot of current transfer activity. UploadRate is
// always zero: the loopback engine does not meter the copies other peers
// make from this handle's directory.
func (h *handle) Stats() engine.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	var rate float64
	if h.state == engine.StateSyncing && !h.syncStart.IsZero() {
		if elapsed := time.Since(h.syncStart).Seconds(); elapsed > 0 {
			rate = float64(h.dlBytes) / elapsed
		}
	}

	return engine.Stats{
		State:        h.state,
		Progress:     h.progress,
		DownloadRate: rate,
		Peers:        h.eng.hub.peerCount(h.loc, h.id),
	}
}

func (h *handle) Manifest() *engine.Manifest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.manifest
}

func (h *handle) Events() <-chan engine.Event {
	return h.events
}

// run is the download worker: resolve the manifest, sync, seed, and watch
// for re-publishes until stopped.
func (h *handle) run() {
	defer close(h.doneCh)

	var synced uint64
	for {
		m, version, ok := h.eng.hub.lookup(h.loc)
		if !ok || version == synced {
			if !h.sleep() {
				return
			}
			continue
		}

		h.mu.Lock()
		h.syncStart = time.Now()
		h.dlBytes = 0
		h.mu.Unlock()
		h.setState(engine.StateSyncing)

		complete, err := h.syncManifest(m)
		if err != nil {
			h.setState(engine.StateFailed)
			return
		}
		if !complete {
			// Sources missing or racing with a publisher-side edit; retry
			// after the poll interval unless stopping.
			if !h.sleep() {
				return
			}
			continue
		}

		synced = version
		h.mu.Lock()
		h.manifest = m
		h.progress = 1
		h.mu.Unlock()

		h.eng.hub.setSeeding(h.loc, h.id)
		h.setState(engine.StateSeeding)
	}
}

// syncManifest brings the local directory in line with m. It returns
// (false, nil) when the swarm currently has no usable source for some file,
// which the caller retries; an error means a local I/O failure.
func (h *handle) syncManifest(m *engine.Manifest) (bool, error) {
	total := m.TotalSize()
	var done uint64

	for _, f := range m.Files {
		if h.stopped() {
			return false, nil
		}

		local := filepath.Join(h.dir, filepath.FromSlash(f.Path))
		if sum, err := hashFile(local); err == nil && sum == f.SHA256 {
			done += f.Size
			h.setProgress(done, total)
			continue
		}

		if !h.fetch(f, local) {
			return false, nil
		}

		done += f.Size
		h.mu.Lock()
		h.dlBytes += f.Size
		h.mu.Unlock()
		h.setProgress(done, total)
		h.emit(engine.Event{Type: engine.EventFileVerified, Path: f.Path})
	}

	if err := h.prune(m); err != nil {
		return false, err
	}
	return true, nil
}

// fetch copies one file from any seeding peer, verifying the digest.
func (h *handle) fetch(f engine.FileEntry, local string) bool {
	for _, src := range h.eng.hub.sources(h.loc, h.id) {
		srcPath := filepath.Join(src, filepath.FromSlash(f.Path))
		if err := copyVerified(srcPath, local, f.SHA256, h.eng.limit); err == nil {
			return true
		}
	}
	return false
}

// prune removes local files that are not part of the manifest, so deletes
// propagate to downloaders. Dot-prefixed entries are left alone: they are
// excluded from manifests in the first place and typically hold local state
// (VCS metadata, editor droppings) the swarm must not touch.
func (h *handle) prune(m *engine.Manifest) error {
	want := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		want[f.Path] = true
	}

	return filepath.WalkDir(h.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == h.dir {
			return nil
		}
		if d.Name() != "" && d.Name()[0] == '.' {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(h.dir, path)
		if err != nil {
			return err
		}
		if !want[filepath.ToSlash(rel)] {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
		return nil
	})
}

func (h *handle) setProgress(done, total uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if total == 0 {
		h.progress = 1
		return
	}
	h.progress = float64(done) / float64(total)
}

func (h *handle) setState(st engine.TransferState) {
	h.mu.Lock()
	if h.state == st {
		h.mu.Unlock()
		return
	}
	h.state = st
	h.mu.Unlock()

	h.emit(engine.Event{Type: engine.EventStateChanged, State: st})
}

// emit delivers an event, blocking until the consumer drains it or the
// handle stops. Emission is serialized with channel close so a stop can
// never race a send.
func (h *handle) emit(ev engine.Event) {
	h.emitMu.Lock()
	defer h.emitMu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.events <- ev:
	case <-h.stopCh:
	}
}

func (h *handle) stopped() bool {
	select {
	case <-h.stopCh:
		return true
	default:
		return false
	}
}

// sleep waits one poll interval, returning false if the handle stopped.
func (h *handle) sleep() bool {
	select {
	case <-h.stopCh:
		return false
	case <-time.After(h.eng.poll):
		return true
	}
}

// copyVerified copies src to dst, verifying the SHA-256 digest in flight.
// The copy lands in a temporary file renamed into place only after the
// digest matches, so a half-written or mid-edit source never corrupts dst.
// A non-nil limiter paces the copy.
func copyVerified(src, dst, wantSHA256 string, limit *ratelimiter.Limiter) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".swarmsync-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var reader io.Reader = in
	if limit != nil {
		reader = &pacedReader{r: in, limit: limit}
	}

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), reader); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if got := hex.EncodeToString(hash.Sum(nil)); got != wantSHA256 {
		return fmt.Errorf("digest mismatch for %s: got %s, want %s", src, got, wantSHA256)
	}
	return os.Rename(tmpName, dst)
}

// pacedReader throttles reads through the engine's download limiter.
type pacedReader struct {
	r     io.Reader
	limit *ratelimiter.Limiter
}

func (p *pacedReader) Read(b []byte) (int, error) {
	// Small chunks keep pacing smooth at low configured rates.
	if len(b) > 64*1024 {
		b = b[:64*1024]
	}
	n, err := p.r.Read(b)
	if n > 0 {
		if werr := p.limit.WaitN(context.Background(), n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
