// Package orchestrator owns the set of active shares.
//
// The orchestrator is the only component holding mutable share state: it
// mints and validates access secrets, decides which local paths participate
// in synchronization, starts and stops distribution engine participation,
// watches write-capable shares for local edits, coalesces edit bursts into
// single re-publishes and drives each share's status state machine from
// engine callbacks. Callers observe it through Status/List polling and by
// draining the Changes channel.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/swarmsync/internal/logger"
	"github.com/marmos91/swarmsync/pkg/access"
	"github.com/marmos91/swarmsync/pkg/engine"
	"github.com/marmos91/swarmsync/pkg/filter"
	"github.com/marmos91/swarmsync/pkg/secret"
	"github.com/marmos91/swarmsync/pkg/share"
)

const (
	// DefaultDebounce is the delay between the last qualifying filesystem
	// event and the resulting re-publish.
	DefaultDebounce = 2 * time.Second

	// DefaultStopTimeout bounds engine stop calls during removal and
	// resync; past it, engine-held resources are force-released.
	DefaultStopTimeout = 5 * time.Second

	defaultChangeBuffer = 256

	// tempFilePrefix marks the engine's own in-flight state files; events
	// on them never schedule a resync.
	tempFilePrefix = ".swarmsync-"
)

// Config configures an Orchestrator. Engine and Store are required.
type Config struct {
	Engine engine.Engine
	Store  share.Store

	// Debounce is the coalescing window for local edits. Zero means
	// DefaultDebounce.
	Debounce time.Duration

	// StopTimeout bounds engine stop calls. Zero means DefaultStopTimeout.
	StopTimeout time.Duration

	// DisableDefaultRules skips prepending filter.DefaultRules to each
	// share's rule list.
	DisableDefaultRules bool
}

// Orchestrator manages all active shares. Safe for concurrent use;
// concurrent operations on distinct identities never interfere.
type Orchestrator struct {
	engine      engine.Engine
	store       share.Store
	access      *access.Controller
	debounce    time.Duration
	stopTimeout time.Duration
	defaults    bool

	mu      sync.RWMutex
	shares  map[secret.Identity]*activeShare
	changes chan share.Change
}

// activeShare is one share's runtime state. The orchestrator's mutex guards
// the record (including its status); the share's own mutex guards the
// handle, watcher and debounce timer; syncMu serializes resync execution so
// two resyncs for one share can never overlap.
type activeShare struct {
	rec  *share.Share
	filt *filter.Filter
	loc  engine.Locator

	mu       sync.Mutex
	handle   engine.Handle
	watch    *watcher
	timer    *time.Timer
	pumpWG   sync.WaitGroup
	gone     chan struct{}
	goneOnce sync.Once

	syncMu sync.Mutex
}

func (sh *activeShare) markGone() {
	sh.goneOnce.Do(func() { close(sh.gone) })
}

func (sh *activeShare) isGone() bool {
	select {
	case <-sh.gone:
		return true
	default:
		return false
	}
}

// New creates an orchestrator. Call LoadPersisted to replay stored shares,
// and Close on shutdown.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("orchestrator: engine is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("orchestrator: store is required")
	}

	o := &Orchestrator{
		engine:      cfg.Engine,
		store:       cfg.Store,
		access:      access.NewController(),
		debounce:    cfg.Debounce,
		stopTimeout: cfg.StopTimeout,
		defaults:    !cfg.DisableDefaultRules,
		shares:      make(map[secret.Identity]*activeShare),
		changes:     make(chan share.Change, defaultChangeBuffer),
	}
	if o.debounce <= 0 {
		o.debounce = DefaultDebounce
	}
	if o.stopTimeout <= 0 {
		o.stopTimeout = DefaultStopTimeout
	}
	return o, nil
}

// Changes returns the outbound change notification channel. Callers should
// drain it; notifications for removed shares stop before Remove returns.
func (o *Orchestrator) Changes() <-chan share.Change {
	return o.changes
}

// Access returns the orchestrator's access controller, for callers that
// need per-operation permission checks beyond the orchestrator's own.
func (o *Orchestrator) Access() *access.Controller {
	return o.access
}

// CreateOptions parameterizes Create.
type CreateOptions struct {
	// Path is the local directory to publish. It must already exist.
	Path string

	// Name is a local display name. Defaults to the directory's base name.
	Name string

	// DefaultPath is an optional suggested path for downstream joiners.
	DefaultPath string

	// Rules is the share's inclusion-filter rule list, appended after the
	// built-in defaults (unless those are disabled).
	Rules []string
}

// CreateResult is the outcome of a successful Create.
type CreateResult struct {
	Share       *share.Share
	WriteSecret secret.Secret
	ReadSecret  secret.Secret
}

// Create mints a new share over an existing local directory, publishes its
// content and begins watching for local edits.
//
// The returned read secret carries the share's swarm locator so read-only
// joiners reach the exact swarm this publisher created.
func (o *Orchestrator) Create(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	info, err := os.Stat(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("share path %q: %w", opts.Path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("share path %q is not a directory", opts.Path)
	}

	writeSecret, readSecret, id, err := secret.Generate()
	if err != nil {
		return nil, err
	}

	rules := o.shareRules(opts.Rules)
	filt, err := filter.Compile(rules)
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(opts.Path)
	}

	files, err := listFiles(opts.Path, filt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %q: %w", opts.Path, err)
	}
	manifest, err := engine.BuildManifest(name, opts.Path, files)
	if err != nil {
		return nil, err
	}

	// Non-empty content determines the real swarm address; an empty share
	// starts out on the identity-derived fallback so joiners can find it
	// before it has any content.
	loc := secret.FallbackLocator(id)
	if len(manifest.Files) > 0 {
		loc, err = manifest.Locator()
		if err != nil {
			return nil, err
		}
	}
	readSecret, err = secret.AttachLocator(readSecret, loc)
	if err != nil {
		return nil, err
	}

	rec := &share.Share{
		ID:          id,
		Name:        name,
		Path:        opts.Path,
		DefaultPath: opts.DefaultPath,
		Secret:      writeSecret,
		WriteSecret: writeSecret,
		ReadSecret:  readSecret,
		Access:      secret.AccessReadWrite,
		Rules:       opts.Rules,
		Locator:     loc.String(),
		CreatedAt:   time.Now(),
		Publisher:   true,
	}

	if err := o.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist share: %w", err)
	}

	sh := &activeShare{rec: rec, filt: filt, loc: loc, gone: make(chan struct{})}
	if err := o.startPublish(ctx, sh, manifest); err != nil {
		if rmErr := o.store.Remove(ctx, id); rmErr != nil {
			logger.Warn("failed to roll back share %s: %v", id, rmErr)
		}
		return nil, err
	}

	if err := o.activate(sh); err != nil {
		return nil, err
	}

	logger.Info("created share %s (%s) at %s", id, name, opts.Path)
	return &CreateResult{Share: rec, WriteSecret: writeSecret, ReadSecret: readSecret}, nil
}

// Add joins an existing share with a secret. The local path is created if
// absent; watching starts only when the secret grants write access.
func (o *Orchestrator) Add(ctx context.Context, token secret.Secret, localPath, name string) (*share.Share, error) {
	parsed, err := secret.Parse(token)
	if err != nil {
		return nil, err
	}

	o.mu.RLock()
	_, exists := o.shares[parsed.Identity]
	o.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("share %s is already active", parsed.Identity)
	}

	if err := os.MkdirAll(localPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %q: %w", localPath, err)
	}

	loc := parsed.Locator
	if !parsed.HasLocator() {
		loc = secret.FallbackLocator(parsed.Identity)
	}

	if name == "" {
		name = filepath.Base(localPath)
	}

	rec := &share.Share{
		ID:        parsed.Identity,
		Name:      name,
		Path:      localPath,
		Secret:    token,
		Access:    parsed.Level,
		Locator:   loc.String(),
		CreatedAt: time.Now(),
	}
	if parsed.Level == secret.AccessReadWrite {
		rec.WriteSecret = token
	} else {
		rec.ReadSecret = token
	}

	if err := o.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist share: %w", err)
	}

	if err := o.start(ctx, rec); err != nil {
		if rmErr := o.store.Remove(ctx, parsed.Identity); rmErr != nil {
			logger.Warn("failed to roll back share %s: %v", parsed.Identity, rmErr)
		}
		return nil, err
	}

	logger.Info("added share %s (%s, %s) at %s", rec.ID, rec.Name, rec.Access, localPath)
	return rec, nil
}

// LoadPersisted replays every persisted share as an add operation. Shares
// that fail to start are logged and skipped; their records stay persisted
// for the next restart.
func (o *Orchestrator) LoadPersisted(ctx context.Context) error {
	records, err := o.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted shares: %w", err)
	}

	for _, rec := range records {
		if err := o.start(ctx, rec); err != nil {
			logger.Error("failed to restart share %s (%s): %v", rec.ID, rec.Name, err)
			continue
		}
		logger.Info("restarted share %s (%s) at %s", rec.ID, rec.Name, rec.Path)
	}
	return nil
}

// start brings a share record to life: publish for the original publisher
// (last local state wins), verify-or-download join for everyone else.
func (o *Orchestrator) start(ctx context.Context, rec *share.Share) error {
	filt, err := filter.Compile(o.shareRules(rec.Rules))
	if err != nil {
		return err
	}
	loc, err := engine.ParseLocator(rec.Locator)
	if err != nil {
		return fmt.Errorf("share %s has a corrupt locator: %w", rec.ID, err)
	}

	sh := &activeShare{rec: rec, filt: filt, loc: loc, gone: make(chan struct{})}

	if rec.Publisher {
		files, err := listFiles(rec.Path, filt)
		if err != nil {
			return fmt.Errorf("failed to scan %q: %w", rec.Path, err)
		}
		manifest, err := engine.BuildManifest(rec.Name, rec.Path, files)
		if err != nil {
			return err
		}
		if err := o.startPublish(ctx, sh, manifest); err != nil {
			return err
		}
	} else {
		handle, err := o.engine.JoinLocator(ctx, loc, rec.Path)
		if err != nil {
			return fmt.Errorf("failed to join swarm: %w", err)
		}
		if err := handle.VerifyThenStart(ctx); err != nil {
			return fmt.Errorf("failed to start transfer: %w", err)
		}
		sh.handle = handle
		sh.pumpWG.Add(1)
		go o.pump(sh, handle)
	}

	return o.activate(sh)
}

// startPublish joins and seeds a manifest under the share's fixed locator.
func (o *Orchestrator) startPublish(ctx context.Context, sh *activeShare, m *engine.Manifest) error {
	handle, err := o.engine.JoinManifest(ctx, sh.loc, m, sh.rec.Path)
	if err != nil {
		return fmt.Errorf("failed to join swarm: %w", err)
	}
	if err := handle.Start(ctx); err != nil {
		return fmt.Errorf("failed to start publishing: %w", err)
	}
	sh.handle = handle
	sh.pumpWG.Add(1)
	go o.pump(sh, handle)
	return nil
}

// activate registers the share in the orchestrator's table, the access
// controller and (for write-level shares) the filesystem watcher.
func (o *Orchestrator) activate(sh *activeShare) error {
	id := sh.rec.ID

	o.mu.Lock()
	if _, exists := o.shares[id]; exists {
		o.mu.Unlock()
		o.teardown(context.Background(), sh)
		return fmt.Errorf("share %s is already active", id)
	}
	o.shares[id] = sh
	o.mu.Unlock()

	o.access.Register(id, sh.rec.Access)

	if o.access.Allowed(id, access.OpWrite) {
		w, err := newWatcher(sh.rec.Path, func(rel string) { o.onFileEvent(id, rel) })
		if err != nil {
			logger.Error("failed to watch %s for share %s: %v", sh.rec.Path, id, err)
			o.setStatus(sh, share.StatusError)
			return nil
		}
		sh.mu.Lock()
		sh.watch = w
		sh.mu.Unlock()
	}
	return nil
}

// Remove tears a share down and deletes its persisted record.
//
// Teardown order matters: the watcher and any pending debounce timer go
// first, guaranteeing no new resync is scheduled; then the engine handle is
// stopped with a bounded wait; then access is revoked and the record
// dropped. Removal succeeds even when the engine's stop is slow or noisy;
// after the bounded wait, resources are force-released. After Remove
// returns, no further change notifications for the identity are emitted.
func (o *Orchestrator) Remove(ctx context.Context, id secret.Identity) error {
	o.mu.Lock()
	sh, ok := o.shares[id]
	if ok {
		delete(o.shares, id)
	}
	o.mu.Unlock()

	if !ok {
		// Not active; the record may still exist from a failed restart.
		err := o.store.Remove(ctx, id)
		if err != nil {
			return err
		}
		return nil
	}

	o.teardown(ctx, sh)
	o.access.Unregister(id)

	if err := o.store.Remove(ctx, id); err != nil && err != share.ErrNotFound {
		logger.Warn("failed to delete persisted share %s: %v", id, err)
	}

	logger.Info("removed share %s (%s)", id, sh.rec.Name)
	return nil
}

// teardown stops a share's watcher, timer, pump and engine participation.
func (o *Orchestrator) teardown(ctx context.Context, sh *activeShare) {
	sh.markGone()

	sh.mu.Lock()
	if sh.timer != nil {
		sh.timer.Stop()
		sh.timer = nil
	}
	w := sh.watch
	sh.watch = nil
	sh.mu.Unlock()

	if w != nil {
		w.Stop()
	}

	// Waits out any resync in flight so the handle below is the final one.
	sh.syncMu.Lock()
	sh.mu.Lock()
	handle := sh.handle
	sh.handle = nil
	sh.mu.Unlock()
	sh.syncMu.Unlock()

	if handle != nil {
		stopCtx, cancel := context.WithTimeout(ctx, o.stopTimeout)
		defer cancel()
		if err := handle.Stop(stopCtx); err != nil {
			logger.Warn("engine stop for share %s: %v", sh.rec.ID, err)
		}
	}

	sh.pumpWG.Wait()
}

// Close stops all shares without deleting their persisted records.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	active := make([]*activeShare, 0, len(o.shares))
	for _, sh := range o.shares {
		active = append(active, sh)
	}
	o.shares = make(map[secret.Identity]*activeShare)
	o.mu.Unlock()

	for _, sh := range active {
		o.teardown(ctx, sh)
		o.access.Unregister(sh.rec.ID)
	}
	return nil
}

// Summary is the caller-facing projection of one share.
type Summary struct {
	ID           secret.Identity
	Name         string
	Path         string
	Access       secret.AccessLevel
	Status       share.Status
	Progress     float64
	Peers        int
	DownloadRate float64
	UploadRate   float64
	Publisher    bool

	// WriteSecret and ReadSecret are populated only when known locally
	// (always for the publisher).
	WriteSecret secret.Secret
	ReadSecret  secret.Secret
}

// Status returns the current projection for one active share. The boolean
// is false when the identity is not active.
func (o *Orchestrator) Status(id secret.Identity) (Summary, bool) {
	o.mu.RLock()
	sh, ok := o.shares[id]
	o.mu.RUnlock()
	if !ok {
		return Summary{}, false
	}
	return o.summarize(sh), true
}

// List returns projections for all active shares, ordered by name then
// identity.
func (o *Orchestrator) List() []Summary {
	o.mu.RLock()
	active := make([]*activeShare, 0, len(o.shares))
	for _, sh := range o.shares {
		active = append(active, sh)
	}
	o.mu.RUnlock()

	out := make([]Summary, 0, len(active))
	for _, sh := range active {
		out = append(out, o.summarize(sh))
	}
	sortSummaries(out)
	return out
}

func (o *Orchestrator) summarize(sh *activeShare) Summary {
	sh.mu.Lock()
	handle := sh.handle
	sh.mu.Unlock()

	var stats engine.Stats
	if handle != nil {
		stats = handle.Stats()
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	return Summary{
		ID:           sh.rec.ID,
		Name:         sh.rec.Name,
		Path:         sh.rec.Path,
		Access:       sh.rec.Access,
		Status:       sh.rec.Status,
		Progress:     stats.Progress,
		Peers:        stats.Peers,
		DownloadRate: stats.DownloadRate,
		UploadRate:   stats.UploadRate,
		Publisher:    sh.rec.Publisher,
		WriteSecret:  sh.rec.WriteSecret,
		ReadSecret:   sh.rec.ReadSecret,
	}
}

// pump consumes one handle's event stream, driving the share's status state
// machine and forwarding change notifications.
func (o *Orchestrator) pump(sh *activeShare, h engine.Handle) {
	defer sh.pumpWG.Done()

	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return
			}
			o.handleEngineEvent(sh, ev)
		case <-sh.gone:
			return
		}
	}
}

func (o *Orchestrator) handleEngineEvent(sh *activeShare, ev engine.Event) {
	switch ev.Type {
	case engine.EventFileVerified:
		o.emit(sh, share.FilesDownloaded)

	case engine.EventStateChanged:
		switch ev.State {
		case engine.StatePending, engine.StateSyncing:
			o.setStatus(sh, share.StatusSyncing)
		case engine.StateSeeding:
			if o.setStatus(sh, share.StatusUpToDate) {
				o.emit(sh, share.SyncCompleted)
			}
		case engine.StateFailed:
			logger.Error("share %s: engine reported failure", sh.rec.ID)
			o.setStatus(sh, share.StatusError)
		case engine.StateStopped:
			o.setStatus(sh, share.StatusIdle)
		}
	}
}

// setStatus updates a share's status, reporting whether it changed.
func (o *Orchestrator) setStatus(sh *activeShare, st share.Status) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sh.rec.Status == st {
		return false
	}
	sh.rec.Status = st
	return true
}

// emit delivers one change notification unless the share is being removed.
func (o *Orchestrator) emit(sh *activeShare, t share.ChangeType) {
	if sh.isGone() {
		return
	}
	select {
	case o.changes <- share.Change{ID: sh.rec.ID, Type: t}:
	case <-sh.gone:
	}
}

// onFileEvent is called by a share's watcher for every raw filesystem
// notification. Qualifying events restart the share's single-slot debounce
// timer; excluded paths are dropped with no further effect.
func (o *Orchestrator) onFileEvent(id secret.Identity, rel string) {
	o.mu.RLock()
	sh, ok := o.shares[id]
	o.mu.RUnlock()
	if !ok || sh.isGone() {
		return
	}

	if fixedExcluded(rel) || sh.filt.Ignored(rel) {
		return
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.isGone() {
		return
	}
	if sh.timer != nil {
		sh.timer.Stop()
	}
	sh.timer = time.AfterFunc(o.debounce, func() { o.resync(id) })
}

// resync coalesces a burst of local edits into one re-publish: stop the
// current participation, rebuild the manifest from the filtered tree and
// restart publishing under the share's fixed locator. FilesUpdated is
// emitted only after the whole cycle completes.
func (o *Orchestrator) resync(id secret.Identity) {
	o.mu.RLock()
	sh, ok := o.shares[id]
	o.mu.RUnlock()
	if !ok {
		return
	}

	sh.syncMu.Lock()
	defer sh.syncMu.Unlock()
	if sh.isGone() {
		return
	}

	logger.Debug("resyncing share %s after local changes", id)

	sh.mu.Lock()
	old := sh.handle
	sh.handle = nil
	sh.mu.Unlock()

	if old != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), o.stopTimeout)
		err := old.Stop(stopCtx)
		cancel()
		if err != nil {
			logger.Warn("share %s: stopping stale participation: %v", id, err)
		}
	}

	files, err := listFiles(sh.rec.Path, sh.filt)
	if err != nil {
		logger.Error("share %s: resync scan failed: %v", id, err)
		o.setStatus(sh, share.StatusError)
		return
	}
	manifest, err := engine.BuildManifest(sh.rec.Name, sh.rec.Path, files)
	if err != nil {
		logger.Error("share %s: resync manifest build failed: %v", id, err)
		o.setStatus(sh, share.StatusError)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.stopTimeout)
	defer cancel()
	if err := o.startPublish(ctx, sh, manifest); err != nil {
		logger.Error("share %s: resync restart failed: %v", id, err)
		o.setStatus(sh, share.StatusError)
		return
	}

	o.emit(sh, share.FilesUpdated)
}

func (o *Orchestrator) shareRules(rules []string) []string {
	if !o.defaults {
		return rules
	}
	return append(filter.DefaultRules(), rules...)
}

// fixedExcluded holds the small non-configurable exclusion set: dotfiles at
// the share root and the engine's own state files anywhere.
func fixedExcluded(rel string) bool {
	rel = filter.Normalize(rel)
	if rel == "" {
		return true
	}
	top := rel
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		top = rel[:i]
	}
	if strings.HasPrefix(top, ".") {
		return true
	}
	return strings.HasPrefix(path.Base(rel), tempFilePrefix)
}

// listFiles walks a share root and returns the relative, forward-slash
// paths of all participating files, applying both the fixed exclusions and
// the share's inclusion filter.
func listFiles(root string, filt *filter.Filter) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if fixedExcluded(rel) || filt.Ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Name != s[j].Name {
			return s[i].Name < s[j].Name
		}
		return s[i].ID < s[j].ID
	})
}
