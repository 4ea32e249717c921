package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/swarmsync/pkg/engine"
	"github.com/marmos91/swarmsync/pkg/engine/local"
	"github.com/marmos91/swarmsync/pkg/secret"
	"github.com/marmos91/swarmsync/pkg/share"
	"github.com/marmos91/swarmsync/pkg/share/memory"
)

func newTestOrchestrator(t *testing.T, hub *local.Hub) *Orchestrator {
	t.Helper()

	o, err := New(Config{
		Engine:      local.NewEngine(hub),
		Store:       memory.NewMemoryStore(),
		Debounce:    50 * time.Millisecond,
		StopTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, o.Close(context.Background()))
	})
	return o
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func treeMatches(root string, files map[string]string) bool {
	for rel, want := range files {
		got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil || string(got) != want {
			return false
		}
	}
	return true
}

func waitForStatus(t *testing.T, o *Orchestrator, id secret.Identity, want share.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, ok := o.Status(id)
		return ok && s.Status == want
	}, 5*time.Second, 20*time.Millisecond, "share %s never reached status %s", id, want)
}

// waitForChange drains o.Changes() until a notification of type want for id
// arrives, failing the test on timeout.
func waitForChange(t *testing.T, o *Orchestrator, id secret.Identity, want share.ChangeType) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ch := <-o.Changes():
			if ch.ID == id && ch.Type == want {
				return
			}
		case <-deadline:
			t.Fatalf("no %v notification for share %s", want, id)
		}
	}
}

func TestCreateThenJoinWithReadSecret(t *testing.T) {
	hub := local.NewHub()
	publisher := newTestOrchestrator(t, hub)
	joiner := newTestOrchestrator(t, hub)

	files := map[string]string{
		"readme.txt":   "hello",
		"docs/a.md":    "alpha",
		"docs/b.md":    "beta",
		"bin/tool.exe": "binary",
	}
	src := t.TempDir()
	writeTree(t, src, files)

	res, err := publisher.Create(context.Background(), CreateOptions{Path: src, Name: "docs"})
	require.NoError(t, err)
	require.NotEmpty(t, res.WriteSecret)
	require.NotEmpty(t, res.ReadSecret)
	waitForStatus(t, publisher, res.Share.ID, share.StatusUpToDate)

	dst := t.TempDir()
	rec, err := joiner.Add(context.Background(), res.ReadSecret, dst, "")
	require.NoError(t, err)
	assert.Equal(t, res.Share.ID, rec.ID)
	assert.Equal(t, secret.AccessReadOnly, rec.Access)

	waitForStatus(t, joiner, rec.ID, share.StatusUpToDate)
	assert.True(t, treeMatches(dst, files))
}

func TestCreateRejectsMissingPath(t *testing.T) {
	o := newTestOrchestrator(t, local.NewHub())

	_, err := o.Create(context.Background(), CreateOptions{Path: filepath.Join(t.TempDir(), "absent")})
	require.Error(t, err)
}

func TestAddRejectsDuplicateIdentity(t *testing.T) {
	hub := local.NewHub()
	o := newTestOrchestrator(t, hub)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"f.txt": "x"})
	res, err := o.Create(context.Background(), CreateOptions{Path: src})
	require.NoError(t, err)

	_, err = o.Add(context.Background(), res.ReadSecret, t.TempDir(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already active")
}

func TestLocalEditBurstCoalescesIntoOneRepublish(t *testing.T) {
	hub := local.NewHub()
	o := newTestOrchestrator(t, hub)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"seed.txt": "seed"})
	res, err := o.Create(context.Background(), CreateOptions{Path: src})
	require.NoError(t, err)
	waitForStatus(t, o, res.Share.ID, share.StatusUpToDate)

	// A burst of edits well inside the debounce window.
	for i := 0; i < 10; i++ {
		writeTree(t, src, map[string]string{
			filepath.ToSlash(filepath.Join("burst", time.Now().Format("150405.000000000")+".txt")): "data",
		})
		time.Sleep(2 * time.Millisecond)
	}

	waitForChange(t, o, res.Share.ID, share.FilesUpdated)

	// The burst must have produced exactly one republish. Give a second
	// notification ample time to show up before declaring victory.
	assertNoChange(t, o, res.Share.ID, share.FilesUpdated, 500*time.Millisecond)
}

// assertNoChange drains o.Changes() for the given window and fails if a
// notification of the unwanted type for id shows up.
func assertNoChange(t *testing.T, o *Orchestrator, id secret.Identity, unwanted share.ChangeType, window time.Duration) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case ch := <-o.Changes():
			if ch.ID == id && ch.Type == unwanted {
				t.Fatalf("unexpected %v notification for share %s", unwanted, id)
			}
		case <-deadline:
			return
		}
	}
}

func TestLocalEditPropagatesToReadJoiner(t *testing.T) {
	hub := local.NewHub()
	publisher := newTestOrchestrator(t, hub)
	joiner := newTestOrchestrator(t, hub)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "one"})
	res, err := publisher.Create(context.Background(), CreateOptions{Path: src})
	require.NoError(t, err)
	waitForStatus(t, publisher, res.Share.ID, share.StatusUpToDate)

	dst := t.TempDir()
	_, err = joiner.Add(context.Background(), res.ReadSecret, dst, "")
	require.NoError(t, err)
	waitForStatus(t, joiner, res.Share.ID, share.StatusUpToDate)

	writeTree(t, src, map[string]string{"b.txt": "two"})
	waitForChange(t, publisher, res.Share.ID, share.FilesUpdated)

	assert.Eventually(t, func() bool {
		return treeMatches(dst, map[string]string{"a.txt": "one", "b.txt": "two"})
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReadOnlyJoinerNeverPublishesLocalEdits(t *testing.T) {
	hub := local.NewHub()
	publisher := newTestOrchestrator(t, hub)
	joiner := newTestOrchestrator(t, hub)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "one"})
	res, err := publisher.Create(context.Background(), CreateOptions{Path: src})
	require.NoError(t, err)
	waitForStatus(t, publisher, res.Share.ID, share.StatusUpToDate)

	dst := t.TempDir()
	_, err = joiner.Add(context.Background(), res.ReadSecret, dst, "")
	require.NoError(t, err)
	waitForStatus(t, joiner, res.Share.ID, share.StatusUpToDate)

	// A local edit on the read-only side must not leave the machine.
	writeTree(t, dst, map[string]string{"rogue.txt": "nope"})

	assertNoChange(t, joiner, res.Share.ID, share.FilesUpdated, 500*time.Millisecond)
	_, err = os.Stat(filepath.Join(src, "rogue.txt"))
	assert.True(t, os.IsNotExist(err), "rogue file reached the publisher")
}

func TestReadJoinerReportsEachDownloadedFile(t *testing.T) {
	hub := local.NewHub()
	publisher := newTestOrchestrator(t, hub)
	joiner := newTestOrchestrator(t, hub)

	files := map[string]string{"a.txt": "one", "b.txt": "two", "c/d.txt": "three"}
	src := t.TempDir()
	writeTree(t, src, files)
	res, err := publisher.Create(context.Background(), CreateOptions{Path: src})
	require.NoError(t, err)
	waitForStatus(t, publisher, res.Share.ID, share.StatusUpToDate)

	rec, err := joiner.Add(context.Background(), res.ReadSecret, t.TempDir(), "")
	require.NoError(t, err)

	// The engine verifies fetched files one at a time; the joiner must
	// surface one FilesDownloaded per file before the sync completes.
	downloaded := 0
	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ch := <-joiner.Changes():
			if ch.ID != rec.ID {
				continue
			}
			switch ch.Type {
			case share.FilesDownloaded:
				downloaded++
			case share.SyncCompleted:
				done = true
			}
		case <-deadline:
			t.Fatal("joiner never completed its first sync")
		}
	}
	assert.Equal(t, len(files), downloaded)
}

// flakyEngine delegates to an inner engine but fails JoinManifest while
// armed, standing in for an engine that rejects a republish.
type flakyEngine struct {
	inner engine.Engine

	mu       sync.Mutex
	failures int
}

func (e *flakyEngine) arm(n int) {
	e.mu.Lock()
	e.failures = n
	e.mu.Unlock()
}

func (e *flakyEngine) JoinManifest(ctx context.Context, loc engine.Locator, m *engine.Manifest, dir string) (engine.Handle, error) {
	e.mu.Lock()
	fail := e.failures > 0
	if fail {
		e.failures--
	}
	e.mu.Unlock()
	if fail {
		return nil, errors.New("manifest rejected")
	}
	return e.inner.JoinManifest(ctx, loc, m, dir)
}

func (e *flakyEngine) JoinLocator(ctx context.Context, loc engine.Locator, dir string) (engine.Handle, error) {
	return e.inner.JoinLocator(ctx, loc, dir)
}

func TestResyncFailureSetsErrorThenRecovers(t *testing.T) {
	hub := local.NewHub()
	eng := &flakyEngine{inner: local.NewEngine(hub)}
	o, err := New(Config{
		Engine:      eng,
		Store:       memory.NewMemoryStore(),
		Debounce:    50 * time.Millisecond,
		StopTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	defer o.Close(context.Background())

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "one"})
	res, err := o.Create(context.Background(), CreateOptions{Path: src})
	require.NoError(t, err)
	id := res.Share.ID
	waitForStatus(t, o, id, share.StatusUpToDate)

	eng.arm(1)
	writeTree(t, src, map[string]string{"b.txt": "two"})
	waitForStatus(t, o, id, share.StatusError)
	assertNoChange(t, o, id, share.FilesUpdated, 300*time.Millisecond)

	// A failed cycle leaves the watcher alive; the next edit schedules a
	// fresh debounce cycle and the share heals.
	writeTree(t, src, map[string]string{"c.txt": "three"})
	waitForChange(t, o, id, share.FilesUpdated)
	waitForStatus(t, o, id, share.StatusUpToDate)
}

func TestFilterRulesExcludeFilesFromPublish(t *testing.T) {
	hub := local.NewHub()
	publisher := newTestOrchestrator(t, hub)
	joiner := newTestOrchestrator(t, hub)

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"keep.txt":      "keep",
		"skip.log":      "skip",
		"logs/deep.log": "skip",
		"logs/note.txt": "keep",
	})
	res, err := publisher.Create(context.Background(), CreateOptions{
		Path:  src,
		Rules: []string{"*.log"},
	})
	require.NoError(t, err)
	waitForStatus(t, publisher, res.Share.ID, share.StatusUpToDate)

	dst := t.TempDir()
	_, err = joiner.Add(context.Background(), res.ReadSecret, dst, "")
	require.NoError(t, err)
	waitForStatus(t, joiner, res.Share.ID, share.StatusUpToDate)

	assert.True(t, treeMatches(dst, map[string]string{"keep.txt": "keep", "logs/note.txt": "keep"}))
	_, err = os.Stat(filepath.Join(dst, "skip.log"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dst, "logs", "deep.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveIsFinal(t *testing.T) {
	hub := local.NewHub()
	o := newTestOrchestrator(t, hub)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "one"})
	res, err := o.Create(context.Background(), CreateOptions{Path: src})
	require.NoError(t, err)
	id := res.Share.ID
	waitForStatus(t, o, id, share.StatusUpToDate)

	require.NoError(t, o.Remove(context.Background(), id))

	_, ok := o.Status(id)
	assert.False(t, ok, "removed share still reports status")

	_, err = o.store.Get(context.Background(), id)
	assert.ErrorIs(t, err, share.ErrNotFound)

	// Events after removal must be inert.
	writeTree(t, src, map[string]string{"late.txt": "late"})
	assertNoChange(t, o, id, share.FilesUpdated, 300*time.Millisecond)

	assert.NoError(t, o.Remove(context.Background(), id), "second removal should be a no-op")
}

func TestEmptyShareGainsContentLater(t *testing.T) {
	hub := local.NewHub()
	publisher := newTestOrchestrator(t, hub)
	joiner := newTestOrchestrator(t, hub)

	src := t.TempDir()
	res, err := publisher.Create(context.Background(), CreateOptions{Path: src})
	require.NoError(t, err)
	waitForStatus(t, publisher, res.Share.ID, share.StatusUpToDate)

	dst := t.TempDir()
	_, err = joiner.Add(context.Background(), res.ReadSecret, dst, "")
	require.NoError(t, err)
	waitForStatus(t, joiner, res.Share.ID, share.StatusUpToDate)

	writeTree(t, src, map[string]string{"first.txt": "content"})
	waitForChange(t, publisher, res.Share.ID, share.FilesUpdated)

	assert.Eventually(t, func() bool {
		return treeMatches(dst, map[string]string{"first.txt": "content"})
	}, 5*time.Second, 20*time.Millisecond)
}

func TestLoadPersistedRestartsShares(t *testing.T) {
	hub := local.NewHub()
	store := memory.NewMemoryStore()

	src := t.TempDir()
	files := map[string]string{"a.txt": "one", "b/c.txt": "two"}
	writeTree(t, src, files)

	first, err := New(Config{
		Engine:      local.NewEngine(hub),
		Store:       store,
		Debounce:    50 * time.Millisecond,
		StopTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	res, err := first.Create(context.Background(), CreateOptions{Path: src})
	require.NoError(t, err)
	id := res.Share.ID
	waitForStatus(t, first, id, share.StatusUpToDate)
	require.NoError(t, first.Close(context.Background()))

	second, err := New(Config{
		Engine:      local.NewEngine(hub),
		Store:       store,
		Debounce:    50 * time.Millisecond,
		StopTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	defer second.Close(context.Background())

	require.NoError(t, second.LoadPersisted(context.Background()))
	waitForStatus(t, second, id, share.StatusUpToDate)

	s, ok := second.Status(id)
	require.True(t, ok)
	assert.True(t, s.Publisher)
	assert.Equal(t, res.WriteSecret, s.WriteSecret)
}

func TestListIsSortedAndComplete(t *testing.T) {
	hub := local.NewHub()
	o := newTestOrchestrator(t, hub)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		src := t.TempDir()
		writeTree(t, src, map[string]string{"f.txt": name})
		_, err := o.Create(context.Background(), CreateOptions{Path: src, Name: name})
		require.NoError(t, err)
	}

	list := o.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "mid", list[1].Name)
	assert.Equal(t, "zeta", list[2].Name)
}

func TestFixedExclusions(t *testing.T) {
	tests := []struct {
		rel  string
		want bool
	}{
		{"file.txt", false},
		{".hidden", true},
		{".git/config", true},
		{"dir/.hidden", false},
		{"dir/.swarmsync-tmp123", true},
		{".swarmsync-tmp123", true},
		{"dir/sub/file.txt", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fixedExcluded(tt.rel), "rel=%q", tt.rel)
	}
}
