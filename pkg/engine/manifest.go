package engine

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// FileEntry describes one file of a manifest. Paths are relative to the
// share root and forward-slash separated regardless of host OS.
type FileEntry struct {
	Path   string
	Size   uint64
	SHA256 string
}

// Manifest describes the complete file set of a share at one point in time.
//
// The manifest has a canonical XDR encoding (files sorted by path) so that
// two peers building a manifest over identical content derive the identical
// locator. XDR was chosen over JSON here because the encoding must be
// byte-stable: map iteration order and whitespace cannot leak into the
// swarm address.
type Manifest struct {
	Name  string
	Files []FileEntry
}

// Encode serializes the manifest to its canonical XDR form.
func (m *Manifest) Encode() ([]byte, error) {
	c := *m
	c.Files = append([]FileEntry(nil), m.Files...)
	sort.Slice(c.Files, func(i, j int) bool { return c.Files[i].Path < c.Files[j].Path })

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &c); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeManifest deserializes a manifest from its XDR form.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// Locator derives the swarm address of this manifest: SHA-1 over the
// canonical encoding, which is exactly LocatorSize bytes wide.
func (m *Manifest) Locator() (Locator, error) {
	var l Locator
	data, err := m.Encode()
	if err != nil {
		return l, err
	}
	return Locator(sha1.Sum(data)), nil
}

// TotalSize returns the sum of all file sizes in the manifest.
func (m *Manifest) TotalSize() uint64 {
	var total uint64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// BuildManifest hashes the given files under root and produces a manifest.
//
// The files slice holds share-relative, forward-slash paths (typically the
// output of the inclusion filter). Files that disappear between listing and
// hashing are skipped rather than failing the whole build: local edits race
// with manifest construction by design and the next resync picks them up.
func BuildManifest(name, root string, files []string) (*Manifest, error) {
	m := &Manifest{Name: name}
	for _, rel := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))

		info, err := os.Stat(abs)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", rel, err)
		}
		if info.IsDir() {
			continue
		}

		sum, err := hashFile(abs)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", rel, err)
		}

		m.Files = append(m.Files, FileEntry{
			Path:   rel,
			Size:   uint64(info.Size()),
			SHA256: sum,
		})
	}
	return m, nil
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
