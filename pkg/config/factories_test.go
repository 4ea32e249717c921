package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateShareStore_Memory(t *testing.T) {
	store, err := CreateShareStore(context.Background(), &StoreConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	defer func() { _ = store.Close() }()

	if store == nil {
		t.Fatal("Expected a store instance, got nil")
	}
}

func TestCreateShareStore_Badger(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shares")

	store, err := CreateShareStore(context.Background(), &StoreConfig{
		Type:   "badger",
		Badger: map[string]any{"db_path": dbPath},
	})
	if err != nil {
		t.Fatalf("Failed to create badger store: %v", err)
	}
	defer func() { _ = store.Close() }()

	shares, err := store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("Failed to load from fresh badger store: %v", err)
	}
	if len(shares) != 0 {
		t.Errorf("Expected empty store, got %d shares", len(shares))
	}
}

func TestCreateShareStore_BadgerRequiresPath(t *testing.T) {
	_, err := CreateShareStore(context.Background(), &StoreConfig{
		Type:   "badger",
		Badger: map[string]any{},
	})
	if err == nil {
		t.Fatal("Expected error for badger store without db_path")
	}
	if !strings.Contains(err.Error(), "db_path") {
		t.Errorf("Expected db_path error, got: %v", err)
	}
}

func TestCreateShareStore_S3RequiresBucket(t *testing.T) {
	_, err := CreateShareStore(context.Background(), &StoreConfig{
		Type: "s3",
		S3:   map[string]any{"region": "us-east-1"},
	})
	if err == nil {
		t.Fatal("Expected error for S3 store without bucket")
	}
}

func TestCreateShareStore_UnknownType(t *testing.T) {
	_, err := CreateShareStore(context.Background(), &StoreConfig{Type: "cassandra"})
	if err == nil {
		t.Fatal("Expected error for unknown store type")
	}
	if !strings.Contains(err.Error(), "unknown share store type") {
		t.Errorf("Expected unknown type error, got: %v", err)
	}
}

func TestCreateEngine_Local(t *testing.T) {
	eng, err := CreateEngine(&EngineConfig{Type: "local"})
	if err != nil {
		t.Fatalf("Failed to create local engine: %v", err)
	}
	if eng == nil {
		t.Fatal("Expected an engine instance, got nil")
	}
}

func TestCreateEngine_LocalWithDownloadLimit(t *testing.T) {
	eng, err := CreateEngine(&EngineConfig{
		Type:  "local",
		Local: map[string]any{"download_limit": 1048576},
	})
	if err != nil {
		t.Fatalf("Failed to create rate-limited local engine: %v", err)
	}
	if eng == nil {
		t.Fatal("Expected an engine instance, got nil")
	}
}

func TestCreateEngine_UnknownType(t *testing.T) {
	_, err := CreateEngine(&EngineConfig{Type: "carrier-pigeon"})
	if err == nil {
		t.Fatal("Expected error for unknown engine type")
	}
}
