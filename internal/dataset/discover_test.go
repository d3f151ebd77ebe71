package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverShardsBasic(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, ShardName(0)))
	mustWrite(t, filepath.Join(dir, "nested", ShardName(1)))
	mustWrite(t, filepath.Join(dir, "ignore.txt"))

	shards, err := DiscoverShards(dir)
	if err != nil {
		t.Fatalf("DiscoverShards error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "nested", "shard-000001.tar"),
		filepath.Join(dir, "shard-000000.tar"),
	}
	if len(shards) != len(want) {
		t.Fatalf("expected %d shards, got %d", len(want), len(shards))
	}
	for i, shard := range want {
		if shards[i] != shard {
			t.Fatalf("shard[%d]=%s want %s", i, shards[i], shard)
		}
	}
}

func TestDiscoverSplits(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "train", ShardName(0)))
	mustWrite(t, filepath.Join(dir, "train", ShardName(1)))
	mustWrite(t, filepath.Join(dir, "test", ShardName(0)))

	train, test, err := DiscoverSplits(dir)
	if err != nil {
		t.Fatalf("DiscoverSplits: %v", err)
	}
	if len(train) != 2 || len(test) != 1 {
		t.Fatalf("expected 2/1 shards, got %d/%d", len(train), len(test))
	}
}

func TestDiscoverSplitsMissingTest(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "train", ShardName(0)))
	if err := os.MkdirAll(filepath.Join(dir, "test"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, _, err := DiscoverSplits(dir); err == nil {
		t.Fatal("expected error for empty test split")
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
