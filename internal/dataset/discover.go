package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

// ShardName formats the file name of the n-th shard.
func ShardName(n int) string {
	return fmt.Sprintf("shard-%06d.tar", n)
}

// DiscoverShards returns paths to shard TAR files beneath root, sorted.
func DiscoverShards(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if shardRegexp.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

// DiscoverSplits scans root/train and root/test and fails if either is empty.
func DiscoverSplits(root string) (train, test []string, err error) {
	train, err = DiscoverShards(filepath.Join(root, "train"))
	if err != nil {
		return nil, nil, err
	}
	test, err = DiscoverShards(filepath.Join(root, "test"))
	if err != nil {
		return nil, nil, err
	}
	if len(train) == 0 || len(test) == 0 {
		return nil, nil, fmt.Errorf("discover shards: %s needs train/ and test/ shards (found %d and %d)", root, len(train), len(test))
	}
	return train, test, nil
}
