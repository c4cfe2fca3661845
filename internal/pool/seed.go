package pool

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"keyhub/internal/storage"
)

// LoadSeedFile reads seed keys from path. The file is either a JSON array
// of strings or plain text with one key per line; blank lines and lines
// starting with # are ignored.
func LoadSeedFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		var keys []string
		if err := json.Unmarshal(trimmed, &keys); err != nil {
			return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
		}
		return keys, nil
	}

	var keys []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan seed file %s: %w", path, err)
	}
	return keys, nil
}

// MergeSeeds concatenates seed lists, dropping blanks and duplicates while
// keeping first-seen order.
func MergeSeeds(lists ...[]string) []string {
	seen := make(map[string]bool)
	merged := []string{}
	for _, list := range lists {
		for _, key := range list {
			key = strings.TrimSpace(key)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, key)
		}
	}
	return merged
}

// Seed creates the pool from keys unless a pool document already exists.
func Seed(ctx context.Context, docs *storage.Documents, keys []string) (bool, error) {
	created, err := docs.SeedKeys(ctx, keys)
	if err != nil {
		return false, err
	}
	if created {
		slog.Info("Key pool initialized", "keys", len(keys))
	} else {
		slog.Debug("Key pool already present, seed ignored")
	}
	return created, nil
}
