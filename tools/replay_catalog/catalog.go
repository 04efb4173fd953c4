// Package replaycatalog lists the session bundles below a recording directory.
package replaycatalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pacmanist/server/internal/replay"
)

// Entry captures a finished session header alongside its bundle directory.
type Entry struct {
	BundlePath string        `json:"bundle_path"`
	Header     replay.Header `json:"header"`
}

// List walks root and returns every bundle that carries a header. Bundles of sessions that
// never finished have no header and are skipped.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		header, err := replay.ReadHeader(filepath.Join(path, "header.json"))
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		entries = append(entries, Entry{BundlePath: path, Header: header})
		return fs.SkipDir
	})
	if err != nil {
		return nil, err
	}
	//1.- Rank by score, then by client so output is stable.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Header.FinalPoints != entries[j].Header.FinalPoints {
			return entries[i].Header.FinalPoints > entries[j].Header.FinalPoints
		}
		if entries[i].Header.ClientID != entries[j].Header.ClientID {
			return entries[i].Header.ClientID < entries[j].Header.ClientID
		}
		return entries[i].BundlePath < entries[j].BundlePath
	})
	return entries, nil
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
