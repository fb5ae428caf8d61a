// Package library is a file-backed collection service: a YAML snapshot of
// playlists and their items, mutated in place and flushed to disk after
// every call. It lets the engine run against an exported library without
// touching a remote API; the remote adapters satisfy the same contracts.
package library

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sortd/sortd/internal/collection"
)

// File is the on-disk document.
type File struct {
	Playlists []Playlist `yaml:"playlists"`
}

// Playlist is one container and its ordered items.
type Playlist struct {
	ID    string  `yaml:"id"`
	Title string  `yaml:"title,omitempty"`
	Items []Entry `yaml:"items"`
}

// Entry is one item occurrence inside a playlist.
type Entry struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
}

// Service implements collection.Service over a library file. Mutations are
// written back to disk before the call returns, so a crashed run never
// acknowledges work the file does not show.
type Service struct {
	mu   sync.Mutex
	path string
	file File

	// byID indexes every entry ever seen in the file, so items removed
	// from their last playlist can still be re-added by id.
	byID map[string]Entry
}

// Open loads a library file. The file must exist; an empty library is a
// valid document with no playlists.
func Open(path string) (*Service, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("open library %s: %w", path, err)
	}

	s := &Service{path: path, file: f, byID: make(map[string]Entry)}
	for _, pl := range f.Playlists {
		for _, e := range pl.Items {
			s.byID[e.ID] = e
		}
	}
	return s, nil
}

func (s *Service) flushLocked() error {
	raw, err := yaml.Marshal(&s.file)
	if err != nil {
		return fmt.Errorf("flush library: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("flush library: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("flush library: %w", err)
	}
	return nil
}

func (s *Service) playlistLocked(id string) *Playlist {
	for i := range s.file.Playlists {
		if s.file.Playlists[i].ID == id {
			return &s.file.Playlists[i]
		}
	}
	return nil
}

// ListItems implements collection.Service with numeric page tokens.
func (s *Service) ListItems(ctx context.Context, containerID, pageToken string) (collection.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pl := s.playlistLocked(containerID)
	if pl == nil {
		return collection.Page{}, fmt.Errorf("playlist %s not found", containerID)
	}

	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return collection.Page{}, fmt.Errorf("bad page token %q", pageToken)
		}
		start = n
	}
	if start > len(pl.Items) {
		start = len(pl.Items)
	}
	end := start + collection.MaxPageSize
	if end > len(pl.Items) {
		end = len(pl.Items)
	}

	page := collection.Page{}
	for _, e := range pl.Items[start:end] {
		page.Items = append(page.Items, collection.Item{
			ID:          e.ID,
			Title:       e.Title,
			Description: e.Description,
		})
	}
	if end < len(pl.Items) {
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

// AddItems appends items by id. Items already present report duplicate and
// are not appended again; ids the library has never seen report not-found.
func (s *Service) AddItems(ctx context.Context, containerID string, itemIDs []string) ([]collection.ItemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pl := s.playlistLocked(containerID)
	if pl == nil {
		return nil, fmt.Errorf("playlist %s not found", containerID)
	}

	results := make([]collection.ItemResult, 0, len(itemIDs))
	dirty := false
	for _, id := range itemIDs {
		e, known := s.byID[id]
		switch {
		case !known:
			results = append(results, collection.ItemResult{ItemID: id, Status: collection.StatusNotFound})
		case containsEntry(pl.Items, id):
			results = append(results, collection.ItemResult{ItemID: id, Status: collection.StatusDuplicate})
		default:
			pl.Items = append(pl.Items, e)
			dirty = true
			results = append(results, collection.ItemResult{ItemID: id, Status: collection.StatusOK})
		}
	}

	if dirty {
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// RemoveItems removes every occurrence of each id from the playlist.
func (s *Service) RemoveItems(ctx context.Context, containerID string, itemIDs []string) ([]collection.ItemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pl := s.playlistLocked(containerID)
	if pl == nil {
		return nil, fmt.Errorf("playlist %s not found", containerID)
	}

	results := make([]collection.ItemResult, 0, len(itemIDs))
	dirty := false
	for _, id := range itemIDs {
		if !containsEntry(pl.Items, id) {
			results = append(results, collection.ItemResult{ItemID: id, Status: collection.StatusNotFound})
			continue
		}
		kept := pl.Items[:0]
		for _, e := range pl.Items {
			if e.ID != id {
				kept = append(kept, e)
			}
		}
		pl.Items = kept
		dirty = true
		results = append(results, collection.ItemResult{ItemID: id, Status: collection.StatusOK})
	}

	if dirty {
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// InsertItemAt inserts an item at a position; positions past the end append.
func (s *Service) InsertItemAt(ctx context.Context, containerID, itemID string, position int) (collection.ItemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pl := s.playlistLocked(containerID)
	if pl == nil {
		return collection.ItemResult{}, fmt.Errorf("playlist %s not found", containerID)
	}
	e, known := s.byID[itemID]
	if !known {
		return collection.ItemResult{ItemID: itemID, Status: collection.StatusNotFound}, nil
	}

	if position < 0 || position > len(pl.Items) {
		position = len(pl.Items)
	}
	pl.Items = append(pl.Items, Entry{})
	copy(pl.Items[position+1:], pl.Items[position:])
	pl.Items[position] = e

	if err := s.flushLocked(); err != nil {
		return collection.ItemResult{}, err
	}
	return collection.ItemResult{ItemID: itemID, Status: collection.StatusOK}, nil
}

func containsEntry(items []Entry, id string) bool {
	for _, e := range items {
		if e.ID == id {
			return true
		}
	}
	return false
}
