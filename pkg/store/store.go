package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"atelier/pkg/api"
	"atelier/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RecordKind distinguishes how an image came to exist.
type RecordKind string

const (
	KindGenerated RecordKind = "generated"
	KindEdited    RecordKind = "edited"
)

// ImageRecord describes one produced image artifact. Records are created
// exactly once and never mutated in place: editing produces a new record
// pointing back at its parent.
type ImageRecord struct {
	ID                string     `json:"id"`                            // time-prefixed unique id (utils.GenerateID)
	StoragePath       string     `json:"storage_path"`                  // absolute path inside the sandbox
	LogicalURI        string     `json:"logical_uri"`                   // stable external reference, derived from ID
	SourcePrompt      string     `json:"source_prompt"`                 // text used to produce/modify the image
	Kind              RecordKind `json:"kind"`                          // generated | edited
	CreatedAt         time.Time  `json:"created_at"`                    // record creation time
	Model             string     `json:"model"`                         // upstream model that produced it
	Format            string     `json:"format"`                        // png | jpeg | webp
	SizeBytes         int64      `json:"size_bytes"`                    // payload size on disk
	ReferenceImageIDs []string   `json:"reference_image_ids,omitempty"` // records consulted during an edit
	ParentID          string     `json:"parent_id,omitempty"`           // record this one was derived from
}

// LogicalURI derives the stable external reference for a record id.
func LogicalURI(id string) string {
	return "atelier://images/" + id
}

// ListFilter narrows List output.
type ListFilter struct {
	Kind  RecordKind // empty matches all kinds
	Limit int        // 0 applies the store's default cap
}

// SearchQuery matches records by case-insensitive substring on prompt or id,
// optional kind, and an inclusive created-at range.
type SearchQuery struct {
	Text  string
	Kind  RecordKind
	After time.Time // zero means unbounded
	Until time.Time // zero means unbounded
}

// PathChecker re-validates storage paths loaded from the metadata file.
// Satisfied by *sandbox.Validator.
type PathChecker interface {
	Resolve(raw string) (string, error)
}

// Store is the authoritative, persisted index of ImageRecords. All mutating
// operations serialize through one mutex so concurrent tool calls cannot
// race the load-modify-persist cycle on the backing file.
type Store struct {
	mu           sync.Mutex
	path         string // backing JSON file
	records      map[string]ImageRecord
	defaultLimit int
	checker      PathChecker
}

// New creates a Store persisting to the given file. defaultLimit caps List
// results when the caller does not provide one.
func New(path string, defaultLimit int) *Store {
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	return &Store{
		path:         path,
		records:      make(map[string]ImageRecord),
		defaultLimit: defaultLimit,
	}
}

// SetPathChecker installs the validator applied to storage paths during
// Load. Must be called before Load.
func (s *Store) SetPathChecker(c PathChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checker = c
}

// Load reads the persisted file if present. Records whose backing image file
// no longer exists are silently dropped, so the index self-heals after
// external deletion. When a PathChecker is installed, records whose storage
// path falls outside the sandbox are dropped the same way: the metadata file
// is caller-editable state and must not smuggle paths past the whitelist.
// Missing metadata file is not an error (fresh start).
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return api.WrapError(api.KindPersistence, "load_metadata", "failed to read metadata file", err)
	}

	var list []ImageRecord
	if err := json.Unmarshal(data, &list); err != nil {
		return api.WrapError(api.KindPersistence, "load_metadata", "failed to parse metadata file", err)
	}

	dropped := 0
	denied := 0
	for _, rec := range list {
		if s.checker != nil {
			resolved, err := s.checker.Resolve(rec.StoragePath)
			if err != nil {
				denied++
				continue
			}
			rec.StoragePath = resolved
		}
		if _, err := os.Stat(rec.StoragePath); err != nil {
			dropped++
			continue
		}
		if rec.CreatedAt.IsZero() {
			// Older entries may predate the created_at field; recover the
			// timestamp embedded in the id.
			if t, err := utils.GetTimeFromID(rec.ID); err == nil {
				rec.CreatedAt = t
			}
		}
		s.records[rec.ID] = rec
	}

	if dropped > 0 {
		slog.Info("Dropped records with missing image files", "count", dropped)
	}
	if denied > 0 {
		slog.Warn("⚠️ Dropped records with out-of-sandbox paths", "count", denied)
	}
	slog.Info("Metadata index loaded", "records", len(s.records), "file", s.path)
	return nil
}

// Put inserts or overwrites a record by id and immediately persists the full
// index (write-through). A persist failure is returned to the caller but the
// in-memory mutation stays applied.
func (s *Store) Put(rec ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = rec
	return s.persistLocked()
}

// Get returns the record for id.
func (s *Store) Get(id string) (ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ImageRecord{}, api.NewError(api.KindNotFound, "get_image", fmt.Sprintf("no image record with id %s", id))
	}
	return rec, nil
}

// Delete removes the record and persists, then best-effort removes the
// backing file. A missing file is only a warning: metadata deletion succeeds
// regardless. Deleting an unknown id returns NotFound with no side effects.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return api.NewError(api.KindNotFound, "delete_image", fmt.Sprintf("no image record with id %s", id))
	}

	delete(s.records, id)
	if err := s.persistLocked(); err != nil {
		return err
	}

	if err := os.Remove(rec.StoragePath); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove image file", "id", id, "error", err)
	}
	return nil
}

// List returns records newest-first, optionally filtered by kind, truncated
// to the filter limit (default cap when unset).
func (s *Store) List(filter ListFilter) []ImageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ImageRecord, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Kind != "" && rec.Kind != filter.Kind {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Search does a linear scan over the index. Text matches case-insensitively
// against both prompt and id; date bounds are inclusive.
func (s *Store) Search(q SearchQuery) []ImageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(q.Text)
	var out []ImageRecord
	for _, rec := range s.records {
		if q.Kind != "" && rec.Kind != q.Kind {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(rec.SourcePrompt), needle) &&
			!strings.Contains(strings.ToLower(rec.ID), needle) {
			continue
		}
		if !q.After.IsZero() && rec.CreatedAt.Before(q.After) {
			continue
		}
		if !q.Until.IsZero() && rec.CreatedAt.After(q.Until) {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// FindByPath returns the record whose storage path matches, if any. Used to
// link edits back to the record of their source file.
func (s *Store) FindByPath(path string) (ImageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clean := filepath.Clean(path)
	for _, rec := range s.records {
		if filepath.Clean(rec.StoragePath) == clean {
			return rec, true
		}
	}
	return ImageRecord{}, false
}

// Len returns the number of records currently in the index.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// persistLocked serializes the whole index and rewrites the backing file
// with owner-only permissions; prompts and paths are considered sensitive.
// Caller must hold s.mu.
func (s *Store) persistLocked() error {
	list := make([]ImageRecord, 0, len(s.records))
	for _, rec := range s.records {
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return api.WrapError(api.KindPersistence, "persist_metadata", "failed to encode metadata", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return api.WrapError(api.KindPersistence, "persist_metadata", "failed to create metadata directory", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return api.WrapError(api.KindPersistence, "persist_metadata", "failed to write metadata file", err)
	}
	return nil
}
