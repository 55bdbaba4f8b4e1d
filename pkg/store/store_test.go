package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"atelier/pkg/api"
	"atelier/pkg/sandbox"
	"atelier/pkg/utils"
)

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("not-really-a-png"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func newRecord(t *testing.T, dir, name, prompt string, kind RecordKind, at time.Time) ImageRecord {
	t.Helper()
	id := utils.GenerateID()
	return ImageRecord{
		ID:           id,
		StoragePath:  writeImage(t, dir, name),
		LogicalURI:   LogicalURI(id),
		SourcePrompt: prompt,
		Kind:         kind,
		CreatedAt:    at,
		Model:        "gemini-2.5-flash-image",
		Format:       "png",
		SizeBytes:    16,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "metadata.json"), 20)

	rec := newRecord(t, dir, "a.png", "red circle", KindGenerated, time.Now())
	if err := s.Put(rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SourcePrompt != "red circle" || got.Kind != KindGenerated {
		t.Fatalf("Get returned %+v", got)
	}

	// Fresh store over the same file must see the same records.
	s2 := New(filepath.Join(dir, "metadata.json"), 20)
	if err := s2.Load(); err != nil {
		t.Fatal(err)
	}
	got2, err := s2.Get(rec.ID)
	if err != nil {
		t.Fatalf("record lost across reload: %v", err)
	}
	if got2.LogicalURI != rec.LogicalURI || !got2.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("reloaded record differs: %+v vs %+v", got2, rec)
	}
}

func TestLoadDropsVanishedFiles(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "metadata.json")
	s := New(metaPath, 20)

	keep := newRecord(t, dir, "keep.png", "kept", KindGenerated, time.Now())
	gone := newRecord(t, dir, "gone.png", "doomed", KindGenerated, time.Now())
	if err := s.Put(keep); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(gone); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(gone.StoragePath); err != nil {
		t.Fatal(err)
	}

	s2 := New(metaPath, 20)
	if err := s2.Load(); err != nil {
		t.Fatal(err)
	}
	if _, err := s2.Get(keep.ID); err != nil {
		t.Errorf("surviving record dropped: %v", err)
	}
	if _, err := s2.Get(gone.ID); err == nil {
		t.Error("record with vanished file was admitted")
	}
}

func TestLoadDropsOutOfSandboxPaths(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	metaPath := filepath.Join(dir, "metadata.json")

	// The metadata file is written without a checker so it can carry a
	// record pointing outside the allowed roots, as a tampered file would.
	writer := New(metaPath, 20)
	inRoot := newRecord(t, dir, "ok.png", "inside", KindGenerated, time.Now())
	escaped := newRecord(t, outside, "secret.png", "outside", KindGenerated, time.Now())
	for _, r := range []ImageRecord{inRoot, escaped} {
		if err := writer.Put(r); err != nil {
			t.Fatal(err)
		}
	}

	s := New(metaPath, 20)
	s.SetPathChecker(sandbox.NewWithRoots(dir))
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(inRoot.ID); err != nil {
		t.Errorf("in-sandbox record dropped: %v", err)
	}
	if rec, err := s.Get(escaped.ID); err == nil {
		t.Fatalf("out-of-sandbox record admitted with path %s", rec.StoragePath)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "metadata.json"), 20)

	rec := newRecord(t, dir, "a.png", "x", KindGenerated, time.Now())
	if err := s.Put(rec); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(rec.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if _, err := os.Stat(rec.StoragePath); !os.IsNotExist(err) {
		t.Error("backing file survived delete")
	}

	err := s.Delete(rec.ID)
	if err == nil {
		t.Fatal("second delete succeeded")
	}
	var ae *api.Error
	if !errors.As(err, &ae) || ae.Kind != api.KindNotFound {
		t.Fatalf("second delete error = %v, want NotFound", err)
	}

	if err := s.Delete("ffffffffffffffffffffffff"); err == nil {
		t.Fatal("deleting unknown id succeeded")
	}
}

func TestDeleteSucceedsWhenFileAlreadyGone(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "metadata.json"), 20)

	rec := newRecord(t, dir, "a.png", "x", KindGenerated, time.Now())
	if err := s.Put(rec); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(rec.StoragePath); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(rec.ID); err != nil {
		t.Fatalf("delete with missing file failed: %v", err)
	}
}

func TestListOrderFilterLimit(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "metadata.json"), 2)

	base := time.Now().Add(-time.Hour)
	oldest := newRecord(t, dir, "1.png", "first", KindGenerated, base)
	middle := newRecord(t, dir, "2.png", "second", KindEdited, base.Add(time.Minute))
	newest := newRecord(t, dir, "3.png", "third", KindGenerated, base.Add(2*time.Minute))
	for _, r := range []ImageRecord{oldest, middle, newest} {
		if err := s.Put(r); err != nil {
			t.Fatal(err)
		}
	}

	got := s.List(ListFilter{})
	if len(got) != 2 {
		t.Fatalf("default limit not applied: got %d records", len(got))
	}
	if got[0].ID != newest.ID || got[1].ID != middle.ID {
		t.Fatalf("wrong order: %s, %s", got[0].SourcePrompt, got[1].SourcePrompt)
	}

	edited := s.List(ListFilter{Kind: KindEdited, Limit: 10})
	if len(edited) != 1 || edited[0].ID != middle.ID {
		t.Fatalf("kind filter wrong: %+v", edited)
	}
}

func TestSearch(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "metadata.json"), 20)

	base := time.Now().Add(-2 * time.Hour)
	cat := newRecord(t, dir, "cat.png", "A Fluffy CAT on a mat", KindGenerated, base)
	dog := newRecord(t, dir, "dog.png", "a loyal dog", KindGenerated, base.Add(time.Hour))
	for _, r := range []ImageRecord{cat, dog} {
		if err := s.Put(r); err != nil {
			t.Fatal(err)
		}
	}

	if got := s.Search(SearchQuery{Text: "fluffy cat"}); len(got) != 1 || got[0].ID != cat.ID {
		t.Fatalf("case-insensitive prompt search failed: %+v", got)
	}
	if got := s.Search(SearchQuery{Text: dog.ID[:10]}); len(got) != 1 || got[0].ID != dog.ID {
		t.Fatalf("id substring search failed: %+v", got)
	}
	if got := s.Search(SearchQuery{After: base.Add(30 * time.Minute)}); len(got) != 1 || got[0].ID != dog.ID {
		t.Fatalf("date lower bound failed: %+v", got)
	}
	if got := s.Search(SearchQuery{Until: base.Add(30 * time.Minute)}); len(got) != 1 || got[0].ID != cat.ID {
		t.Fatalf("date upper bound failed: %+v", got)
	}
}

func TestMetadataFilePermissions(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "metadata.json")
	s := New(metaPath, 20)

	rec := newRecord(t, dir, "a.png", "secretish prompt", KindGenerated, time.Now())
	if err := s.Put(rec); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(metaPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("metadata file mode = %o, want 600", perm)
	}
}

func TestFindByPath(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "metadata.json"), 20)

	rec := newRecord(t, dir, "a.png", "x", KindGenerated, time.Now())
	if err := s.Put(rec); err != nil {
		t.Fatal(err)
	}

	got, ok := s.FindByPath(rec.StoragePath)
	if !ok || got.ID != rec.ID {
		t.Fatalf("FindByPath missed existing record")
	}
	if _, ok := s.FindByPath(filepath.Join(dir, "nope.png")); ok {
		t.Fatal("FindByPath matched a path with no record")
	}
}
