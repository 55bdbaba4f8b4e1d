package web

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func uploadFrame(name, payload string) IncomingFrame {
	var frame IncomingFrame
	frame.Images = []struct {
		Name string `json:"name"`
		Mime string `json:"mime"`
		Data string `json:"data"`
	}{
		{Name: name, Mime: "image/png", Data: base64.StdEncoding.EncodeToString([]byte(payload))},
	}
	return frame
}

func TestSaveImagesDedupesByContent(t *testing.T) {
	dir := t.TempDir()
	c := NewWebChannel(WebConfig{AttachmentsDir: dir})

	first := c.saveImages(uploadFrame("a.png", "same-bytes"))
	second := c.saveImages(uploadFrame("b.png", "same-bytes"))
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one attachment per upload, got %d and %d", len(first), len(second))
	}

	if first[0].Path != second[0].Path {
		t.Errorf("identical uploads produced different files: %s vs %s", first[0].Path, second[0].Path)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("attachments dir holds %d files, want 1", len(entries))
	}
}

func TestSaveImagesDistinctContent(t *testing.T) {
	dir := t.TempDir()
	c := NewWebChannel(WebConfig{AttachmentsDir: dir})

	a := c.saveImages(uploadFrame("a.png", "payload-one"))
	b := c.saveImages(uploadFrame("b.png", "payload-two"))
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected one attachment per upload, got %d and %d", len(a), len(b))
	}
	if a[0].Path == b[0].Path {
		t.Fatal("different uploads collapsed onto one file")
	}

	for _, p := range []string{a[0].Path, b[0].Path} {
		if filepath.Dir(p) != dir {
			t.Errorf("attachment %s saved outside configured dir %s", p, dir)
		}
	}
}
