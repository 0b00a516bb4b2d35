package overlay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `{
  "court/a.pdf": {
    "1": [{"name": "Jane Doe", "confidence": 0.95}, {"name": "John Roe", "confidence": 0.99}],
    "2": [{"name": "Low Score", "confidence": 0.4}]
  },
  "flights/log.pdf": {
    "3": [{"name": "Jane Doe", "confidence": 0.91}]
  }
}`

func TestForPageSortsAndFilters(t *testing.T) {
	d, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	got := d.ForPage("court/a.pdf", 1, 0.9)
	if len(got) != 2 || got[0].Name != "John Roe" || got[1].Name != "Jane Doe" {
		t.Errorf("ForPage = %+v", got)
	}
	if got := d.ForPage("court/a.pdf", 2, 0.9); len(got) != 0 {
		t.Errorf("low-confidence detections leaked: %+v", got)
	}
	if got := d.ForPage("missing.pdf", 1, 0); len(got) != 0 {
		t.Errorf("unknown document = %+v", got)
	}
}

func TestDocumentsWithAndNames(t *testing.T) {
	d, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	docs := d.DocumentsWith("Jane Doe", 0.9)
	if len(docs) != 2 || docs[0] != "court/a.pdf" || docs[1] != "flights/log.pdf" {
		t.Errorf("DocumentsWith = %v", docs)
	}
	if docs := d.DocumentsWith("Jane Doe", 0.92); len(docs) != 1 {
		t.Errorf("threshold not applied: %v", docs)
	}
	names := d.Names(0.9)
	if len(names) != 2 || names[0] != "Jane Doe" || names[1] != "John Roe" {
		t.Errorf("Names = %v", names)
	}
}

func TestParseRejectsBadPage(t *testing.T) {
	if _, err := Parse(strings.NewReader(`{"a.pdf": {"zero": []}}`)); err == nil {
		t.Error("expected error for non-numeric page")
	}
}

func TestLoad(t *testing.T) {
	d, err := Load("")
	if err != nil || d.Len() != 0 {
		t.Fatalf("Load(\"\") = %v, %v", d, err)
	}
	path := filepath.Join(t.TempDir(), "celebrities.json")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	d, err = Load(path)
	if err != nil || d.Len() != 2 {
		t.Fatalf("Load = %v, %v", d, err)
	}
}
