// Package overlay serves the detected-entity annotations drawn over page
// images. The dataset maps document key to page number to detections.
package overlay

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
)

// Detection is one recognized person on a page.
type Detection struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Dataset is read once and never mutated.
type Dataset struct {
	docs map[string]map[int][]Detection
}

// Empty returns a dataset with no detections.
func Empty() *Dataset {
	return &Dataset{docs: map[string]map[int][]Detection{}}
}

// Load reads the dataset from path. An empty path yields an empty dataset.
func Load(path string) (*Dataset, error) {
	if path == "" {
		return Empty(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening overlay dataset: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes {"key": {"1": [{"name": ..., "confidence": ...}]}}. Page
// keys that are not positive integers are rejected.
func Parse(r io.Reader) (*Dataset, error) {
	var raw map[string]map[string][]Detection
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding overlay dataset: %w", err)
	}
	d := Empty()
	for key, pages := range raw {
		byPage := make(map[int][]Detection, len(pages))
		for p, dets := range pages {
			n, err := strconv.Atoi(p)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("document %s: invalid page %q", key, p)
			}
			sorted := append([]Detection(nil), dets...)
			sort.SliceStable(sorted, func(i, j int) bool {
				return sorted[i].Confidence > sorted[j].Confidence
			})
			byPage[n] = sorted
		}
		d.docs[key] = byPage
	}
	return d, nil
}

// ForPage returns detections on one page at or above minConfidence, most
// confident first.
func (d *Dataset) ForPage(key string, page int, minConfidence float64) []Detection {
	dets := d.docs[key][page]
	out := make([]Detection, 0, len(dets))
	for _, det := range dets {
		if det.Confidence >= minConfidence {
			out = append(out, det)
		}
	}
	return out
}

// DocumentsWith returns the sorted keys of documents where name was detected
// on any page at or above minConfidence.
func (d *Dataset) DocumentsWith(name string, minConfidence float64) []string {
	var out []string
	for key, pages := range d.docs {
		if hasDetection(pages, name, minConfidence) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// Names returns every distinct name detected at or above minConfidence,
// sorted.
func (d *Dataset) Names(minConfidence float64) []string {
	seen := map[string]struct{}{}
	for _, pages := range d.docs {
		for _, dets := range pages {
			for _, det := range dets {
				if det.Confidence >= minConfidence {
					seen[det.Name] = struct{}{}
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of documents with annotations.
func (d *Dataset) Len() int {
	return len(d.docs)
}

func hasDetection(pages map[int][]Detection, name string, minConfidence float64) bool {
	for _, dets := range pages {
		for _, det := range dets {
			if det.Name == name && det.Confidence >= minConfidence {
				return true
			}
		}
	}
	return false
}
