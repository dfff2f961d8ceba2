package dyld

import (
	"errors"
	"fmt"
	"sort"

	"machmap/pkg/logging"
	"machmap/pkg/pathutil"
)

var (
	ErrUnsupported      = errors.New("dyld image table is not available on this platform")
	ErrTableUnavailable = errors.New("dyld image table unavailable")
)

// Entry is one raw record copied out of the loader's image table.
type Entry struct {
	LoadAddress uint64
	FilePath    string
}

// Table is a source of loader image records. Implementations must copy
// everything they return; the loader owns the underlying memory.
type Table interface {
	Entries() ([]Entry, error)
}

// Image is one loaded executable image.
type Image struct {
	LoadAddress uint64 `json:"load_address"`
	// Path is the canonical file path, or RawPath when it can't be resolved.
	Path    string `json:"path"`
	RawPath string `json:"raw_path,omitempty"`
}

// List returns every image loaded into the calling process, sorted by load
// address.
func List() ([]Image, error) {
	t, err := SelfTable()
	if err != nil {
		return nil, err
	}
	return ListFrom(t)
}

// ListFrom builds the image list from t.
func ListFrom(t Table) ([]Image, error) {
	entries, err := t.Entries()
	if err != nil {
		return nil, fmt.Errorf("read image table: %w", err)
	}

	images := make([]Image, 0, len(entries))
	for _, e := range entries {
		images = append(images, Image{
			LoadAddress: e.LoadAddress,
			Path:        pathutil.Canonicalize(e.FilePath),
			RawPath:     e.FilePath,
		})
	}

	sort.SliceStable(images, func(i, j int) bool {
		return images[i].LoadAddress < images[j].LoadAddress
	})
	logging.LogDebug("image table read", "images", len(images))
	return images, nil
}

// Find returns the image with the greatest load address not above addr.
// images must be sorted as List returns them.
func Find(images []Image, addr uint64) (Image, bool) {
	i := sort.Search(len(images), func(i int) bool {
		return images[i].LoadAddress > addr
	})
	if i == 0 {
		return Image{}, false
	}
	return images[i-1], true
}
