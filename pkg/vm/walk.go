package vm

import (
	"errors"
	"fmt"

	"machmap/pkg/logging"
	"machmap/pkg/pathutil"
)

// maxNestingDepth bounds submap descent. Real shared-cache nesting is one or
// two levels deep.
const maxNestingDepth = 64

// RawRegion is the decoded vm_region_submap_info_64 for one query.
type RawRegion struct {
	Start         uint64
	Size          uint64
	Depth         uint32
	Protection    Protection
	MaxProtection Protection
	ShareMode     ShareMode
	IsSubmap      bool
	UserTag       uint32
	Offset        uint64
	ObjectID      uint32
	RefCount      uint32
	PagesResident uint32
}

func (r RawRegion) End() uint64 { return r.Start + r.Size }

// Querier describes the virtual memory of one target.
type Querier interface {
	// Recurse returns the first region at or after addr, descending at most
	// depth submap levels. Depth in the result is the level the kernel
	// actually reported, which drops back when a submap is exhausted.
	// It returns ErrNoMoreRegions past the last region.
	Recurse(addr uint64, depth uint32) (RawRegion, error)
	// RegionFilename returns the path of the file backing addr, or "" for
	// anonymous memory.
	RegionFilename(addr uint64) (string, error)
}

type options struct {
	submaps   bool
	filenames bool
}

type Option func(*options)

// WithSubmaps controls descent into nested submaps. When disabled a submap is
// reported as one opaque region with Submap set.
func WithSubmaps(enabled bool) Option {
	return func(o *options) { o.submaps = enabled }
}

// WithoutFilenames skips the per-region backing path lookup.
func WithoutFilenames() Option {
	return func(o *options) { o.filenames = false }
}

// Walk enumerates every mapped region of q's target in ascending address
// order. If a query fails for any reason other than end of enumeration, the
// regions collected so far are returned together with a *WalkError.
func Walk(q Querier, opts ...Option) ([]Region, error) {
	o := options{submaps: true, filenames: true}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		regions []Region
		cursor  uint64
		depth   uint32
		descent int
	)
	abort := func(err error) ([]Region, error) {
		sortRegions(regions)
		return regions, &WalkError{Cursor: cursor, Depth: depth, Collected: len(regions), Err: err}
	}

	for {
		raw, err := q.Recurse(cursor, depth)
		if errors.Is(err, ErrNoMoreRegions) {
			break
		}
		if err != nil {
			return abort(err)
		}
		depth = raw.Depth

		if raw.IsSubmap && o.submaps {
			if depth >= maxNestingDepth {
				return abort(fmt.Errorf("%w: submap nesting deeper than %d", ErrNoProgress, maxNestingDepth))
			}
			depth++
			descent++
			continue
		}

		end := raw.End()
		if raw.Size == 0 || end <= cursor {
			return abort(fmt.Errorf("%w: region %#x size %#x", ErrNoProgress, raw.Start, raw.Size))
		}
		// A region reaching back over the cursor grew after its head was
		// reported; only the unreported tail is new.
		if raw.Start < cursor {
			raw.Size = end - cursor
			raw.Start = cursor
		}

		regions = append(regions, describe(q, raw, o))
		cursor = end
	}

	sortRegions(regions)
	logging.LogDebug("region walk complete", "regions", len(regions), "submap_descents", descent)
	return regions, nil
}

func describe(q Querier, raw RawRegion, o options) Region {
	r := Region{
		Start:         raw.Start,
		End:           raw.End(),
		Depth:         raw.Depth,
		Protection:    raw.Protection,
		MaxProtection: raw.MaxProtection,
		ShareMode:     raw.ShareMode,
		UserTag:       raw.UserTag,
		Offset:        raw.Offset,
		ObjectID:      raw.ObjectID,
		RefCount:      raw.RefCount,
		PagesResident: raw.PagesResident,
		Submap:        raw.IsSubmap,
	}
	if !o.filenames {
		return r
	}
	name, err := q.RegionFilename(raw.Start)
	if err != nil {
		logging.LogDebug("region filename lookup failed", "addr", fmt.Sprintf("%#x", raw.Start), "error", err.Error())
		return r
	}
	r.Path = pathutil.Canonicalize(name)
	return r
}

// WalkTask walks the address space of task.
func WalkTask(task Task, includeSubmaps bool) ([]Region, error) {
	q, err := NewQuerier(task)
	if err != nil {
		return nil, err
	}
	return Walk(q, WithSubmaps(includeSubmaps))
}

// WalkSelf walks the calling process, descending into submaps.
func WalkSelf() ([]Region, error) {
	return WalkTask(TaskSelf(), true)
}
