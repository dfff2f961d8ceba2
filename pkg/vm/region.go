package vm

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrBadProtection = errors.New("malformed protection string")
	ErrBadShareMode  = errors.New("unknown share mode")
)

// Protection is the VM_PROT_* capability bitset of a region.
type Protection uint32

const (
	ProtRead    Protection = 0x1 // VM_PROT_READ
	ProtWrite   Protection = 0x2 // VM_PROT_WRITE
	ProtExecute Protection = 0x4 // VM_PROT_EXECUTE

	ProtNone Protection = 0
	ProtAll             = ProtRead | ProtWrite | ProtExecute
)

func (p Protection) Readable() bool   { return p&ProtRead != 0 }
func (p Protection) Writable() bool   { return p&ProtWrite != 0 }
func (p Protection) Executable() bool { return p&ProtExecute != 0 }

// String renders the protection as "rwx" with '-' for missing bits.
func (p Protection) String() string {
	b := []byte("---")
	if p.Readable() {
		b[0] = 'r'
	}
	if p.Writable() {
		b[1] = 'w'
	}
	if p.Executable() {
		b[2] = 'x'
	}
	return string(b)
}

func (p Protection) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses the three-character form written by MarshalText.
func (p *Protection) UnmarshalText(text []byte) error {
	if len(text) != 3 {
		return fmt.Errorf("%w: %q", ErrBadProtection, text)
	}
	var out Protection
	for i, bit := range []Protection{ProtRead, ProtWrite, ProtExecute} {
		switch text[i] {
		case "rwx"[i]:
			out |= bit
		case '-':
		default:
			return fmt.Errorf("%w: %q", ErrBadProtection, text)
		}
	}
	*p = out
	return nil
}

// ShareMode is the kernel-reported SM_* sharing mode of a region.
type ShareMode uint8

const (
	ShareUnknown        ShareMode = 0
	ShareCOW            ShareMode = 1 // SM_COW
	SharePrivate        ShareMode = 2 // SM_PRIVATE
	ShareEmpty          ShareMode = 3 // SM_EMPTY
	ShareShared         ShareMode = 4 // SM_SHARED
	ShareTrueShared     ShareMode = 5 // SM_TRUESHARED
	SharePrivateAliased ShareMode = 6 // SM_PRIVATE_ALIASED
	ShareSharedAliased  ShareMode = 7 // SM_SHARED_ALIASED
)

// ParseShareMode maps a raw share_mode byte onto ShareMode. Values the kernel
// may add later (SM_LARGE_PAGE and beyond) collapse to ShareUnknown.
func ParseShareMode(raw uint8) ShareMode {
	m := ShareMode(raw)
	if m > ShareSharedAliased {
		return ShareUnknown
	}
	return m
}

// String returns the short mode name used when a region has no backing file.
// SM_TRUESHARED is reported as plain "shared".
func (m ShareMode) String() string {
	switch m {
	case ShareCOW:
		return "cow"
	case SharePrivate:
		return "private"
	case ShareEmpty:
		return "null"
	case ShareShared, ShareTrueShared:
		return "shared"
	case SharePrivateAliased:
		return "private_aliased"
	case ShareSharedAliased:
		return "shared_aliased"
	default:
		return "unknown"
	}
}

// shareModeTokens are the machine-readable names. Unlike String they keep
// SM_SHARED and SM_TRUESHARED apart.
var shareModeTokens = map[ShareMode]string{
	ShareUnknown:        "unknown",
	ShareCOW:            "cow",
	SharePrivate:        "private",
	ShareEmpty:          "null",
	ShareShared:         "shared",
	ShareTrueShared:     "true_shared",
	SharePrivateAliased: "private_aliased",
	ShareSharedAliased:  "shared_aliased",
}

// Token is the lossless name of m used in JSON output.
func (m ShareMode) Token() string {
	if tok, ok := shareModeTokens[m]; ok {
		return tok
	}
	return shareModeTokens[ShareUnknown]
}

func (m ShareMode) MarshalText() ([]byte, error) {
	return []byte(m.Token()), nil
}

func (m *ShareMode) UnmarshalText(text []byte) error {
	for mode, tok := range shareModeTokens {
		if tok == string(text) {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrBadShareMode, text)
}

// Region is one flattened leaf of an address-space walk. Values are snapshots
// and hold no reference to kernel state.
type Region struct {
	Start         uint64     `json:"start"`
	End           uint64     `json:"end"`
	Depth         uint32     `json:"depth"`
	Protection    Protection `json:"protection"`
	MaxProtection Protection `json:"max_protection"`
	ShareMode     ShareMode  `json:"share_mode"`
	UserTag       uint32     `json:"user_tag,omitempty"`
	Offset        uint64     `json:"offset,omitempty"`
	ObjectID      uint32     `json:"object_id,omitempty"`
	RefCount      uint32     `json:"ref_count,omitempty"`
	PagesResident uint32     `json:"pages_resident,omitempty"`
	// Submap is only ever set when the walk was told not to descend.
	Submap bool `json:"submap,omitempty"`
	// Path is the canonical backing file, or empty for anonymous memory.
	Path string `json:"path,omitempty"`
}

func (r Region) Size() uint64 { return r.End - r.Start }

func (r Region) IsAnonymous() bool { return r.Path == "" }

// Contains reports whether addr falls inside [Start, End).
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

// Label is the backing path, or the bracketed share mode name for anonymous
// regions.
func (r Region) Label() string {
	if r.Path != "" {
		return r.Path
	}
	return "[" + r.ShareMode.String() + "]"
}

func (r Region) String() string {
	return fmt.Sprintf("%#x-%#x %s/%s %s", r.Start, r.End, r.Protection, r.MaxProtection, r.Label())
}

func sortRegions(regions []Region) {
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Start < regions[j].Start
	})
}

// Find returns the region containing addr. regions must be sorted by start
// address, as Walk returns them.
func Find(regions []Region, addr uint64) (Region, bool) {
	i := sort.Search(len(regions), func(i int) bool {
		return regions[i].End > addr
	})
	if i < len(regions) && regions[i].Start <= addr {
		return regions[i], true
	}
	return Region{}, false
}

// Summary aggregates a walk for totals lines.
type Summary struct {
	Regions    int
	Mapped     uint64
	FileBacked uint64
	Anonymous  uint64
	// ResidentPages counts pages in physical memory, in target page units.
	ResidentPages uint64
	ByShareMode   map[string]uint64
}

// Summarize totals region sizes by backing kind and share mode name.
func Summarize(regions []Region) Summary {
	s := Summary{ByShareMode: make(map[string]uint64)}
	for _, r := range regions {
		size := r.Size()
		s.Regions++
		s.Mapped += size
		if r.IsAnonymous() {
			s.Anonymous += size
		} else {
			s.FileBacked += size
		}
		s.ResidentPages += uint64(r.PagesResident)
		s.ByShareMode[r.ShareMode.String()] += size
	}
	return s
}
