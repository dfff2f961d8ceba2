package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"machmap/pkg/dyld"
	"machmap/pkg/vm"
)

const rule = "--------------------------------------------------"

// displaySize renders size in a fixed six-column field: kibibytes, promoted
// to M and then G while the count exceeds five digits.
func displaySize(size uint64) string {
	scale := 'K'
	n := size / 1024
	if n > 99999 {
		scale = 'M'
		n /= 1024
	}
	if n > 99999 {
		scale = 'G'
		n /= 1024
	}
	return fmt.Sprintf("%5d%c", n, scale)
}

// formatImages renders the LIBS table.
func formatImages(images []dyld.Image) string {
	var sb strings.Builder
	sb.WriteString("LIBS\n" + rule + "\n")
	for _, img := range images {
		sb.WriteString(fmt.Sprintf("[%16x] %s\n", img.LoadAddress, img.Path))
	}
	return sb.String()
}

// formatRegions renders the REGIONS table followed by a totals block.
func formatRegions(regions []vm.Region) string {
	var sb strings.Builder
	sb.WriteString("REGIONS\n" + rule + "\n")
	for _, r := range regions {
		sb.WriteString(fmt.Sprintf("%16x - %-16x [%s] %s/%s %s\n",
			r.Start, r.End, displaySize(r.Size()), r.Protection, r.MaxProtection, r.Label()))
	}
	sb.WriteString(formatSummary(vm.Summarize(regions)))
	return sb.String()
}

func formatSummary(s vm.Summary) string {
	var sb strings.Builder
	resident := s.ResidentPages * uint64(os.Getpagesize())
	sb.WriteString(fmt.Sprintf("\n%d regions, %s mapped (%s file-backed, %s anonymous), %s resident\n",
		s.Regions, humanize.IBytes(s.Mapped), humanize.IBytes(s.FileBacked), humanize.IBytes(s.Anonymous),
		humanize.IBytes(resident)))

	modes := make([]string, 0, len(s.ByShareMode))
	for mode := range s.ByShareMode {
		modes = append(modes, mode)
	}
	sort.Strings(modes)
	for _, mode := range modes {
		sb.WriteString(fmt.Sprintf("  %-16s %s\n", mode, humanize.IBytes(s.ByShareMode[mode])))
	}
	return sb.String()
}
