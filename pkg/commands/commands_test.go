package commands

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"machmap/pkg/dyld"
	"machmap/pkg/store"
	"machmap/pkg/structs"
	"machmap/pkg/vm"
)

func skipUnlessDarwin(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "darwin" {
		t.Skip("Mach inventory is only available on darwin")
	}
}

func params(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return string(data)
}

// --- regions ---

func TestRegionsCommand_Name(t *testing.T) {
	cmd := &RegionsCommand{}
	if cmd.Name() != "regions" {
		t.Errorf("expected 'regions', got %q", cmd.Name())
	}
}

func TestRegionsCommand_BadParams(t *testing.T) {
	result := (&RegionsCommand{}).Execute(structs.Task{Params: "{"})
	if result.Status != "error" {
		t.Errorf("expected error status, got %q", result.Status)
	}
}

func TestRegionsCommand_Unsupported(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("darwin supports region walks")
	}
	result := (&RegionsCommand{}).Execute(structs.Task{})
	if result.Status != "error" {
		t.Fatalf("expected error on %s, got %q", runtime.GOOS, result.Status)
	}
	if !strings.Contains(result.Output, "not supported") {
		t.Errorf("output %q does not mention lack of support", result.Output)
	}
}

func partialWalk() ([]vm.Region, *vm.WalkError) {
	regions := []vm.Region{
		{Start: 0x1000, End: 0x2000, Protection: vm.ProtRead, MaxProtection: vm.ProtAll, ShareMode: vm.ShareTrueShared},
		{Start: 0x2000, End: 0x3000, Protection: vm.ProtRead | vm.ProtWrite, MaxProtection: vm.ProtAll, ShareMode: vm.SharePrivate},
	}
	walkErr := &vm.WalkError{Cursor: 0x3000, Collected: len(regions), Err: &vm.KernError{Op: "vm_region_recurse_64", Code: 5}}
	return regions, walkErr
}

func TestRegionsResult_PartialJSON(t *testing.T) {
	regions, walkErr := partialWalk()
	result := regionsResult(42, regions, walkErr, true)
	if result.Status != "error" {
		t.Errorf("Status = %q, want error", result.Status)
	}

	var out regionsOutput
	if err := json.Unmarshal([]byte(result.Output), &out); err != nil {
		t.Fatalf("partial walk output is not valid JSON: %v\n%s", err, result.Output)
	}
	if out.PID != 42 {
		t.Errorf("PID = %d, want 42", out.PID)
	}
	if len(out.Regions) != 2 || out.Regions[0] != regions[0] || out.Regions[1] != regions[1] {
		t.Errorf("Regions = %+v, want %+v", out.Regions, regions)
	}
	if out.Error != walkErr.Error() {
		t.Errorf("Error = %q, want %q", out.Error, walkErr.Error())
	}
}

func TestRegionsResult_CompleteJSON(t *testing.T) {
	result := regionsResult(42, nil, nil, true)
	if result.Status != "success" {
		t.Errorf("Status = %q, want success", result.Status)
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(result.Output), &out); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if _, ok := out["error"]; ok {
		t.Error("complete walk should not carry an error field")
	}
	if regions, ok := out["regions"].([]interface{}); !ok || len(regions) != 0 {
		t.Errorf("regions = %v, want empty array", out["regions"])
	}
}

func TestRegionsResult_PartialTable(t *testing.T) {
	regions, walkErr := partialWalk()
	result := regionsResult(42, regions, walkErr, false)
	if result.Status != "error" {
		t.Errorf("Status = %q, want error", result.Status)
	}
	if !strings.Contains(result.Output, "[private]") {
		t.Errorf("collected regions missing from table:\n%s", result.Output)
	}
	if !strings.Contains(result.Output, "Error: region walk aborted at 0x3000") {
		t.Errorf("abort not reported:\n%s", result.Output)
	}
}

func TestSnapshotResult_IncompleteJSON(t *testing.T) {
	regions, walkErr := partialWalk()
	snap := structs.NewSnapshot(42)
	snap.Regions = regions
	snap.Error = walkErr.Error()

	result := snapshotResult(snap, "", true)
	if result.Status != "error" {
		t.Errorf("Status = %q, want error", result.Status)
	}
	var decoded structs.Snapshot
	if err := json.Unmarshal([]byte(result.Output), &decoded); err != nil {
		t.Fatalf("incomplete snapshot output is not valid JSON: %v", err)
	}
	if decoded.Complete() || len(decoded.Regions) != 2 {
		t.Errorf("decoded snapshot = %+v", decoded)
	}
}

func TestRegionsCommand_Self(t *testing.T) {
	skipUnlessDarwin(t)
	result := (&RegionsCommand{}).Execute(structs.Task{})
	if result.Status != "success" {
		t.Fatalf("regions failed: %s", result.Output)
	}
	if !strings.HasPrefix(result.Output, "REGIONS\n") {
		t.Errorf("output missing REGIONS header")
	}
}

func TestRegionsCommand_SelfJSON(t *testing.T) {
	skipUnlessDarwin(t)
	result := (&RegionsCommand{}).Execute(structs.Task{
		Params: params(t, map[string]interface{}{"pid": os.Getpid(), "json": true}),
	})
	if result.Status != "success" {
		t.Fatalf("regions failed: %s", result.Output)
	}
	var out regionsOutput
	if err := json.Unmarshal([]byte(result.Output), &out); err != nil {
		t.Fatalf("output should decode into regionsOutput: %v", err)
	}
	if out.PID != os.Getpid() || out.Error != "" {
		t.Errorf("pid = %d, error = %q", out.PID, out.Error)
	}
	if len(out.Regions) == 0 {
		t.Fatal("expected at least one region")
	}
	for _, r := range out.Regions {
		if r.End <= r.Start {
			t.Errorf("region %v has end <= start", r)
		}
	}
}

func TestRegionsCommand_NoSubmapsChangesCount(t *testing.T) {
	skipUnlessDarwin(t)
	with, err := walkProcess(0, true, false)
	if err != nil {
		t.Fatalf("walk with submaps: %v", err)
	}
	without, err := walkProcess(0, false, false)
	if err != nil {
		t.Fatalf("walk without submaps: %v", err)
	}
	if len(with) == len(without) {
		t.Errorf("submap setting did not change the region count (%d)", len(with))
	}
}

func TestRegionsCommand_MissingPID(t *testing.T) {
	result := (&RegionsCommand{}).Execute(structs.Task{Params: `{"pid": 99999999}`})
	if result.Status != "error" {
		t.Errorf("expected error for missing pid, got %q", result.Status)
	}
}

// --- images ---

func TestImagesCommand_Self(t *testing.T) {
	skipUnlessDarwin(t)
	result := (&ImagesCommand{}).Execute(structs.Task{Params: `{"json": true}`})
	if result.Status != "success" {
		t.Fatalf("images failed: %s", result.Output)
	}
	var images []dyld.Image
	if err := json.Unmarshal([]byte(result.Output), &images); err != nil {
		t.Fatalf("output should be a JSON array: %v", err)
	}
	if len(images) == 0 {
		t.Fatal("expected at least one image")
	}
	for i := 1; i < len(images); i++ {
		if images[i-1].LoadAddress > images[i].LoadAddress {
			t.Errorf("images not sorted at %d", i)
		}
	}
}

func TestImagesCommand_ForeignPID(t *testing.T) {
	result := (&ImagesCommand{}).Execute(structs.Task{Params: params(t, imagesArgs{PID: os.Getpid() + 1})})
	if result.Status != "error" {
		t.Errorf("expected error for foreign pid, got %q", result.Status)
	}
}

func TestImagesCommand_Unsupported(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("darwin has a loader table")
	}
	result := (&ImagesCommand{}).Execute(structs.Task{})
	if result.Status != "error" {
		t.Errorf("expected error on %s, got %q", runtime.GOOS, result.Status)
	}
}

// --- snapshot ---

func TestSnapshotCommand_SavesToDatabase(t *testing.T) {
	skipUnlessDarwin(t)
	dbPath := filepath.Join(t.TempDir(), "inventory.db")
	result := (&SnapshotCommand{}).Execute(structs.Task{
		Params: params(t, map[string]interface{}{"db": dbPath, "json": true}),
	})
	if result.Status != "success" {
		t.Fatalf("snapshot failed: %s", result.Output)
	}
	var snap structs.Snapshot
	if err := json.Unmarshal([]byte(result.Output), &snap); err != nil {
		t.Fatalf("output should be a JSON snapshot: %v", err)
	}

	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	saved, err := db.Load(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("load saved snapshot: %v", err)
	}
	if len(saved.Images) == 0 || len(saved.Regions) == 0 {
		t.Errorf("saved snapshot is empty: %d images, %d regions", len(saved.Images), len(saved.Regions))
	}
	if saved.PID != os.Getpid() {
		t.Errorf("saved PID = %d, want %d", saved.PID, os.Getpid())
	}
}

func TestSnapshotCommand_Table(t *testing.T) {
	skipUnlessDarwin(t)
	result := (&SnapshotCommand{}).Execute(structs.Task{})
	if result.Status != "success" {
		t.Fatalf("snapshot failed: %s", result.Output)
	}
	libs := strings.Index(result.Output, "LIBS\n")
	regions := strings.Index(result.Output, "REGIONS\n")
	if libs < 0 || regions < 0 || libs > regions {
		t.Errorf("expected LIBS then REGIONS, got:\n%.200s", result.Output)
	}
}

func TestFormatSnapshot_SkipsEmptyImages(t *testing.T) {
	snap := structs.NewSnapshot(1)
	snap.Regions = []vm.Region{{Start: 0x1000, End: 0x2000, ShareMode: vm.ShareEmpty}}
	out := formatSnapshot(snap, "")
	if strings.Contains(out, "LIBS") {
		t.Error("LIBS table printed for a snapshot without images")
	}
	if !strings.Contains(out, "[null]") {
		t.Errorf("anonymous region label missing:\n%s", out)
	}
}

// --- history / show ---

func seedDatabase(t *testing.T) (string, structs.Snapshot, structs.Snapshot) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "inventory.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	complete := structs.NewSnapshot(100)
	complete.TakenAt = complete.TakenAt.Add(-time.Minute)
	complete.Images = []dyld.Image{
		{LoadAddress: 0x100000000, Path: "/usr/bin/true"},
		{LoadAddress: 0x7ff800000000, Path: "/usr/lib/libSystem.B.dylib"},
	}
	complete.Regions = []vm.Region{
		{Start: 0x100000000, End: 0x100004000, Protection: vm.ProtRead | vm.ProtExecute,
			MaxProtection: vm.ProtAll, ShareMode: vm.ShareCOW, Path: "/usr/bin/true"},
		{Start: 0x7ff800000000, End: 0x7ff800200000, Protection: vm.ProtRead,
			MaxProtection: vm.ProtRead, ShareMode: vm.ShareTrueShared},
	}

	regions, walkErr := partialWalk()
	partial := structs.NewSnapshot(200)
	partial.Regions = regions
	partial.Error = walkErr.Error()

	for _, snap := range []structs.Snapshot{complete, partial} {
		if err := db.Save(context.Background(), snap); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	return dbPath, complete, partial
}

func TestHistoryCommand(t *testing.T) {
	dbPath, complete, partial := seedDatabase(t)

	result := (&HistoryCommand{}).Execute(structs.Task{Params: params(t, historyArgs{Database: dbPath})})
	if result.Status != "success" {
		t.Fatalf("history failed: %s", result.Output)
	}
	first := strings.Index(result.Output, partial.ID)
	second := strings.Index(result.Output, complete.ID)
	if first < 0 || second < 0 || first > second {
		t.Errorf("expected newest snapshot first:\n%s", result.Output)
	}
	if !strings.Contains(result.Output, "incomplete") {
		t.Errorf("aborted snapshot not flagged:\n%s", result.Output)
	}

	result = (&HistoryCommand{}).Execute(structs.Task{Params: params(t, historyArgs{Database: dbPath, JSON: true})})
	var infos []store.Info
	if err := json.Unmarshal([]byte(result.Output), &infos); err != nil {
		t.Fatalf("history JSON: %v", err)
	}
	if len(infos) != 2 || infos[0].ID != partial.ID || infos[0].Error == "" {
		t.Errorf("infos = %+v", infos)
	}
}

func TestHistoryCommand_NoDatabase(t *testing.T) {
	result := (&HistoryCommand{}).Execute(structs.Task{})
	if result.Status != "error" {
		t.Errorf("expected error without db, got %q", result.Status)
	}
}

func TestShowCommand_Snapshot(t *testing.T) {
	dbPath, complete, _ := seedDatabase(t)
	result := (&ShowCommand{}).Execute(structs.Task{
		Params: params(t, showArgs{Database: dbPath, ID: complete.ID, JSON: true}),
	})
	if result.Status != "success" {
		t.Fatalf("show failed: %s", result.Output)
	}
	var snap structs.Snapshot
	if err := json.Unmarshal([]byte(result.Output), &snap); err != nil {
		t.Fatalf("show JSON: %v", err)
	}
	if snap.ID != complete.ID || len(snap.Regions) != 2 || snap.Regions[1].ShareMode != vm.ShareTrueShared {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestShowCommand_LatestIsIncomplete(t *testing.T) {
	dbPath, _, partial := seedDatabase(t)
	result := (&ShowCommand{}).Execute(structs.Task{Params: params(t, showArgs{Database: dbPath})})
	if result.Status != "error" {
		t.Errorf("incomplete snapshot should report error status, got %q", result.Status)
	}
	if !strings.Contains(result.Output, partial.Error) {
		t.Errorf("abort reason missing:\n%s", result.Output)
	}
}

func TestShowCommand_Address(t *testing.T) {
	dbPath, complete, _ := seedDatabase(t)
	tests := []struct {
		addr       string
		wantRegion uint64
		wantImage  uint64
	}{
		{"0x100000010", 0x100000000, 0x100000000},
		{"0x7ff800001000", 0x7ff800000000, 0x7ff800000000},
		{"0x200000000", 0, 0x100000000},
		{"0x10", 0, 0},
	}
	for _, tt := range tests {
		result := (&ShowCommand{}).Execute(structs.Task{
			Params: params(t, showArgs{Database: dbPath, ID: complete.ID, Address: tt.addr, JSON: true}),
		})
		if result.Status != "success" {
			t.Fatalf("show %s failed: %s", tt.addr, result.Output)
		}
		var found addressLookup
		if err := json.Unmarshal([]byte(result.Output), &found); err != nil {
			t.Fatalf("lookup JSON: %v", err)
		}
		var region, image uint64
		if found.Region != nil {
			region = found.Region.Start
		}
		if found.Image != nil {
			image = found.Image.LoadAddress
		}
		if region != tt.wantRegion || image != tt.wantImage {
			t.Errorf("lookup %s = region %#x image %#x, want %#x %#x",
				tt.addr, region, image, tt.wantRegion, tt.wantImage)
		}
	}
}

func TestShowCommand_BadInput(t *testing.T) {
	dbPath, complete, _ := seedDatabase(t)
	bad := []showArgs{
		{Database: dbPath, ID: "missing"},
		{Database: dbPath, ID: complete.ID, Address: "nowhere"},
		{ID: complete.ID},
	}
	for _, args := range bad {
		result := (&ShowCommand{}).Execute(structs.Task{Params: params(t, args)})
		if result.Status != "error" {
			t.Errorf("show %+v: expected error, got %q", args, result.Status)
		}
	}
}

func TestFormatLookup(t *testing.T) {
	snap := structs.NewSnapshot(1)
	snap.Regions = []vm.Region{{Start: 0x1000, End: 0x2000, Protection: vm.ProtRead, ShareMode: vm.SharePrivate}}
	out := formatLookup(lookupAddress(snap, 0x1800))
	if !strings.Contains(out, "[private] (+0x800)") {
		t.Errorf("region line missing offset:\n%s", out)
	}
	if !strings.Contains(out, "image  (none)") {
		t.Errorf("expected no image:\n%s", out)
	}
}

// --- exe-path ---

func TestExePathCommand_Self(t *testing.T) {
	result := (&ExePathCommand{}).Execute(structs.Task{})
	if result.Status != "success" {
		t.Fatalf("exe-path failed: %s", result.Output)
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	want, err := filepath.EvalSymlinks(exe)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	if got := strings.TrimSpace(result.Output); got != want {
		t.Errorf("exe-path = %q, want %q", got, want)
	}
}

func TestExePathCommand_MissingPID(t *testing.T) {
	result := (&ExePathCommand{}).Execute(structs.Task{Params: `{"pid": 99999999}`})
	if result.Status != "error" {
		t.Errorf("expected error for missing pid, got %q", result.Status)
	}
}
