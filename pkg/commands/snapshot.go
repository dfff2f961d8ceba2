package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"machmap/pkg/dyld"
	"machmap/pkg/logging"
	"machmap/pkg/store"
	"machmap/pkg/structs"
	"machmap/pkg/vm"
)

// SnapshotCommand takes a full inventory: images then regions, optionally
// recorded in a sqlite database.
type SnapshotCommand struct{}

func (c *SnapshotCommand) Name() string { return "snapshot" }
func (c *SnapshotCommand) Description() string {
	return "Inventory loaded images and memory regions, optionally saving to a database"
}

type snapshotArgs struct {
	regionsArgs
	Database string `json:"db"`
}

const saveTimeout = 30 * time.Second

func (c *SnapshotCommand) Execute(task structs.Task) structs.CommandResult {
	var args snapshotArgs
	if result, ok := parseArgs(task.Params, &args); !ok {
		return result
	}

	pid := targetPID(args.PID)
	snap := structs.NewSnapshot(pid)

	if pid == os.Getpid() {
		images, err := dyld.List()
		if err != nil {
			return errorf("Error listing images: %v", err)
		}
		snap.Images = images
	} else {
		logging.LogInfo("skipping image list for foreign process", "pid", pid)
	}

	regions, err := walkProcess(args.PID, args.includeSubmaps(), !args.NoFilenames)
	var walkErr *vm.WalkError
	if err != nil && !errors.As(err, &walkErr) {
		return errorf("Error walking regions for PID %d: %v", pid, err)
	}
	snap.Regions = regions
	if walkErr != nil {
		snap.Error = walkErr.Error()
	}

	if args.Database != "" {
		if err := saveSnapshot(args.Database, snap); err != nil {
			return errorf("Error saving snapshot %s: %v", snap.ID, err)
		}
	}
	return snapshotResult(snap, args.Database, args.JSON)
}

// snapshotResult renders snap. An incomplete snapshot is reported as an
// error but still carries everything that was collected.
func snapshotResult(snap structs.Snapshot, dbPath string, asJSON bool) structs.CommandResult {
	var result structs.CommandResult
	if asJSON {
		result = jsonResult(snap)
	} else {
		result = successResult(formatSnapshot(snap, dbPath))
	}
	if !snap.Complete() {
		result.Status = "error"
	}
	return result
}

func saveSnapshot(path string, snap structs.Snapshot) error {
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := db.Save(ctx, snap); err != nil {
		logging.LogError(err, "snapshot save failed", "id", snap.ID, "db", path)
		return err
	}
	logging.LogInfo("snapshot saved", "id", snap.ID, "db", path,
		"images", len(snap.Images), "regions", len(snap.Regions))
	return nil
}

func formatSnapshot(snap structs.Snapshot, dbPath string) string {
	var sb strings.Builder
	if len(snap.Images) > 0 {
		sb.WriteString(formatImages(snap.Images))
		sb.WriteString("\n")
	}
	sb.WriteString(formatRegions(snap.Regions))
	if !snap.Complete() {
		sb.WriteString(fmt.Sprintf("\nError: %s\n", snap.Error))
	}
	if dbPath != "" {
		sb.WriteString(fmt.Sprintf("\nSnapshot %s saved to %s\n", snap.ID, dbPath))
	}
	return sb.String()
}
