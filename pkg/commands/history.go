package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"machmap/pkg/dyld"
	"machmap/pkg/logging"
	"machmap/pkg/store"
	"machmap/pkg/structs"
	"machmap/pkg/vm"
)

const readTimeout = 30 * time.Second

// HistoryCommand lists the snapshots recorded in a database.
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string { return "history" }
func (c *HistoryCommand) Description() string {
	return "List snapshots recorded in a database, newest first"
}

type historyArgs struct {
	Database string `json:"db"`
	JSON     bool   `json:"json"`
}

func (c *HistoryCommand) Execute(task structs.Task) structs.CommandResult {
	var args historyArgs
	if result, ok := parseArgs(task.Params, &args); !ok {
		return result
	}
	if args.Database == "" {
		return errorResult("Error: a database is required")
	}

	db, err := store.Open(args.Database)
	if err != nil {
		return errorf("Error opening %s: %v", args.Database, err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	infos, err := db.Snapshots(ctx)
	if err != nil {
		logging.LogError(err, "snapshot history query failed", "db", args.Database)
		return errorf("Error reading history: %v", err)
	}

	if args.JSON {
		if infos == nil {
			infos = []store.Info{}
		}
		return jsonResult(infos)
	}
	return successResult(formatHistory(infos))
}

func formatHistory(infos []store.Info) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-36s %7s %-30s %7s %8s %s\n", "ID", "PID", "Taken", "Images", "Regions", "Status"))
	sb.WriteString(strings.Repeat("-", 100) + "\n")
	for _, info := range infos {
		status := "complete"
		if info.Error != "" {
			status = "incomplete"
		}
		sb.WriteString(fmt.Sprintf("%-36s %7d %-30s %7d %8d %s\n",
			info.ID, info.PID, info.TakenAt.Format(time.RFC3339Nano), info.Images, info.Regions, status))
	}
	return sb.String()
}

// ShowCommand prints a recorded snapshot, or resolves one address inside it.
type ShowCommand struct{}

func (c *ShowCommand) Name() string { return "show" }
func (c *ShowCommand) Description() string {
	return "Print a recorded snapshot or look up the region and image holding an address"
}

type showArgs struct {
	Database string `json:"db"`
	ID       string `json:"id"`
	Address  string `json:"addr"`
	JSON     bool   `json:"json"`
}

// addressLookup is the answer to "what is mapped at addr" in a snapshot.
type addressLookup struct {
	Address uint64      `json:"address"`
	Region  *vm.Region  `json:"region,omitempty"`
	Image   *dyld.Image `json:"image,omitempty"`
}

func (c *ShowCommand) Execute(task structs.Task) structs.CommandResult {
	var args showArgs
	if result, ok := parseArgs(task.Params, &args); !ok {
		return result
	}
	if args.Database == "" {
		return errorResult("Error: a database is required")
	}

	db, err := store.Open(args.Database)
	if err != nil {
		return errorf("Error opening %s: %v", args.Database, err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	id := args.ID
	if id == "" {
		infos, err := db.Snapshots(ctx)
		if err != nil {
			return errorf("Error reading history: %v", err)
		}
		if len(infos) == 0 {
			return errorf("Error: no snapshots in %s", args.Database)
		}
		id = infos[0].ID
	}

	snap, err := db.Load(ctx, id)
	if err != nil {
		return errorf("Error loading snapshot: %v", err)
	}

	if args.Address == "" {
		return snapshotResult(snap, "", args.JSON)
	}

	addr, err := strconv.ParseUint(args.Address, 0, 64)
	if err != nil {
		return errorf("Error: invalid address %q", args.Address)
	}
	found := lookupAddress(snap, addr)
	if args.JSON {
		return jsonResult(found)
	}
	return successResult(formatLookup(found))
}

func lookupAddress(snap structs.Snapshot, addr uint64) addressLookup {
	found := addressLookup{Address: addr}
	if r, ok := vm.Find(snap.Regions, addr); ok {
		found.Region = &r
	}
	if img, ok := dyld.Find(snap.Images, addr); ok {
		found.Image = &img
	}
	return found
}

func formatLookup(found addressLookup) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%#x\n", found.Address))
	if found.Region != nil {
		r := found.Region
		sb.WriteString(fmt.Sprintf("  region %16x - %-16x [%s] %s/%s %s (+%#x)\n",
			r.Start, r.End, displaySize(r.Size()), r.Protection, r.MaxProtection, r.Label(), found.Address-r.Start))
	} else {
		sb.WriteString("  region (unmapped)\n")
	}
	if found.Image != nil {
		sb.WriteString(fmt.Sprintf("  image  [%16x] %s (+%#x)\n",
			found.Image.LoadAddress, found.Image.Path, found.Address-found.Image.LoadAddress))
	} else {
		sb.WriteString("  image  (none)\n")
	}
	return sb.String()
}
