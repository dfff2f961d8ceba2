package commands

import (
	"errors"
	"fmt"
	"os"

	"machmap/pkg/codesign"
	"machmap/pkg/logging"
	"machmap/pkg/structs"
	"machmap/pkg/vm"
)

// RegionsCommand walks the address space of a process.
type RegionsCommand struct{}

func (c *RegionsCommand) Name() string { return "regions" }
func (c *RegionsCommand) Description() string {
	return "List mapped memory regions with protection, share mode and backing file"
}

type regionsArgs struct {
	PID         int   `json:"pid"`
	Submaps     *bool `json:"submaps"`
	NoFilenames bool  `json:"no_filenames"`
	JSON        bool  `json:"json"`
}

func (a regionsArgs) includeSubmaps() bool {
	return a.Submaps == nil || *a.Submaps
}

// regionsOutput is the JSON form of a walk. Error is set when the walk
// aborted and Regions holds only the collected prefix.
type regionsOutput struct {
	PID     int         `json:"pid"`
	Regions []vm.Region `json:"regions"`
	Error   string      `json:"error,omitempty"`
}

func (c *RegionsCommand) Execute(task structs.Task) structs.CommandResult {
	var args regionsArgs
	if result, ok := parseArgs(task.Params, &args); !ok {
		return result
	}

	pid := targetPID(args.PID)
	regions, err := walkProcess(args.PID, args.includeSubmaps(), !args.NoFilenames)
	var walkErr *vm.WalkError
	if err != nil && !errors.As(err, &walkErr) {
		return errorf("Error walking regions for PID %d: %v", pid, err)
	}
	return regionsResult(pid, regions, walkErr, args.JSON)
}

// regionsResult renders a walk. A non-nil walkErr keeps the collected prefix
// in the output and marks the result as an error.
func regionsResult(pid int, regions []vm.Region, walkErr *vm.WalkError, asJSON bool) structs.CommandResult {
	var result structs.CommandResult
	if asJSON {
		out := regionsOutput{PID: pid, Regions: regions}
		if out.Regions == nil {
			out.Regions = []vm.Region{}
		}
		if walkErr != nil {
			out.Error = walkErr.Error()
		}
		result = jsonResult(out)
	} else {
		result = successResult(formatRegions(regions))
		if walkErr != nil {
			result.Output += fmt.Sprintf("\nError: %v\n", walkErr)
		}
	}
	if walkErr != nil {
		result.Status = "error"
	}
	return result
}

func targetPID(pid int) int {
	if pid <= 0 {
		return os.Getpid()
	}
	return pid
}

// openTask returns the task port for pid, using our own port for pid 0 or
// our own pid so no privileges are needed.
func openTask(pid int) (vm.Task, error) {
	if pid <= 0 || pid == os.Getpid() {
		return vm.TaskSelf(), nil
	}
	if !codesign.Exists(pid) {
		return 0, fmt.Errorf("process %d does not exist", pid)
	}
	return vm.TaskForPID(pid)
}

// walkProcess walks pid. On a *vm.WalkError the collected regions are
// returned with it.
func walkProcess(pid int, submaps, filenames bool) ([]vm.Region, error) {
	task, err := openTask(pid)
	if err != nil {
		return nil, err
	}
	defer task.Close()

	q, err := vm.NewQuerier(task)
	if err != nil {
		return nil, err
	}
	opts := []vm.Option{vm.WithSubmaps(submaps)}
	if !filenames {
		opts = append(opts, vm.WithoutFilenames())
	}
	regions, err := vm.Walk(q, opts...)
	if err != nil {
		logging.LogWarning("region walk incomplete", "pid", targetPID(pid), "collected", len(regions), "error", err.Error())
	}
	return regions, err
}
