package commands

import (
	"errors"

	"machmap/pkg/codesign"
	"machmap/pkg/structs"
)

// ExePathCommand resolves the executable file of a process.
type ExePathCommand struct{}

func (c *ExePathCommand) Name() string { return "exe-path" }
func (c *ExePathCommand) Description() string {
	return "Resolve the on-disk executable of a process from its code identity"
}

type exePathArgs struct {
	PID  int  `json:"pid"`
	JSON bool `json:"json"`
}

type exePathOutput struct {
	PID  int    `json:"pid"`
	Path string `json:"path"`
}

func (c *ExePathCommand) Execute(task structs.Task) structs.CommandResult {
	var args exePathArgs
	if result, ok := parseArgs(task.Params, &args); !ok {
		return result
	}
	pid := targetPID(args.PID)
	if !codesign.Exists(pid) {
		return errorf("Error: process %d does not exist", pid)
	}

	path, err := codesign.PathForPID(pid)
	if errors.Is(err, codesign.ErrNotFound) {
		return errorf("Error: no executable path for PID %d", pid)
	}
	if err != nil {
		return errorf("Error resolving path for PID %d: %v", pid, err)
	}
	if args.JSON {
		return jsonResult(exePathOutput{PID: pid, Path: path})
	}
	return successResult(path + "\n")
}
