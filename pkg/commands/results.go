package commands

import (
	"encoding/json"
	"fmt"

	"machmap/pkg/structs"
)

// errorResult returns a completed CommandResult with error status.
func errorResult(msg string) structs.CommandResult {
	return structs.CommandResult{
		Output:    msg,
		Status:    "error",
		Completed: true,
	}
}

// errorf returns a completed CommandResult with a formatted error message.
func errorf(format string, args ...interface{}) structs.CommandResult {
	return errorResult(fmt.Sprintf(format, args...))
}

// successResult returns a completed CommandResult with success status.
func successResult(msg string) structs.CommandResult {
	return structs.CommandResult{
		Output:    msg,
		Status:    "success",
		Completed: true,
	}
}

// jsonResult marshals v as the command output.
func jsonResult(v interface{}) structs.CommandResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorf("Error encoding output: %v", err)
	}
	return successResult(string(data))
}

// parseArgs unmarshals JSON task params into the target struct. Empty params
// leave target untouched since every argument here is optional.
// Returns a non-zero CommandResult on error (caller should return it).
func parseArgs(params string, target interface{}) (structs.CommandResult, bool) {
	if params == "" {
		return structs.CommandResult{}, true
	}
	if err := json.Unmarshal([]byte(params), target); err != nil {
		return errorf("Error parsing parameters: %v", err), false
	}
	return structs.CommandResult{}, true
}
