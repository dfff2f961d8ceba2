package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"machmap/pkg/commands"
	"machmap/pkg/config"
	"machmap/pkg/logging"
	"machmap/pkg/structs"
)

var (
	// These variables are populated at build time by the Go linker
	version string = "dev"
	debug   string = "false"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one inventory and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	debugBool, _ := strconv.ParseBool(debug)

	commands.Initialize()

	cfg, err := config.Load(args, debugBool, commands.Names()...)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "machmap: %v\n", err)
		return 2
	}

	initLogging(cfg, stderr)
	logging.LogDebug("starting machmap", "version", version, "pid", os.Getpid(), "sections", strings.Join(cfg.Sections, ","))

	code := 0
	for i, task := range tasksFor(cfg) {
		response := processTask(task)
		if i > 0 && !cfg.JSON {
			fmt.Fprintln(stdout)
		}
		fmt.Fprint(stdout, response.UserOutput)
		if !strings.HasSuffix(response.UserOutput, "\n") {
			fmt.Fprintln(stdout)
		}
		if response.Status == "error" {
			code = 1
		}
	}

	logging.LogInfo("Done")
	return code
}

func initLogging(cfg config.Config, w io.Writer) {
	if cfg.LogFormat == config.LogJSON {
		logging.InitializeJSON(w, cfg.Debug)
		return
	}
	logging.Initialize(w, cfg.Debug)
}

// tasksFor turns the configured sections into command tasks. Images and
// regions together, or any run that records to a database, become a single
// snapshot so both tables share one snapshot ID.
func tasksFor(cfg config.Config) []structs.Task {
	wantImages := cfg.Wants(config.SectionImages)
	wantRegions := cfg.Wants(config.SectionRegions)

	params := map[string]interface{}{
		"pid":          cfg.PID,
		"json":         cfg.JSON,
		"submaps":      cfg.Submaps,
		"no_filenames": !cfg.Filenames,
	}

	var tasks []structs.Task
	switch {
	case (wantImages && wantRegions) || (cfg.Database != "" && (wantImages || wantRegions)):
		params["db"] = cfg.Database
		tasks = append(tasks, structs.NewTask("snapshot", encodeParams(params)))
	case wantImages:
		tasks = append(tasks, structs.NewTask("images", encodeParams(params)))
	case wantRegions:
		tasks = append(tasks, structs.NewTask("regions", encodeParams(params)))
	}
	if cfg.Wants(config.SectionExePath) {
		tasks = append(tasks, structs.NewTask("exe-path", encodeParams(params)))
	}

	stored := map[string]interface{}{
		"db":   cfg.Database,
		"id":   cfg.SnapshotID,
		"addr": cfg.Address,
		"json": cfg.JSON,
	}
	if cfg.Wants(config.SectionHistory) {
		tasks = append(tasks, structs.NewTask("history", encodeParams(stored)))
	}
	if cfg.Wants(config.SectionShow) {
		tasks = append(tasks, structs.NewTask("show", encodeParams(stored)))
	}
	return tasks
}

func encodeParams(params map[string]interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(data)
}

func processTask(task structs.Task) structs.Response {
	logging.LogDebug("processing task", "command", task.Command, "id", task.ID)

	response := task.NewResponse()

	handler := commands.GetCommand(task.Command)
	if handler == nil {
		response.Status = "error"
		response.UserOutput = fmt.Sprintf("Unknown command: %s", task.Command)
		response.Completed = true
		return response
	}

	result := handler.Execute(task)
	response.UserOutput = result.Output
	response.Status = result.Status
	response.Completed = result.Completed

	if result.Status == "error" {
		logging.LogWarning("task failed", "command", task.Command, "id", task.ID)
	}
	return response
}
