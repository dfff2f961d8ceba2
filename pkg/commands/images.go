package commands

import (
	"os"

	"machmap/pkg/dyld"
	"machmap/pkg/structs"
)

// ImagesCommand lists the executable images the dynamic loader has mapped
// into this process.
type ImagesCommand struct{}

func (c *ImagesCommand) Name() string { return "images" }
func (c *ImagesCommand) Description() string {
	return "List loaded images (executable and libraries) sorted by load address"
}

type imagesArgs struct {
	PID  int  `json:"pid"`
	JSON bool `json:"json"`
}

func (c *ImagesCommand) Execute(task structs.Task) structs.CommandResult {
	var args imagesArgs
	if result, ok := parseArgs(task.Params, &args); !ok {
		return result
	}
	// The loader table is only reachable in-process.
	if args.PID > 0 && args.PID != os.Getpid() {
		return errorf("Error: images can only be listed for this process (PID %d)", os.Getpid())
	}

	images, err := dyld.List()
	if err != nil {
		return errorf("Error listing images: %v", err)
	}
	if args.JSON {
		return jsonResult(images)
	}
	return successResult(formatImages(images))
}
