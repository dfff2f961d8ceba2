package commands

import (
	"sort"
	"sync"

	"machmap/pkg/logging"
	"machmap/pkg/structs"
)

var (
	commandRegistry = make(map[string]structs.Command)
	registryMutex   sync.RWMutex
)

// Initialize registers the inventory commands.
func Initialize() {
	RegisterCommand(&RegionsCommand{})
	RegisterCommand(&ImagesCommand{})
	RegisterCommand(&SnapshotCommand{})
	RegisterCommand(&ExePathCommand{})
	RegisterCommand(&HistoryCommand{})
	RegisterCommand(&ShowCommand{})

	logging.LogDebug("registered command handlers", "count", len(GetAllCommands()))
}

// RegisterCommand registers a command with the command registry
func RegisterCommand(cmd structs.Command) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	commandRegistry[cmd.Name()] = cmd
}

// GetCommand retrieves a command from the registry
func GetCommand(name string) structs.Command {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	return commandRegistry[name]
}

// GetAllCommands returns all registered commands
func GetAllCommands() map[string]structs.Command {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	commands := make(map[string]structs.Command, len(commandRegistry))
	for name, cmd := range commandRegistry {
		commands[name] = cmd
	}
	return commands
}

// Names lists registered command names in order, for usage text.
func Names() []string {
	all := GetAllCommands()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
