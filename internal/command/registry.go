package command

import "sort"

var registry = map[string]Command{}

// RegisterCommand indexes cmd under its name, aliases, and short form.
func RegisterCommand(cmd Command) {
	names := append([]string{cmd.Name()}, cmd.Aliases()...)
	for _, n := range names {
		registry[n] = cmd
	}
	if short := cmd.Short(); short != "" {
		registry[short] = cmd
	}
}

// GetCommand returns a command by any of its registered names.
func GetCommand(name string) (Command, bool) {
	cmd, ok := registry[name]
	return cmd, ok
}

// AllCommands returns every registered command once, sorted by name.
func AllCommands() []Command {
	seen := map[Command]bool{}
	list := make([]Command, 0, len(registry))
	for _, cmd := range registry {
		if !seen[cmd] {
			list = append(list, cmd)
			seen[cmd] = true
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}
