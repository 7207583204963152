package controller

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/tether/internal/command"
)

type localStatus int

const (
	localSuccess localStatus = iota
	localFailure
	localParamError
)

// localCommand runs entirely in the controller.
type localCommand struct {
	name        string
	usage       string
	description string
	args        []command.ArgType
	run         func(c *Console, params []command.Token) localStatus
}

func (l localCommand) minArgs() int { return command.MinArgs(l.args) }

func localTable() []localCommand {
	return []localCommand{
		{
			name:        "exit",
			usage:       "exit",
			description: "Removes all endpoints and exits",
			run:         (*Console).localExit,
		},
		{
			name:        "list_endpoints",
			usage:       "list_endpoints { new | alive | selected }",
			description: "Lists connected endpoints",
			args:        []command.ArgType{command.OptString},
			run:         (*Console).localList,
		},
		{
			name:        "remove",
			usage:       "remove [ endpoint name ]",
			description: "Kills and removes an endpoint",
			args:        []command.ArgType{command.String},
			run:         (*Console).localRemove,
		},
		{
			name:        "rename",
			usage:       "rename [ current name ] [ new name ]",
			description: "Renames an endpoint",
			args:        []command.ArgType{command.String, command.String},
			run:         (*Console).localRename,
		},
		{
			name:        "select",
			usage:       "select [ endpoint name ]",
			description: "Selects an endpoint for command execution",
			args:        []command.ArgType{command.String},
			run:         (*Console).localSelect,
		},
		{
			name:        "deselect",
			usage:       "deselect [ endpoint name ]",
			description: "Deselects an endpoint",
			args:        []command.ArgType{command.String},
			run:         (*Console).localDeselect,
		},
		{
			name:        "select_all",
			usage:       "select_all",
			description: "Selects every endpoint",
			run:         (*Console).localSelectAll,
		},
		{
			name:        "help",
			usage:       "help { command name }",
			description: "Displays help about command(s)",
			args:        []command.ArgType{command.OptString},
			run:         (*Console).localHelp,
		},
		{
			name:        "clear",
			usage:       "clear",
			description: "Clears the console",
			run:         (*Console).localClear,
		},
	}
}

// LocalCommandNames lists the names a command registry must reserve.
func LocalCommandNames() []string {
	table := localTable()
	out := make([]string, 0, len(table))
	for _, l := range table {
		out = append(out, l.name)
	}
	return out
}

func (c *Console) findLocal(name string) (localCommand, bool) {
	for _, l := range c.locals {
		if l.name == name {
			return l, true
		}
	}
	return localCommand{}, false
}

func (c *Console) localExit(_ []command.Token) localStatus {
	if total := c.set.Len(); total > 0 && c.interactive {
		alive := len(c.set.AliveEndpoints(c.ctx))
		c.printf("You have %d endpoints (%d alive) (%d dead)\n", total, alive, total-alive)
		c.printf("Are you sure you want to exit? [Y/n]: ")
		answer, err := c.readLine()
		if err == nil && !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
			return localFailure
		}
	}
	c.stopped = true
	c.printf("Exiting...\n")
	return localSuccess
}

func (c *Console) localList(params []command.Token) localStatus {
	if len(params) == 0 {
		all := c.set.List()
		c.printf("You have %d total endpoints:\n", len(all))
		c.printEndpoints(all)
		return localSuccess
	}
	var (
		list  []*Endpoint
		label string
	)
	switch params[0].Str {
	case "new":
		list, label = c.set.DrainNew(), "new"
	case "alive":
		list, label = c.set.AliveEndpoints(c.ctx), "alive"
	case "selected":
		list, label = c.set.Selected(), "selected"
	default:
		c.printf("If given, the first argument must be 'new', 'selected' or 'alive', not '%s'.\n", params[0].Str)
		return localParamError
	}
	c.printf("You have %d %s endpoints:\n", len(list), label)
	c.printEndpoints(list)
	return localSuccess
}

func (c *Console) printEndpoints(list []*Endpoint) {
	for _, e := range list {
		info := e.Info()
		state := ""
		if !info.Alive {
			state = " (dead)"
		}
		if info.Selected {
			state += " *"
		}
		c.printf("%s -> %s [%s]%s\n", info.Name, info.Addr, info.Platform, state)
	}
}

func (c *Console) localRemove(params []command.Token) localStatus {
	name := params[0].Str
	if !c.set.RemoveByName(name) {
		c.printf("No endpoint named '%s'.\n", name)
		return localParamError
	}
	c.printf("Killed and removed endpoint: %s\n", name)
	return localSuccess
}

func (c *Console) localRename(params []command.Token) localStatus {
	oldName, newName := params[0].Str, params[1].Str
	if strings.EqualFold(oldName, newName) {
		c.printf("The first parameter must not be the same as the second one.\n")
		return localParamError
	}
	switch c.set.Rename(oldName, newName) {
	case RenameSuccess:
		c.printf("Renamed endpoint '%s' to '%s'.\n", oldName, newName)
		return localSuccess
	case RenameNotFound:
		c.printf("No endpoint named '%s'.\n", oldName)
		return localParamError
	case RenameInUse:
		c.printf("Name '%s' already in use.\n", newName)
		return localParamError
	case RenameInvalid:
		c.printf("Name '%s' is not a valid endpoint name.\n", newName)
		return localParamError
	default:
		c.printf("Unknown error while renaming '%s' to '%s'.\n", oldName, newName)
		return localFailure
	}
}

func (c *Console) localSelect(params []command.Token) localStatus {
	name := params[0].Str
	switch c.set.Select(name) {
	case SelectChanged:
		c.printf("Selected '%s'\n", name)
	case SelectUnchanged:
		c.printf("Endpoint '%s' already selected.\n", name)
	default:
		c.printf("Endpoint '%s' not found.\n", name)
		return localParamError
	}
	return localSuccess
}

func (c *Console) localDeselect(params []command.Token) localStatus {
	name := params[0].Str
	switch c.set.Deselect(name) {
	case SelectChanged:
		c.printf("Deselected '%s'\n", name)
	case SelectUnchanged:
		c.printf("Endpoint '%s' isn't selected.\n", name)
	default:
		c.printf("Endpoint '%s' not found.\n", name)
		return localParamError
	}
	return localSuccess
}

func (c *Console) localSelectAll(_ []command.Token) localStatus {
	n := c.set.SelectAll()
	c.printf("Selected %d endpoints (%d total).\n", n, c.set.Len())
	return localSuccess
}

func (c *Console) localHelp(params []command.Token) localStatus {
	if len(params) == 1 {
		name := params[0].Str
		usage, description := "", ""
		if l, ok := c.findLocal(name); ok {
			usage, description = l.usage, l.description
		} else if d, ok := c.reg.Lookup(name); ok {
			usage, description = d.Usage, d.Description
			if d.Usage == "" {
				usage = d.Name
			}
		} else {
			c.printf("Command '%s' doesn't exist.\n", name)
			return localParamError
		}
		if strings.ContainsAny(usage, "{[") {
			c.printf("{ param } = optional parameter\n[ param ] = required parameter\n")
		}
		c.printf("Usage: %s\n\nDescription: %s\n", usage, description)
		return localSuccess
	}

	width := 0
	for _, n := range c.reg.Names() {
		width = max(width, len(n))
	}
	for _, l := range c.locals {
		width = max(width, len(l.name))
	}
	c.printf("---------- Double commands (executed on endpoint) ----------\n")
	for _, d := range c.reg.All() {
		c.printf("%-*s %s\n", width+1, d.Name+":", d.Description)
	}
	c.printf("\n---------- Local commands (controller only) ----------\n")
	locals := append([]localCommand(nil), c.locals...)
	sort.Slice(locals, func(i, j int) bool { return locals[i].name < locals[j].name })
	for _, l := range locals {
		c.printf("%-*s %s\n", width+1, l.name+":", l.description)
	}
	return localSuccess
}

func (c *Console) localClear(_ []command.Token) localStatus {
	c.printf("\033[H\033[2J")
	return localSuccess
}

func validityMessage(v command.Validity, minArgs, maxArgs int) string {
	switch v {
	case command.NoTokens, command.CantParse:
		return "Could not parse command."
	case command.InvalidType:
		return "Invalid argument type supplied."
	case command.TooFewArgs:
		return fmt.Sprintf("Not enough arguments supplied, use %d argument(s) at least.", minArgs)
	case command.TooManyArgs:
		return fmt.Sprintf("Too many arguments supplied, use %d argument(s) at most.", maxArgs)
	default:
		return ""
	}
}
