// Package cli implements subcommand routing for the secondopinion binary.
package cli

import (
	"fmt"
	"strings"
)

// Command represents a CLI subcommand. Run receives the arguments after the
// command name and parses its own flags.
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
}

// Router dispatches subcommands. Help output lists commands in registration
// order.
type Router struct {
	commands map[string]*Command
	order    []string
}

// NewRouter creates a new CLI router.
func NewRouter() *Router {
	return &Router{
		commands: make(map[string]*Command),
	}
}

// Register adds a command to the router. Re-registering a name replaces the
// command but keeps its position.
func (r *Router) Register(cmd *Command) {
	if _, ok := r.commands[cmd.Name]; !ok {
		r.order = append(r.order, cmd.Name)
	}
	r.commands[cmd.Name] = cmd
}

// Dispatch routes to the correct command or returns an error.
func (r *Router) Dispatch(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command specified")
	}

	name := args[0]
	cmd, ok := r.commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}

	return cmd.Run(args[1:])
}

// HasCommand checks if a command is registered.
func (r *Router) HasCommand(name string) bool {
	_, ok := r.commands[name]
	return ok
}

// ListCommands returns registered commands in registration order.
func (r *Router) ListCommands() []Command {
	cmds := make([]Command, 0, len(r.order))
	for _, name := range r.order {
		cmds = append(cmds, *r.commands[name])
	}
	return cmds
}

// Usage returns usage text for all commands.
func (r *Router) Usage() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range r.order {
		fmt.Fprintf(&b, "  %-12s %s\n", name, r.commands[name].Description)
	}
	return b.String()
}
