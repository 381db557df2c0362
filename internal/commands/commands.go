// Package commands parses and routes the runtime's slash commands, most
// importantly the approval surface consumed by channel adapters.
package commands

import (
	"context"
	"regexp"
	"strings"

	"github.com/zeroclaw-labs/zeroclaw/internal/autonomy"
)

// Command is one registered slash command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handler     Handler
}

// Handler executes a command invocation and returns the reply text.
type Handler func(ctx context.Context, inv *Invocation) (string, error)

// Invocation is a parsed command plus the scope it arrived from.
type Invocation struct {
	Name  string
	Args  string
	Scope autonomy.Scope
}

// ParsedCommand is the raw parse result before registry lookup.
type ParsedCommand struct {
	Name string
	Args string
}

var controlRe = regexp.MustCompile(`^/([a-zA-Z][a-zA-Z0-9_-]*)(?:\s+(.*))?$`)

// Parse detects a control command at the start of a message.
func Parse(text string) (*ParsedCommand, bool) {
	text = strings.TrimSpace(text)
	match := controlRe.FindStringSubmatch(text)
	if match == nil {
		return nil, false
	}
	return &ParsedCommand{
		Name: strings.ToLower(match[1]),
		Args: strings.TrimSpace(match[2]),
	}, true
}

// Registry holds the registered commands, keyed by name and alias.
type Registry struct {
	commands map[string]*Command
	names    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command and its aliases.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	r.names = append(r.names, cmd.Name)
	for _, alias := range cmd.Aliases {
		r.commands[alias] = cmd
	}
}

// Get looks up a command by name or alias.
func (r *Registry) Get(name string) (*Command, bool) {
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// Names returns the primary command names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Dispatch parses text and runs the matching command. The boolean reports
// whether the message was a registered command at all; unhandled text
// flows on to the agent.
func (r *Registry) Dispatch(ctx context.Context, text string, scope autonomy.Scope) (string, bool, error) {
	parsed, ok := Parse(text)
	if !ok {
		return "", false, nil
	}
	cmd, ok := r.Get(parsed.Name)
	if !ok {
		return "", false, nil
	}
	reply, err := cmd.Handler(ctx, &Invocation{Name: parsed.Name, Args: parsed.Args, Scope: scope})
	return reply, true, err
}
