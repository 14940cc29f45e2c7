// Package schema describes the command tree for machine callers.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/policy"
)

// CommandSchema is one node of the command tree. Submits marks commands
// that arm a countdown or send transactions.
type CommandSchema struct {
	Path        string          `json:"path"`
	Use         string          `json:"use"`
	Short       string          `json:"short"`
	Long        string          `json:"long,omitempty"`
	Aliases     []string        `json:"aliases,omitempty"`
	Submits     bool            `json:"submits_transactions,omitempty"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

type FlagSchema struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required,omitempty"`
}

// Build resolves commandPath (space separated, aliases allowed) below root
// and describes that subtree. An empty path describes the whole tree.
func Build(root *cobra.Command, commandPath string) (CommandSchema, error) {
	cmd, err := find(root, commandPath)
	if err != nil {
		return CommandSchema{}, err
	}
	return describe(cmd), nil
}

// SubmittingPaths lists every visible command below root that can send
// transactions, sorted. Agents use it to decide which calls need review.
func SubmittingPaths(root *cobra.Command) []string {
	var paths []string
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		if policy.Submits(c) {
			paths = append(paths, strings.TrimSpace(c.CommandPath()))
		}
		for _, sub := range c.Commands() {
			if !sub.Hidden {
				walk(sub)
			}
		}
	}
	walk(root)
	sort.Strings(paths)
	return paths
}

func find(root *cobra.Command, commandPath string) (*cobra.Command, error) {
	cmd := root
	for _, name := range strings.Fields(commandPath) {
		next := child(cmd, name)
		if next == nil {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("command not found: %s", strings.TrimSpace(commandPath)))
		}
		cmd = next
	}
	return cmd, nil
}

func child(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name {
			return c
		}
		for _, alias := range c.Aliases {
			if alias == name {
				return c
			}
		}
	}
	return nil
}

func describe(cmd *cobra.Command) CommandSchema {
	s := CommandSchema{
		Path:    strings.TrimSpace(cmd.CommandPath()),
		Use:     cmd.Use,
		Short:   cmd.Short,
		Long:    cmd.Long,
		Aliases: cmd.Aliases,
		Submits: policy.Submits(cmd),
		Flags:   localFlags(cmd),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden {
			continue
		}
		s.Subcommands = append(s.Subcommands, describe(sub))
	}
	return s
}

func localFlags(cmd *cobra.Command) []FlagSchema {
	var flags []FlagSchema
	cmd.NonInheritedFlags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
		flags = append(flags, FlagSchema{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Usage:     f.Usage,
			Default:   f.DefValue,
			Required:  required,
		})
	})
	return flags
}
