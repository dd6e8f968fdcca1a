// Package schema describes the command tree as JSON so agents can discover
// commands and flags without scraping help text.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type Command struct {
	Path        string    `json:"path"`
	Use         string    `json:"use"`
	Short       string    `json:"short"`
	Runnable    bool      `json:"runnable"`
	Flags       []Flag    `json:"flags,omitempty"`
	Inherited   []Flag    `json:"inherited_flags,omitempty"`
	Subcommands []Command `json:"subcommands,omitempty"`
}

type Flag struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required,omitempty"`
}

// Build resolves commandPath (relative to root, space separated) and describes
// that command and everything below it. Inherited flags are listed only on the
// resolved command.
func Build(root *cobra.Command, commandPath string) (Command, error) {
	cmd := root
	for _, part := range strings.Fields(commandPath) {
		next := findChild(cmd, part)
		if next == nil {
			return Command{}, fmt.Errorf("command not found: %s", strings.TrimSpace(commandPath))
		}
		cmd = next
	}
	out := describe(cmd)
	out.Inherited = flags(cmd.InheritedFlags())
	return out, nil
}

func findChild(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name || c.HasAlias(name) {
			return c
		}
	}
	return nil
}

func describe(cmd *cobra.Command) Command {
	out := Command{
		Path:     cmd.CommandPath(),
		Use:      cmd.Use,
		Short:    cmd.Short,
		Runnable: cmd.Runnable(),
		Flags:    flags(cmd.NonInheritedFlags()),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || !sub.IsAvailableCommand() {
			continue
		}
		out.Subcommands = append(out.Subcommands, describe(sub))
	}
	return out
}

func flags(set *pflag.FlagSet) []Flag {
	var items []Flag
	set.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
		items = append(items, Flag{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Usage:     f.Usage,
			Default:   f.DefValue,
			Required:  required,
		})
	})
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}
