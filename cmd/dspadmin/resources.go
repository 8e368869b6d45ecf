package main

import (
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"dsp/store"
)

func newResourcesCommand(e *env) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List the resources served under /rest/system",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			registry, err := e.registry()
			if err != nil {
				return err
			}
			return pterm.DefaultTable.WithHasHeader().WithData(resourceTable(registry, all)).Render()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include internal join resources")
	return cmd
}

// resourceTable lays out one row per resource, header first.
func resourceTable(registry *store.Registry, all bool) pterm.TableData {
	data := pterm.TableData{{"Resource", "Table", "Key", "Columns", "Relations"}}
	for _, res := range registry.Resources() {
		if res.Internal && !all {
			continue
		}
		relations := make([]string, 0, len(res.Relations))
		for _, rel := range res.Relations {
			relations = append(relations, rel.Name+" ("+string(rel.Kind)+")")
		}
		name := res.Name
		if res.Internal {
			name += " *"
		}
		data = append(data, []string{
			name,
			res.Table,
			res.PrimaryKey,
			strconv.Itoa(len(res.Columns)),
			strings.Join(relations, ", "),
		})
	}
	return data
}
