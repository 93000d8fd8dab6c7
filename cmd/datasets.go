package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/dealbook/pkg/ingest"
	"github.com/otherjamesbrown/dealbook/pkg/tabular"
)

type fieldView struct {
	Field   string   `json:"field" yaml:"field"`
	Aliases []string `json:"aliases" yaml:"aliases"`
	Legacy  string   `json:"legacy_column,omitempty" yaml:"legacy_column,omitempty"`
	Default string   `json:"default,omitempty" yaml:"default,omitempty"`
}

type datasetView struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description" yaml:"description"`
	Target      string      `json:"target" yaml:"target"`
	Signatures  []string    `json:"signatures" yaml:"signatures"`
	Sections    []string    `json:"sections,omitempty" yaml:"sections,omitempty"`
	Fields      []fieldView `json:"fields" yaml:"fields"`
}

func newDatasetView(d ingest.Dataset) datasetView {
	v := datasetView{
		Name:        d.Name,
		Description: d.Description,
		Target:      d.Table,
		Sections:    d.Sections,
	}
	if d.IsEntity() {
		v.Target = string(d.Entity)
	}
	for _, s := range d.Signatures {
		if s.Column == tabular.AnyColumn {
			v.Signatures = append(v.Signatures, fmt.Sprintf("%q anywhere", s.Contains))
		} else {
			v.Signatures = append(v.Signatures, fmt.Sprintf("%q in column %c", s.Contains, 'A'+rune(s.Column)))
		}
	}
	for _, f := range d.Fields {
		key := f.Column
		if f.Of != "" {
			key = f.Of + "." + f.Column
		}
		v.Fields = append(v.Fields, fieldView{Field: key, Aliases: f.Aliases, Legacy: f.Legacy, Default: f.Default})
	}
	return v
}

// NewDatasetsCommand creates the datasets command.
func NewDatasetsCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	return &cobra.Command{
		Use:   "datasets [name]",
		Short: "List import datasets and their header aliases",
		Long: `List the datasets 'dealbook import' accepts.

Each dataset names the table it writes, the text that identifies its header
row, and for every field the header texts it accepts. Aliases added under
column_aliases in the config file are included and listed first.`,
		Example: `  dealbook datasets
  dealbook datasets participations
  dealbook datasets --output yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			registry, err := ingest.DefaultRegistry(cfg.ColumnAliases)
			if err != nil {
				return err
			}

			var datasets []ingest.Dataset
			if len(args) == 1 {
				d, err := registry.Lookup(args[0])
				if err != nil {
					return err
				}
				datasets = []ingest.Dataset{d}
			} else {
				datasets = registry.All()
			}

			views := make([]datasetView, len(datasets))
			for i, d := range datasets {
				views[i] = newDatasetView(d)
			}
			return render(cmd.OutOrStdout(), cfg.OutputFormat, views, func(w io.Writer) error {
				if len(args) == 0 {
					return printDatasetList(w, views)
				}
				return printDatasetFields(w, views[0])
			})
		},
	}
}

func printDatasetList(w io.Writer, views []datasetView) error {
	t := newTable(w, "")
	t.AppendHeader([]any{"Dataset", "Target", "Header signature", "Description"})
	for _, v := range views {
		t.AppendRow([]any{v.Name, v.Target, strings.Join(v.Signatures, " or "), v.Description})
	}
	t.Render()
	return nil
}

func printDatasetFields(w io.Writer, v datasetView) error {
	fmt.Fprintf(w, "%s -> %s\n%s\n", v.Name, v.Target, v.Description)
	fmt.Fprintf(w, "Header: %s\n", strings.Join(v.Signatures, " or "))
	if len(v.Sections) > 0 {
		fmt.Fprintf(w, "Sections: %s\n", strings.Join(v.Sections, ", "))
	}
	t := newTable(w, "")
	t.AppendHeader([]any{"Field", "Header aliases", "Legacy", "Default"})
	for _, f := range v.Fields {
		t.AppendRow([]any{f.Field, strings.Join(f.Aliases, " | "), f.Legacy, f.Default})
	}
	t.Render()
	return nil
}
