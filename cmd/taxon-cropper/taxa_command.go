package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/menta2k/taxon-cropper/pkg/observations"
)

func newTaxaCommand(ctx *commandContext) *cobra.Command {
	var showLabels bool

	cmd := &cobra.Command{
		Use:   "taxa",
		Short: "Show the distinct taxa per level of the loaded observations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := ctx.ensurePipeline(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			levels, err := pipeline.Taxa()
			if err != nil {
				return err
			}
			printLevels(cmd.OutOrStdout(), levels, showLabels)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showLabels, "labels", "l", false, "List every label per level")
	return cmd
}

var levelNames = map[string]string{
	observations.ColumnFamily:     "family",
	observations.ColumnGenus:      "genus",
	observations.ColumnSpecies:    "species",
	observations.ColumnSubSpecies: "sub-species",
}

func printLevels(w io.Writer, levels []observations.Level, showLabels bool) {
	title := cases.Title(language.English)

	headers := []string{"Level", "Count"}
	if showLabels {
		headers = append(headers, "Labels")
	}

	rows := make([][]string, 0, len(levels))
	for _, level := range levels {
		name, ok := levelNames[level.Column]
		if !ok {
			name = level.Column
		}
		row := []string{title.String(name), strconv.Itoa(len(level.Labels))}
		if showLabels {
			row = append(row, strings.Join(level.Labels, "\n"))
		}
		rows = append(rows, row)
	}
	fmt.Fprintln(w, renderTable(headers, rows, 1))
}
