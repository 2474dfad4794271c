package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	taxoncropper "github.com/menta2k/taxon-cropper"
	"github.com/menta2k/taxon-cropper/pkg/types"
)

type stageFunc func(*taxoncropper.Pipeline, context.Context) ([]types.StageResult, error)

func single(fn func(*taxoncropper.Pipeline, context.Context) (types.StageResult, error)) stageFunc {
	return func(p *taxoncropper.Pipeline, ctx context.Context) ([]types.StageResult, error) {
		result, err := fn(p, ctx)
		return []types.StageResult{result}, err
	}
}

func newStageCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newStageCommand(ctx, "fetch", "Download observation photos that are not stored yet",
			single((*taxoncropper.Pipeline).Fetch)),
		newStageCommand(ctx, "crop", "Cut animal detections into fixed-size crops",
			single((*taxoncropper.Pipeline).Crop)),
		newStageCommand(ctx, "sort", "Copy crops into the train/validate taxonomy trees",
			single((*taxoncropper.Pipeline).Sort)),
		newStageCommand(ctx, "run", "Fetch, crop and sort in one locked pass",
			(*taxoncropper.Pipeline).Run),
	}
}

func newStageCommand(ctx *commandContext, use, short string, run stageFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := ctx.ensurePipeline(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			results, err := run(pipeline, cmd.Context())
			if len(results) > 0 {
				printResults(cmd.OutOrStdout(), results)
			}
			return err
		},
	}
}

// printResults writes one summary row per stage. Recoverable failures are
// reported here and in the log, never through the exit status.
func printResults(w io.Writer, results []types.StageResult) {
	headers := []string{"Stage", "Total", "Processed", "Succeeded", "Skipped", "Errors", "Files"}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Stage,
			strconv.Itoa(r.Total),
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Succeeded),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Artifacts),
		})
	}
	fmt.Fprintln(w, renderTable(headers, rows, 1, 2, 3, 4, 5, 6))
}
