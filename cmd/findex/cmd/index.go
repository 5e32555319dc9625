package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/findexd/findex/internal/engine"
	findexerr "github.com/findexd/findex/internal/errors"
	"github.com/findexd/findex/internal/ui"
)

var flagFileTypes []string

var indexCmd = &cobra.Command{
	Use:   "index [paths...]",
	Short: "Build a full index over the given directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *engine.Service, r *ui.Renderer) error {
			return runJob(ctx, svc, r, args, func() (int64, error) {
				return svc.BuildFullIndex(ctx, args, flagFileTypes)
			})
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [paths...]",
	Short: "Apply incremental changes since the last index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *engine.Service, r *ui.Renderer) error {
			return runJob(ctx, svc, r, args, func() (int64, error) {
				return svc.BuildIncrementalIndex(ctx, args, flagFileTypes)
			})
		})
	},
}

func init() {
	indexCmd.Flags().StringSliceVar(&flagFileTypes, "types", nil, "restrict to these extensions (e.g. .pdf,.md)")
	updateCmd.Flags().StringSliceVar(&flagFileTypes, "types", nil, "restrict to these extensions (e.g. .pdf,.md)")
}

// runJob starts a job and streams progress until it terminates.
func runJob(ctx context.Context, svc *engine.Service, r *ui.Renderer, roots []string, start func() (int64, error)) error {
	jobID, err := start()
	if err != nil {
		if findexerr.IsConflict(err) {
			fmt.Printf("job %d is already running for these paths\n", jobID)
			return nil
		}
		return err
	}

	snapshots, cancel, err := svc.SubscribeJob(ctx, jobID)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			// Ctrl+C stops the job cleanly; the runner records "stopped".
			return svc.StopJob(context.Background(), jobID)
		case snap, ok := <-snapshots:
			if !ok {
				job, err := svc.GetJob(context.Background(), jobID)
				if err != nil {
					return err
				}
				fmt.Printf("job %d finished: %s (%d files, %d errors)\n",
					jobID, job.Status, job.ProcessedFiles, job.ErrorCount)
				return nil
			}
			r.Progress(snap)
		}
	}
}
