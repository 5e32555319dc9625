package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/findexd/findex/internal/engine"
	"github.com/findexd/findex/internal/ui"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent index jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *engine.Service, r *ui.Renderer) error {
			jobs, err := svc.ListJobs(ctx, 20)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no jobs")
				return nil
			}
			for _, j := range jobs {
				fmt.Printf("%4d  %-10s %-8s %4d/%-4d errors=%d  %s\n",
					j.ID, j.Status, j.JobType, j.ProcessedFiles, j.TotalFiles, j.ErrorCount, j.FolderPath)
			}
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [job-id]",
	Short: "Stop a running index job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad job id %q", args[0])
		}
		return withService(func(ctx context.Context, svc *engine.Service, r *ui.Renderer) error {
			return svc.StopJob(ctx, jobID)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *engine.Service, r *ui.Renderer) error {
			st, err := svc.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("files:     %d (%d indexed, %d failed)\n", st.Files.FileCount, st.Files.IndexedCount, st.Files.FailedCount)
			fmt.Printf("chunks:    %d\n", st.Files.ChunkCount)
			fmt.Printf("vectors:   %d (dim %d)\n", st.VectorCount, st.VectorDim)
			fmt.Printf("ft docs:   %d\n", st.FulltextDocs)
			fmt.Printf("embedder:  %s\n", st.EmbedderModel)
			for typ, n := range st.Files.FilesByType {
				fmt.Printf("  %-9s %d\n", typ, n)
			}

			if flagCheck {
				report, err := svc.CheckConsistency(ctx)
				if err != nil {
					return err
				}
				if report.Consistent() {
					fmt.Println("consistency: ok")
				} else {
					fmt.Printf("consistency: %d chunks missing vectors, %d orphan vectors, %d/%d fulltext docs\n",
						len(report.MissingVectors), len(report.OrphanVectors), report.FulltextDocs, report.StoreChunks)
				}
			}
			return nil
		})
	},
}

var flagCheck bool

func init() {
	jobsCmd.AddCommand(stopCmd)
	statsCmd.Flags().BoolVar(&flagCheck, "check", false, "cross-check store and index consistency")
}
