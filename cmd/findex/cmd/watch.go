package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/findexd/findex/internal/engine"
	"github.com/findexd/findex/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch [paths...]",
	Short: "Watch directories and index changes automatically",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *engine.Service, r *ui.Renderer) error {
			fmt.Printf("watching %v (Ctrl+C to stop)\n", args)
			return svc.Watch(ctx, args)
		})
	},
}
