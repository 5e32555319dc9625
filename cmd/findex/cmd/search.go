package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/findexd/findex/internal/engine"
	"github.com/findexd/findex/internal/search"
	"github.com/findexd/findex/internal/ui"
)

var (
	flagSearchType string
	flagLimit      int
	flagOffset     int
	flagThreshold  float64
	flagTypeFilter []string
	flagVoiceFile  string
	flagImageFile  string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the index (semantic, fulltext, or hybrid)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(ctx context.Context, svc *engine.Service, r *ui.Renderer) error {
			opts := search.Options{
				Limit:     flagLimit,
				Offset:    flagOffset,
				Threshold: flagThreshold,
				FileTypes: flagTypeFilter,
			}

			var resp *search.Response
			var err error
			switch {
			case flagVoiceFile != "":
				payload, readErr := os.ReadFile(flagVoiceFile)
				if readErr != nil {
					return readErr
				}
				resp, err = svc.MultimodalSearch(ctx, "voice", payload, flagSearchType, opts)
			case flagImageFile != "":
				payload, readErr := os.ReadFile(flagImageFile)
				if readErr != nil {
					return readErr
				}
				resp, err = svc.MultimodalSearch(ctx, "image", payload, flagSearchType, opts)
			default:
				resp, err = svc.Search(ctx, strings.Join(args, " "), flagSearchType, opts)
			}
			if err != nil {
				return err
			}
			r.Results(resp)
			return nil
		})
	},
}

func init() {
	searchCmd.Flags().StringVarP(&flagSearchType, "type", "t", "hybrid", "search type: semantic|fulltext|hybrid")
	searchCmd.Flags().IntVarP(&flagLimit, "limit", "n", 10, "maximum results")
	searchCmd.Flags().IntVar(&flagOffset, "offset", 0, "result offset")
	searchCmd.Flags().Float64Var(&flagThreshold, "threshold", 0, "minimum semantic similarity")
	searchCmd.Flags().StringSliceVar(&flagTypeFilter, "file-types", nil, "restrict to file types or extensions")
	searchCmd.Flags().StringVar(&flagVoiceFile, "voice", "", "audio file to transcribe as the query")
	searchCmd.Flags().StringVar(&flagImageFile, "image", "", "image file to recognize as the query")
}
