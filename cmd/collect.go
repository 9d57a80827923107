package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/places-cli/internal/app"
	"github.com/sells-group/places-cli/internal/catalog"
	"github.com/sells-group/places-cli/internal/collector"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect places for a keyword across the catalog",
	Long:  "Runs one collection task for a user: every city in the chosen state and tier is searched for the keyword, results are upserted and linked to a new job run. With --export the user's spreadsheet is updated afterwards.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req := collectRequestFromFlags(cmd)
		if _, err := req.Request.Normalize(); err != nil {
			return err
		}

		env, err := initApp(ctx, "collect")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.App.Collect(ctx, req)
		printCollectResult(os.Stdout, res)
		if err != nil {
			return err
		}
		if !res.OK() {
			return fmt.Errorf("task %s %s", res.TaskID, res.Status)
		}
		return nil
	},
}

func collectRequestFromFlags(cmd *cobra.Command) app.CollectRequest {
	f := cmd.Flags()
	user, _ := f.GetString("user")
	keyword, _ := f.GetString("keyword")
	state, _ := f.GetString("state")
	tier, _ := f.GetString("tier")
	city, _ := f.GetString("city")
	export, _ := f.GetBool("export")
	overwrite, _ := f.GetBool("overwrite")

	return app.CollectRequest{
		Request: collector.Request{
			UserID:  user,
			Keyword: keyword,
			State:   state,
			Tier:    catalog.Tier(tier),
			City:    city,
		},
		Export:    export,
		Overwrite: overwrite,
	}
}

// printCollectResult writes the task outcome in a human-readable form.
func printCollectResult(w io.Writer, res app.CollectResult) {
	_, _ = fmt.Fprintf(w, "Task %s: %s (%.2fs)\n", res.TaskID, res.Status, res.Elapsed)
	if res.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:  %s\n", res.RunID)
	}
	if res.LogPath != "" {
		_, _ = fmt.Fprintf(w, "Log:  %s\n", res.LogPath)
	}
	if s := res.Summary; s != nil {
		_, _ = fmt.Fprintf(w, "Locations: %d  new: %d  updated: %d  unchanged: %d  failed: %d\n",
			s.Locations, s.Inserted, s.Updated, s.Unchanged, s.Failed)
	}
	if e := res.Export; e != nil {
		_, _ = fmt.Fprintf(w, "Exported %d rows from row %d (%d highlighted): %s\n", e.Rows, e.StartRow, e.Highlighted, e.URL)
	}
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", "", "user id (required)")
	cmd.Flags().String("keyword", "", "search keyword")
	cmd.Flags().String("state", catalog.AllState, "state code or ALL")
	cmd.Flags().String("tier", string(catalog.TierAll), "city tier: large, medium, small, all or manual")
	cmd.Flags().String("city", "", "city name (required with --tier manual)")
	cmd.Flags().Bool("overwrite", false, "clear the spreadsheet before writing instead of appending")
	_ = cmd.MarkFlagRequired("user")
}

func init() {
	addFilterFlags(collectCmd)
	collectCmd.Flags().Bool("export", false, "export to the user's spreadsheet when the task succeeds")
	_ = collectCmd.MarkFlagRequired("keyword")
	rootCmd.AddCommand(collectCmd)
}
