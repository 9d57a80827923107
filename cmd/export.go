package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/places-cli/internal/app"
	"github.com/sells-group/places-cli/internal/catalog"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored places to the user's spreadsheet",
	Long:  "Writes companies matching the filters to the user's spreadsheet. Rows are appended below existing content unless --overwrite is set; changed cells are highlighted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.App.Export(ctx, exportRequestFromFlags(cmd))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func exportRequestFromFlags(cmd *cobra.Command) app.ExportRequest {
	f := cmd.Flags()
	user, _ := f.GetString("user")
	keyword, _ := f.GetString("keyword")
	state, _ := f.GetString("state")
	tier, _ := f.GetString("tier")
	city, _ := f.GetString("city")
	overwrite, _ := f.GetBool("overwrite")

	return app.ExportRequest{
		UserID:    user,
		Keyword:   keyword,
		State:     state,
		Tier:      catalog.Tier(tier),
		City:      city,
		Overwrite: overwrite,
	}
}

func init() {
	addFilterFlags(exportCmd)
	rootCmd.AddCommand(exportCmd)
}
