package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/places-cli/internal/catalog"
)

var statesCmd = &cobra.Command{
	Use:   "states [STATE]",
	Short: "List catalog states and city counts per tier",
	Long:  "Without arguments, prints every state with its large/medium/small city counts. With a state code, lists that state's cities by tier.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		if len(args) == 0 {
			formatStates(os.Stdout, cat)
			return nil
		}
		return formatStateCities(os.Stdout, cat, args[0])
	},
}

// formatStates writes one row per state with city counts per tier.
func formatStates(out io.Writer, cat *catalog.Catalog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATE\tLARGE\tMEDIUM\tSMALL")
	for _, code := range cat.States() {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", code,
			len(cat.Cities(code, catalog.TierLarge)),
			len(cat.Cities(code, catalog.TierMedium)),
			len(cat.Cities(code, catalog.TierSmall)),
		)
	}
	_ = w.Flush()
}

// formatStateCities lists the cities of one state grouped by tier.
func formatStateCities(out io.Writer, cat *catalog.Catalog, state string) error {
	state = strings.ToUpper(strings.TrimSpace(state))
	if !cat.HasState(state) {
		return fmt.Errorf("state '%s' not found in catalog", state)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIER\tCITY\tLAT\tLNG")
	for _, tier := range catalog.Tiers {
		for _, c := range cat.Cities(state, tier) {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\n", tier, c.Name, c.Lat, c.Lng)
		}
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(statesCmd)
}
