package cmd

import (
	"fmt"
	"maps"
	"slices"

	"github.com/agentic-research/lcimorph/internal/pipeline"
	"github.com/spf13/cobra"
)

func init() {
	transformCmd.Flags().String("graph", "", "Input inventory (.db, .sqlite, .json or a directory)")
	transformCmd.Flags().String("output", "", "Output inventory (.db, .sqlite or .json)")
	rootCmd.AddCommand(transformCmd)
}

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Replicate template datasets per region and relink the inventory",
	Long: `transform derives the scenario cubes, replaces every configured template
dataset with one proxy per scenario region, relinks consumers whose
suppliers were removed and writes the resulting inventory.

Templates, relink excludes and alternative names come from the --config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := pipeline.Transform(cmd.Context(), runCfg, pipeline.OSEnv(runCfg, metrics, logger))
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, name := range slices.Sorted(maps.Keys(r.Proxies)) {
			fmt.Fprintf(w, "%-40s %d proxies\n", name, r.Proxies[name])
		}
		fmt.Fprintf(w, "relinked %d exchange groups (%d from cache), %d left dangling\n",
			r.Relink.Resolved, r.Relink.CacheHits, r.Relink.Unresolved)
		fmt.Fprintf(w, "wrote %d activities to %s\n", r.Activities, runCfg.OutputPath)
		return nil
	},
}
