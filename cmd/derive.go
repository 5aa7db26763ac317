package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/agentic-research/lcimorph/internal/cube"
	"github.com/agentic-research/lcimorph/internal/pipeline"
	"github.com/spf13/cobra"
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive the scenario cubes of one year and print a summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := pipeline.Derive(cmd.Context(), runCfg, pipeline.OSEnv(runCfg, metrics, logger))
		if err != nil {
			return err
		}
		return printDerivation(cmd.OutOrStdout(), d)
	},
}

func init() {
	rootCmd.AddCommand(deriveCmd)
}

func printDerivation(w io.Writer, d *pipeline.Derivation) error {
	col := d.Collection
	fmt.Fprintf(w, "%s / %s / %d (%s), regions: %s\n",
		col.Model, col.Pathway, col.Year, col.SystemModel, strings.Join(col.Regions, ", "))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CUBE\tSHAPE\tVARIABLES")
	for _, c := range []struct {
		name string
		cube *cube.Cube
	}{
		{"electricity markets", col.ElectricityMarkets},
		{"fuel markets", col.FuelMarkets},
		{"efficiency", col.Efficiency},
		{"emissions", col.Emissions},
		{"carbon capture rate", col.CarbonCaptureRate},
		{"production volumes", col.ProductionVolumes},
		{"cement properties", col.CementProperties},
		{"land use", col.LandUse},
		{"land use change", col.LandUseChange},
	} {
		if c.cube == nil {
			fmt.Fprintf(tw, "%s\t-\t-\n", c.name)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", c.name, shape(c.cube), len(variables(c.cube)))
	}
	for i, cs := range d.Custom {
		fmt.Fprintf(tw, "custom #%d production\t%s\t%d\n", i+1, shape(cs.ProductionVolume), len(variables(cs.ProductionVolume)))
	}
	return tw.Flush()
}

func shape(c *cube.Cube) string {
	parts := make([]string, 0, len(c.Dims()))
	for _, a := range c.Axes() {
		parts = append(parts, fmt.Sprintf("%s=%d", a.Name, a.Len()))
	}
	return strings.Join(parts, " x ")
}

// variables returns the labels of the variable-like axis of c.
func variables(c *cube.Cube) []string {
	for _, name := range []string{cube.VariableAxis, cube.PollutantAxis} {
		if _, ok := c.Axis(name); ok {
			return c.Labels(name)
		}
	}
	return nil
}
