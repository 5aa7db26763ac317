package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() RunConfig {
	return RunConfig{
		Model:       "remind",
		Pathway:     "SSP2-Base",
		Year:        2035,
		DataDir:     "data",
		ScenarioDir: "scenarios",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *RunConfig)
		wantErr string
	}{
		{"valid", func(c *RunConfig) {}, ""},
		{"upper case model", func(c *RunConfig) { c.Model = "IMAGE" }, ""},
		{"consequential", func(c *RunConfig) { c.SystemModel = "Consequential" }, ""},
		{"missing model", func(c *RunConfig) { c.Model = "" }, "model is required"},
		{"unknown model", func(c *RunConfig) { c.Model = "message" }, `unknown model "message"`},
		{"missing pathway", func(c *RunConfig) { c.Pathway = "" }, "pathway is required"},
		{"year too early", func(c *RunConfig) { c.Year = 1990 }, "year must be between"},
		{"year too late", func(c *RunConfig) { c.Year = 2150 }, "year must be between"},
		{"unknown system model", func(c *RunConfig) { c.SystemModel = "hybrid" }, "unknown system model"},
		{"negative horizon", func(c *RunConfig) { c.TimeHorizon = -1 }, "time_horizon"},
		{"missing data dir", func(c *RunConfig) { c.DataDir = "" }, "data_dir is required"},
		{"custom scenario without config", func(c *RunConfig) {
			c.CustomScenarios = []CustomScenario{{Workbook: "hydrogen.xlsx"}}
		}, "custom_scenarios[0]"},
		{"sample ratio", func(c *RunConfig) { c.Tracing.SampleRatio = 2 }, "sample_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	var c RunConfig
	err := c.Validate()
	require.Error(t, err)
	for _, want := range []string{"model", "pathway", "year", "data_dir", "scenario_dir"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateTransform(t *testing.T) {
	c := validConfig()
	err := c.ValidateTransform()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "graph is required")
	assert.Contains(t, err.Error(), "output is required")

	c.GraphPath, c.OutputPath = "in.db", "out.db"
	c.Templates = []Template{{Name: "market for cement", Product: "cement"}}
	assert.NoError(t, c.ValidateTransform())

	c.Templates = append(c.Templates, Template{Name: "market for clinker"})
	err = c.ValidateTransform()
	assert.ErrorContains(t, err, "templates[1]")

	c.Year = 0
	assert.ErrorContains(t, c.ValidateTransform(), "year", "base checks run first")
}
