// Package api holds the run configuration shared by the CLI and the config
// loader.
package api

import (
	"errors"
	"fmt"
	"strings"
)

// Year bounds accepted by Validate. Scenario files rarely tabulate outside
// this range.
const (
	MinYear = 2005
	MaxYear = 2100
)

// RunConfig describes one (model, pathway, year) run.
type RunConfig struct {
	// Model is the IAM name, remind or image.
	Model string `mapstructure:"model" yaml:"model"`
	// Pathway is the scenario name, e.g. SSP2-Base.
	Pathway string `mapstructure:"pathway" yaml:"pathway"`
	Year    int    `mapstructure:"year" yaml:"year"`
	// SystemModel is attributional or consequential.
	SystemModel string `mapstructure:"system_model" yaml:"system_model"`
	// TimeHorizon is the consequential market horizon in years.
	TimeHorizon int `mapstructure:"time_horizon" yaml:"time_horizon"`

	// DataDir holds the alias catalogs and auxiliary tables.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// ScenarioDir holds the scenario result files.
	ScenarioDir string `mapstructure:"scenario_dir" yaml:"scenario_dir"`
	// Key is the Fernet key of encrypted scenario files. Empty for plaintext.
	Key string `mapstructure:"key" yaml:"key"`

	GraphPath  string `mapstructure:"graph" yaml:"graph"`
	OutputPath string `mapstructure:"output" yaml:"output"`
	LogDir     string `mapstructure:"log_dir" yaml:"log_dir"`

	Templates      []Template `mapstructure:"templates" yaml:"templates"`
	RelinkExcludes []string   `mapstructure:"relink_excludes" yaml:"relink_excludes"`
	// AlternativeNames are tried, in order, when a dangling exchange has no
	// supplier under its own name.
	AlternativeNames []string `mapstructure:"alternative_names" yaml:"alternative_names"`

	// CustomScenarios are user workbooks loaded next to the IAM scenario.
	CustomScenarios []CustomScenario `mapstructure:"custom_scenarios" yaml:"custom_scenarios"`

	MetricsFile string  `mapstructure:"metrics_file" yaml:"metrics_file"`
	Tracing     Tracing `mapstructure:"tracing" yaml:"tracing"`
}

// Template names a dataset to replicate per region.
type Template struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Product string `mapstructure:"product" yaml:"product"`
	// ProductionVariables are summed into each proxy's production volume.
	ProductionVariables []string `mapstructure:"production_variables" yaml:"production_variables"`
	// Relink points the proxies' inputs at suppliers of their region.
	Relink bool `mapstructure:"relink" yaml:"relink"`
}

// CustomScenario points at an .xlsx workbook and its YAML config.
type CustomScenario struct {
	Workbook string `mapstructure:"scenario_data" yaml:"scenario_data"`
	Config   string `mapstructure:"config" yaml:"config"`
}

type Tracing struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

var ErrInvalidConfig = errors.New("invalid run configuration")

// Validate checks what a derivation needs. Transform-only fields are checked
// by ValidateTransform.
func (c *RunConfig) Validate() error {
	var errs []error
	switch strings.ToLower(c.Model) {
	case "remind", "image":
	case "":
		errs = append(errs, errors.New("model is required"))
	default:
		errs = append(errs, fmt.Errorf("unknown model %q", c.Model))
	}
	if c.Pathway == "" {
		errs = append(errs, errors.New("pathway is required"))
	}
	if c.Year < MinYear || c.Year > MaxYear {
		errs = append(errs, fmt.Errorf("year must be between %d and %d, got %d", MinYear, MaxYear, c.Year))
	}
	switch strings.ToLower(c.SystemModel) {
	case "", "attributional", "consequential":
	default:
		errs = append(errs, fmt.Errorf("unknown system model %q", c.SystemModel))
	}
	if c.TimeHorizon < 0 {
		errs = append(errs, fmt.Errorf("time_horizon must be >= 0, got %d", c.TimeHorizon))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.ScenarioDir == "" {
		errs = append(errs, errors.New("scenario_dir is required"))
	}
	for i, cs := range c.CustomScenarios {
		if cs.Workbook == "" || cs.Config == "" {
			errs = append(errs, fmt.Errorf("custom_scenarios[%d]: scenario_data and config are required", i))
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %.2f", c.Tracing.SampleRatio))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ValidateTransform runs Validate and checks the graph and template settings.
func (c *RunConfig) ValidateTransform() error {
	if err := c.Validate(); err != nil {
		return err
	}
	var errs []error
	if c.GraphPath == "" {
		errs = append(errs, errors.New("graph is required"))
	}
	if c.OutputPath == "" {
		errs = append(errs, errors.New("output is required"))
	}
	for i, t := range c.Templates {
		if t.Name == "" || t.Product == "" {
			errs = append(errs, fmt.Errorf("templates[%d]: name and product are required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
