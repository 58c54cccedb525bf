package strategy

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/mayflydoe/internal/solver"
	"github.com/cwbudde/mayflydoe/internal/space"
)

var validate = validator.New()

// Transform names.
const (
	Identity = "identity"
	MinMax   = "min-max"
)

// Config is a complete DoE problem: the design space plus everything needed
// to generate designs for it.
type Config struct {
	Space          space.Spec     `yaml:"space" json:"space"`
	Formula        string         `yaml:"formula" json:"formula"`
	Criterion      string         `yaml:"criterion" json:"criterion"`
	Transform      string         `yaml:"transform" json:"transform" validate:"omitempty,oneof=identity min-max"`
	TransformRange []float64      `yaml:"transform_range,omitempty" json:"transform_range,omitempty" validate:"omitempty,len=2"`
	Runs           int            `yaml:"runs" json:"runs" validate:"gte=0"`
	Options        solver.Options `yaml:"options" json:"options"`
}

// DefaultConfig returns a config with the default formula, criterion and
// solver options and an empty space.
func DefaultConfig() Config {
	return Config{
		Formula:        "linear",
		Criterion:      "D-optimality",
		Transform:      Identity,
		TransformRange: []float64{-1, 1},
		Runs:           1,
		Options:        solver.DefaultOptions(),
	}
}

// ParseConfig decodes a YAML (or JSON) problem document on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	return ParseConfigOver(data, DefaultConfig())
}

// ParseConfigOver decodes a problem document on top of base; fields the
// document omits keep their base values.
func ParseConfigOver(data []byte, base Config) (*Config, error) {
	cfg := base
	cfg.TransformRange = append([]float64(nil), base.TransformRange...)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse problem: %w", err)
	}
	return &cfg, nil
}

// LoadConfig reads a problem file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read problem file: %w", err)
	}
	return ParseConfig(data)
}

// Validate checks the config fields that do not depend on the space.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &space.ValidationError{Field: verrs[0].Namespace(), Reason: "failed " + verrs[0].Tag()}
		}
		return &space.ValidationError{Field: "config", Reason: err.Error()}
	}
	return c.Options.Validate()
}
