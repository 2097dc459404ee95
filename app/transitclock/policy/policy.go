// Package policy loads the tunable matching and prediction parameters from a yaml file
package policy

import (
	"fmt"
	"os"

	"github.com/OpenTransitTools/transitclock/app/transitclock/matcher"
	"github.com/OpenTransitTools/transitclock/app/transitclock/predictor"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//Policy contains every tunable parameter of matching and prediction
type Policy struct {
	Match   matcher.Config   `yaml:"match"`
	Predict predictor.Config `yaml:"predict"`
}

//Default returns the Policy used when no file is given
func Default() Policy {
	return Policy{
		Match:   matcher.DefaultConfig(),
		Predict: predictor.DefaultConfig(),
	}
}

//Load reads the policy file at path over the defaults.
//An empty path returns the defaults
func Load(path string) (Policy, error) {
	policy := Default()
	if path == "" {
		return policy, policy.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("unable to read policy file %s: %w", path, err)
	}
	return Parse(data)
}

//Parse decodes a yaml policy over the defaults and validates the result
func Parse(data []byte) (Policy, error) {
	policy := Default()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("unable to parse policy: %w", err)
	}
	return policy, policy.Validate()
}

//Validate checks every parameter is within its allowed range
func (p Policy) Validate() error {
	v := validator.New()
	if err := v.Struct(p.Match); err != nil {
		return fmt.Errorf("invalid match policy: %w", err)
	}
	if err := v.Struct(p.Predict); err != nil {
		return fmt.Errorf("invalid predict policy: %w", err)
	}
	if p.Match.StickyMinConfidence < p.Match.MinConfidence {
		return fmt.Errorf("invalid match policy: sticky_min_confidence %v is less than min_confidence %v",
			p.Match.StickyMinConfidence, p.Match.MinConfidence)
	}
	if _, err := predictor.NewBiasAdjuster(p.Predict.Bias); err != nil {
		return fmt.Errorf("invalid predict policy: %w", err)
	}
	return nil
}
