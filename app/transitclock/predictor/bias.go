package predictor

import (
	"fmt"
	"math"
)

//bias adjuster kinds
const (
	BiasNone        = "none"
	BiasLinear      = "linear"
	BiasExponential = "exponential"
)

//Bias configures adjustment of predictions by how far ahead they are.
//Both kinds change a prediction by a percentage of its horizon, Direction 1 lengthens predictions, -1 shortens them.
//Linear uses Rate percent per minute of horizon, exponential uses A * B^minutes - C percent
type Bias struct {
	Kind      string  `yaml:"kind" validate:"omitempty,oneof=none linear exponential"`
	Direction int     `yaml:"direction" validate:"omitempty,oneof=-1 1"`
	Rate      float64 `yaml:"rate" validate:"gte=0"`
	A         float64 `yaml:"a"`
	B         float64 `yaml:"b" validate:"gte=0"`
	C         float64 `yaml:"c"`
}

//BiasAdjuster changes the number of seconds until a predicted event
type BiasAdjuster interface {
	Adjust(horizonSeconds float64) float64
}

//NewBiasAdjuster returns the BiasAdjuster configured by b, nil when predictions are not adjusted
func NewBiasAdjuster(b Bias) (BiasAdjuster, error) {
	direction := float64(b.Direction)
	if direction == 0 {
		direction = 1
	}
	switch b.Kind {
	case "", BiasNone:
		return nil, nil
	case BiasLinear:
		return linearBias{rate: b.Rate, direction: direction}, nil
	case BiasExponential:
		return exponentialBias{a: b.A, b: b.B, c: b.C, direction: direction}, nil
	}
	return nil, fmt.Errorf("unknown bias kind %q", b.Kind)
}

//linearBias adjusts by a larger percentage as the horizon gets longer
type linearBias struct {
	rate      float64
	direction float64
}

func (l linearBias) Adjust(horizonSeconds float64) float64 {
	if horizonSeconds <= 0 {
		return horizonSeconds
	}
	percentage := horizonSeconds / 60 * l.rate
	return horizonSeconds + l.direction*percentage/100*horizonSeconds
}

//exponentialBias adjusts by a*b^minutes - c percent
type exponentialBias struct {
	a, b, c   float64
	direction float64
}

func (e exponentialBias) Adjust(horizonSeconds float64) float64 {
	if horizonSeconds <= 0 {
		return horizonSeconds
	}
	percentage := e.a*math.Pow(e.b, horizonSeconds/60) - e.c
	return horizonSeconds + e.direction*percentage/100*horizonSeconds
}
