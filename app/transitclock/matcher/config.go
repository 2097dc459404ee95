package matcher

import (
	"time"

	"github.com/OpenTransitTools/transitclock/business/spatial"
)

//Weights controls how candidates are scored
type Weights struct {
	//Distance, Heading and Schedule weight each part of the score, they need not add up to 1
	Distance float64 `yaml:"distance" validate:"gte=0"`
	Heading  float64 `yaml:"heading" validate:"gte=0"`
	Schedule float64 `yaml:"schedule" validate:"gte=0"`
	//StickyBonus is added to the score of continuing on the vehicle's current trip
	StickyBonus float64 `yaml:"sticky_bonus" validate:"gte=0,lte=1"`
	//BlockContinuationBonus is added to the score of the trip following the current trip in its block
	BlockContinuationBonus float64 `yaml:"block_continuation_bonus" validate:"gte=0,lte=1"`

	//SearchRadius and ScheduleWindow scale distance and schedule deviation, they are copied from Config
	SearchRadius   float64       `yaml:"-"`
	ScheduleWindow time.Duration `yaml:"-"`
}

//Config of the Engine
type Config struct {
	//SearchRadius in meters around a report that segments are searched for
	SearchRadius  float64 `yaml:"search_radius" validate:"gt=0"`
	MaxCandidates int     `yaml:"max_candidates" validate:"gt=0"`
	Weights       Weights `yaml:"weights"`
	//MinConfidence is the lowest score a candidate can have and be matched
	MinConfidence float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
	//StickyMinConfidence is the confidence a vehicle must have been matched with to try continuing its trip
	StickyMinConfidence float64 `yaml:"sticky_min_confidence" validate:"gte=0,lte=1"`
	//ScheduleWindow is the schedule deviation at which a candidate's schedule score reaches 0
	ScheduleWindow time.Duration `yaml:"schedule_window" validate:"gt=0"`
	//EarlySlack and LateSlack widen a trip's scheduled start and end when finding trips a report could be on
	EarlySlack time.Duration `yaml:"early_slack" validate:"gte=0"`
	LateSlack  time.Duration `yaml:"late_slack" validate:"gte=0"`
	//BackwardTolerance in meters a vehicle may appear to move back along its trip due to gps noise
	BackwardTolerance float64 `yaml:"backward_tolerance" validate:"gte=0"`
	//MaxSpeed in meters per second used to limit how far along its trip a vehicle can have moved
	MaxSpeed float64 `yaml:"max_speed" validate:"gt=0"`
	//MaxJumpSpeed in meters per second between reports less than JumpCheckWindow apart rejects the later report
	MaxJumpSpeed    float64       `yaml:"max_jump_speed" validate:"gt=0"`
	JumpCheckWindow time.Duration `yaml:"jump_check_window" validate:"gte=0"`
	//StationaryDistance in meters a vehicle can move between reports and still be stationary
	StationaryDistance float64 `yaml:"stationary_distance" validate:"gte=0"`
	//DelayedAfter is how long a vehicle can be stationary away from a terminal before it is delayed
	DelayedAfter time.Duration `yaml:"delayed_after" validate:"gt=0"`
	//StaleAfter is how much later than its timestamp a report can be received before it is low confidence
	StaleAfter time.Duration `yaml:"stale_after" validate:"gt=0"`
}

//DefaultConfig returns the Config used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		SearchRadius:  spatial.DefaultSearchRadius,
		MaxCandidates: spatial.DefaultMaxCandidates,
		Weights: Weights{
			Distance:               0.5,
			Heading:                0.2,
			Schedule:               0.3,
			StickyBonus:            0.1,
			BlockContinuationBonus: 0.1,
		},
		MinConfidence:       0.4,
		StickyMinConfidence: 0.5,
		ScheduleWindow:      30 * time.Minute,
		EarlySlack:          15 * time.Minute,
		LateSlack:           30 * time.Minute,
		BackwardTolerance:   50,
		MaxSpeed:            35,
		MaxJumpSpeed:        60,
		JumpCheckWindow:     5 * time.Minute,
		StationaryDistance:  10,
		DelayedAfter:        4 * time.Minute,
		StaleAfter:          time.Minute,
	}
}

//SpatialConfig returns the spatial.Config schedule snapshots should be indexed with
func (c Config) SpatialConfig() spatial.Config {
	return spatial.Config{SearchRadius: c.SearchRadius, MaxCandidates: c.MaxCandidates}
}

//scoringWeights returns Weights with the scales copied from c
func (c Config) scoringWeights() Weights {
	weights := c.Weights
	weights.SearchRadius = c.SearchRadius
	weights.ScheduleWindow = c.ScheduleWindow
	return weights
}
