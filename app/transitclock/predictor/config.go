package predictor

import "time"

//Config of predictions and travel time statistics
type Config struct {
	//Alpha is the smoothing factor of the exponential moving average of travel times
	Alpha float64 `yaml:"alpha" validate:"gt=0,lte=1"`
	//PriorWeight is how many samples the schedule counts as when blended with a statistic's mean
	PriorWeight float64 `yaml:"prior_weight" validate:"gte=0"`
	//OutlierSigmas and OutlierRatio bound how far from the mean a traversal can be before it is discarded,
	//the larger of OutlierSigmas standard deviations and OutlierRatio times the mean is used
	OutlierSigmas float64 `yaml:"outlier_sigmas" validate:"gt=0"`
	OutlierRatio  float64 `yaml:"outlier_ratio" validate:"gt=0"`
	//MaxScheduleRatio bounds traversals of segments with fewer than two samples to between the scheduled time
	//divided and multiplied by the ratio
	MaxScheduleRatio float64 `yaml:"max_schedule_ratio" validate:"gt=1"`
	//DwellThreshold is how long a vehicle can be stationary before its predictions stop advancing
	DwellThreshold time.Duration `yaml:"dwell_threshold" validate:"gte=0"`
	//MaxHorizon limits how far ahead stops are predicted, 0 predicts every remaining stop
	MaxHorizon time.Duration `yaml:"max_horizon" validate:"gte=0"`
	Bias       Bias          `yaml:"bias"`
}

//DefaultConfig returns the Config used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		Alpha:            0.2,
		PriorWeight:      5,
		OutlierSigmas:    3,
		OutlierRatio:     0.5,
		MaxScheduleRatio: 3,
		DwellThreshold:   2 * time.Minute,
		MaxHorizon:       90 * time.Minute,
	}
}
