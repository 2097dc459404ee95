package matcher

import (
	"math"
	"time"

	"github.com/OpenTransitTools/transitclock/business/schedule"
)

//CandidateKind is how a Candidate was found
type CandidateKind int

const (
	//Sticky candidates continue the vehicle along its current trip
	Sticky CandidateKind = iota
	//Rederive candidates come from searching the spatial index for trips near the report
	Rederive
)

func (k CandidateKind) String() string {
	if k == Sticky {
		return "sticky"
	}
	return "rederive"
}

//Candidate is a possible position of a vehicle on a trip instance
type Candidate struct {
	Kind CandidateKind
	Trip schedule.TripInstance
	//DistanceAlongTrip in meters the vehicle would be at on Trip
	DistanceAlongTrip float64
	//Distance in meters from the report to Trip's shape
	Distance float64
	//HeadingDelta between the report's heading and the shape, nil when the report has no heading
	HeadingDelta *float64
	//ScheduleDeviation is the report time less the time Trip is scheduled to be at DistanceAlongTrip
	ScheduleDeviation time.Duration
	//BlockContinuation is set when Trip follows the vehicle's current trip in its block
	BlockContinuation bool
	Score             float64
}

//Score rates how likely a candidate is the vehicle's true position between 0 and 1.
//It is the weighted mean of the distance, heading and schedule scores plus any bonuses, capped at 1
func Score(c Candidate, w Weights) float64 {
	total := w.Distance + w.Heading + w.Schedule
	if total <= 0 {
		return 0
	}
	distanceScore := 0.0
	if w.SearchRadius > 0 {
		distanceScore = unit(1 - c.Distance/w.SearchRadius)
	}
	headingScore := 0.5
	if c.HeadingDelta != nil {
		headingScore = unit(1 - *c.HeadingDelta/180)
	}
	scheduleScore := 0.0
	if w.ScheduleWindow > 0 {
		scheduleScore = unit(1 - math.Abs(c.ScheduleDeviation.Seconds())/w.ScheduleWindow.Seconds())
	}
	score := (w.Distance*distanceScore + w.Heading*headingScore + w.Schedule*scheduleScore) / total
	if c.Kind == Sticky {
		score += w.StickyBonus
	}
	if c.BlockContinuation {
		score += w.BlockContinuationBonus
	}
	return math.Min(score, 1)
}

func unit(value float64) float64 {
	return math.Max(0, math.Min(1, value))
}

//better orders scored candidates, best first
func better(a, b *Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Kind != b.Kind {
		return a.Kind == Sticky
	}
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	if a.Trip.Key() != b.Trip.Key() {
		return a.Trip.Key() < b.Trip.Key()
	}
	return a.DistanceAlongTrip < b.DistanceAlongTrip
}
