package predictor

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitclock/business/data/traveltime"
)

//Key identifies the travel time statistic of a segment between two consecutive stops
type Key struct {
	RouteId    string
	FromStopId string
	ToStopId   string
	DayType    string
}

//Statistic of the travel time across a segment
type Statistic struct {
	MeanSeconds float64
	Variance    float64
	Samples     int
	UpdatedAt   time.Time
}

//StatisticsReader provides travel time statistics to Predict
type StatisticsReader interface {
	Statistic(key Key) (Statistic, bool)
}

//TravelTimes holds the travel time statistic of every segment observed, it is safe for concurrent use
type TravelTimes struct {
	cfg        Config
	mu         sync.RWMutex
	statistics map[Key]Statistic
	dirty      map[Key]bool
}

//NewTravelTimes builds empty TravelTimes
func NewTravelTimes(cfg Config) *TravelTimes {
	return &TravelTimes{
		cfg:        cfg,
		statistics: make(map[Key]Statistic),
		dirty:      make(map[Key]bool),
	}
}

//Statistic implements StatisticsReader
func (t *TravelTimes) Statistic(key Key) (Statistic, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	statistic, ok := t.statistics[key]
	return statistic, ok
}

//Len returns the number of statistics held
func (t *TravelTimes) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.statistics)
}

//Observe adds a traversal of observedSeconds to the statistic for key, the mean of a new statistic starts at
//scheduledSeconds.
//returns false when the traversal is discarded as an outlier, leaving the statistic unchanged
func (t *TravelTimes) Observe(key Key, scheduledSeconds, observedSeconds float64, at time.Time) bool {
	if observedSeconds <= 0 || math.IsNaN(observedSeconds) || math.IsInf(observedSeconds, 0) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	statistic, ok := t.statistics[key]
	if !ok || statistic.Samples == 0 {
		statistic = Statistic{MeanSeconds: scheduledSeconds}
	}
	if t.isOutlier(statistic, scheduledSeconds, observedSeconds) {
		return false
	}
	delta := observedSeconds - statistic.MeanSeconds
	statistic.MeanSeconds += t.cfg.Alpha * delta
	statistic.Variance = (1 - t.cfg.Alpha) * (statistic.Variance + t.cfg.Alpha*delta*delta)
	statistic.Samples++
	statistic.UpdatedAt = at
	t.statistics[key] = statistic
	t.dirty[key] = true
	return true
}

//isOutlier compares observedSeconds to the schedule until the statistic has two samples, then to the
//statistic's spread
func (t *TravelTimes) isOutlier(statistic Statistic, scheduledSeconds, observedSeconds float64) bool {
	if statistic.Samples < 2 {
		if scheduledSeconds <= 0 {
			return false
		}
		return observedSeconds > scheduledSeconds*t.cfg.MaxScheduleRatio ||
			observedSeconds < scheduledSeconds/t.cfg.MaxScheduleRatio
	}
	bound := math.Max(t.cfg.OutlierSigmas*math.Sqrt(statistic.Variance), t.cfg.OutlierRatio*statistic.MeanSeconds)
	return math.Abs(observedSeconds-statistic.MeanSeconds) > bound
}

//TakeDirty returns the statistics changed since the last call, ordered by key
func (t *TravelTimes) TakeDirty() []*traveltime.Statistic {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([]*traveltime.Statistic, 0, len(t.dirty))
	for key := range t.dirty {
		result = append(result, toRecord(key, t.statistics[key]))
	}
	t.dirty = make(map[Key]bool)
	sort.Slice(result, func(i, j int) bool {
		return recordLess(result[i], result[j])
	})
	return result
}

//MarkDirty flags the statistics of records as changed again, used when saving them failed
func (t *TravelTimes) MarkDirty(records []*traveltime.Statistic) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, record := range records {
		key := keyOf(record)
		if _, present := t.statistics[key]; present {
			t.dirty[key] = true
		}
	}
}

//Load replaces all statistics with records, returns the number loaded
func (t *TravelTimes) Load(records []*traveltime.Statistic) int {
	statistics := make(map[Key]Statistic, len(records))
	for _, record := range records {
		statistics[keyOf(record)] = Statistic{
			MeanSeconds: record.MeanSeconds,
			Variance:    record.Variance,
			Samples:     record.Samples,
			UpdatedAt:   record.UpdatedAt,
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statistics = statistics
	t.dirty = make(map[Key]bool)
	return len(statistics)
}

func keyOf(record *traveltime.Statistic) Key {
	return Key{
		RouteId:    record.RouteId,
		FromStopId: record.FromStopId,
		ToStopId:   record.ToStopId,
		DayType:    record.DayType,
	}
}

func toRecord(key Key, statistic Statistic) *traveltime.Statistic {
	return &traveltime.Statistic{
		RouteId:     key.RouteId,
		FromStopId:  key.FromStopId,
		ToStopId:    key.ToStopId,
		DayType:     key.DayType,
		MeanSeconds: statistic.MeanSeconds,
		Variance:    statistic.Variance,
		Samples:     statistic.Samples,
		UpdatedAt:   statistic.UpdatedAt,
	}
}

func recordLess(a, b *traveltime.Statistic) bool {
	if a.RouteId != b.RouteId {
		return a.RouteId < b.RouteId
	}
	if a.FromStopId != b.FromStopId {
		return a.FromStopId < b.FromStopId
	}
	if a.ToStopId != b.ToStopId {
		return a.ToStopId < b.ToStopId
	}
	return a.DayType < b.DayType
}

//expectedSeconds blends the statistic for key with scheduledSeconds, weighting the statistic by its samples.
//Statistics with fewer than two samples are not used. returns true when a statistic contributed
func expectedSeconds(stats StatisticsReader, key Key, scheduledSeconds, priorWeight float64) (float64, bool) {
	if stats == nil {
		return scheduledSeconds, false
	}
	statistic, ok := stats.Statistic(key)
	if !ok || statistic.Samples < 2 {
		return scheduledSeconds, false
	}
	samples := float64(statistic.Samples)
	weight := samples / (samples + priorWeight)
	return weight*statistic.MeanSeconds + (1-weight)*scheduledSeconds, true
}
