package predictor

import (
	"math"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/OpenTransitTools/transitclock/business/data/traveltime"
	"github.com/matryer/is"
)

var abKey = Key{RouteId: "r1", FromStopId: "A", ToStopId: "B", DayType: Weekday}
var bcKey = Key{RouteId: "r1", FromStopId: "B", ToStopId: "C", DayType: Weekday}

func TestTravelTimes_Observe(t *testing.T) {
	at := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name         string
		previous     []float64
		observed     float64
		wantAccepted bool
		wantSamples  int
		wantMean     float64
	}{
		{name: "first traversal starts from the schedule", observed: 100, wantAccepted: true, wantSamples: 1,
			wantMean: 116},
		{name: "first traversal too slow", observed: 400, wantSamples: 0},
		{name: "first traversal too fast", observed: 30, wantSamples: 0},
		{name: "zero seconds", observed: 0, wantSamples: 0},
		{name: "negative seconds", previous: []float64{100}, observed: -5, wantSamples: 1, wantMean: 116},
		{name: "second traversal still compared to schedule", previous: []float64{100}, observed: 300,
			wantAccepted: true, wantSamples: 2, wantMean: 152.8},
		{name: "outside the spread of two samples", previous: []float64{100, 100}, observed: 50, wantSamples: 2,
			wantMean: 112.8},
		{name: "inside the spread of two samples", previous: []float64{100, 100}, observed: 60, wantAccepted: true,
			wantSamples: 3, wantMean: 102.24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			travelTimes := NewTravelTimes(DefaultConfig())
			for _, previous := range tt.previous {
				is.True(travelTimes.Observe(abKey, 120, previous, at))
			}
			is.Equal(travelTimes.Observe(abKey, 120, tt.observed, at), tt.wantAccepted)
			statistic, ok := travelTimes.Statistic(abKey)
			is.Equal(ok, tt.wantSamples > 0)
			is.Equal(statistic.Samples, tt.wantSamples)
			is.True(math.Abs(statistic.MeanSeconds-tt.wantMean) < 1e-9)
		})
	}
}

func TestTravelTimes_Dirty(t *testing.T) {
	is := is.New(t)
	at := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	travelTimes := NewTravelTimes(DefaultConfig())
	travelTimes.Observe(bcKey, 120, 110, at)
	travelTimes.Observe(abKey, 120, 110, at)

	dirty := travelTimes.TakeDirty()
	is.Equal(len(dirty), 2)
	is.Equal(dirty[0].FromStopId, "A")
	is.Equal(dirty[1].FromStopId, "B")
	is.Equal(dirty[0].Samples, 1)
	is.True(dirty[0].UpdatedAt.Equal(at))
	is.Equal(len(travelTimes.TakeDirty()), 0)

	//saving failed
	travelTimes.MarkDirty(append(dirty, &traveltime.Statistic{RouteId: "r9", FromStopId: "X", ToStopId: "Y"}))
	is.Equal(len(travelTimes.TakeDirty()), 2)

	travelTimes.Observe(abKey, 120, 115, at)
	dirty = travelTimes.TakeDirty()
	is.Equal(len(dirty), 1)
	is.Equal(dirty[0].Samples, 2)
}

func TestTravelTimes_Load(t *testing.T) {
	is := is.New(t)
	travelTimes := NewTravelTimes(DefaultConfig())
	travelTimes.Observe(bcKey, 120, 110, time.Now())
	loaded := travelTimes.Load([]*traveltime.Statistic{{
		RouteId:     "r1",
		FromStopId:  "A",
		ToStopId:    "B",
		DayType:     Weekday,
		MeanSeconds: 95,
		Variance:    16,
		Samples:     12,
	}})
	is.Equal(loaded, 1)
	is.Equal(travelTimes.Len(), 1)
	is.Equal(len(travelTimes.TakeDirty()), 0)
	_, ok := travelTimes.Statistic(bcKey)
	is.True(!ok)

	expected, used := expectedSeconds(travelTimes, abKey, 120, 5)
	is.True(used)
	//twelve samples against a prior of five
	is.True(math.Abs(expected-(12.0/17*95+5.0/17*120)) < 1e-9)
}

func TestExpectedSeconds(t *testing.T) {
	travelTimes := NewTravelTimes(DefaultConfig())
	travelTimes.Load([]*traveltime.Statistic{
		{RouteId: "r1", FromStopId: "A", ToStopId: "B", DayType: Weekday, MeanSeconds: 60, Samples: 1},
		{RouteId: "r1", FromStopId: "B", ToStopId: "C", DayType: Weekday, MeanSeconds: 60, Samples: 5},
	})
	tests := []struct {
		name        string
		stats       StatisticsReader
		key         Key
		priorWeight float64
		want        float64
		wantUsed    bool
	}{
		{name: "no statistics", key: bcKey, priorWeight: 5, want: 120},
		{name: "unknown segment", stats: travelTimes, key: Key{RouteId: "r2"}, priorWeight: 5, want: 120},
		{name: "single sample", stats: travelTimes, key: abKey, priorWeight: 5, want: 120},
		{name: "blended", stats: travelTimes, key: bcKey, priorWeight: 5, want: 90, wantUsed: true},
		{name: "no prior", stats: travelTimes, key: bcKey, priorWeight: 0, want: 60, wantUsed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			got, used := expectedSeconds(tt.stats, tt.key, 120, tt.priorWeight)
			is.Equal(used, tt.wantUsed)
			is.True(math.Abs(got-tt.want) < 1e-9)
		})
	}
}

func TestPredictions(t *testing.T) {
	is := is.New(t)
	now := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	predictions := NewPredictions()
	is.True(predictions.Put(&gtfs.TripUpdate{VehicleId: "bus1", TripId: "t1", Timestamp: uint64(now.Unix())}))
	//older reports never replace newer predictions
	is.True(!predictions.Put(&gtfs.TripUpdate{VehicleId: "bus1", TripId: "t0",
		Timestamp: uint64(now.Add(-time.Minute).Unix())}))
	update, ok := predictions.Get("bus1")
	is.True(ok)
	is.Equal(update.TripId, "t1")

	is.True(predictions.Put(&gtfs.TripUpdate{VehicleId: "bus2", TripId: "t2",
		Timestamp: uint64(now.Add(-10 * time.Minute).Unix())}))
	snapshot := predictions.Snapshot()
	is.Equal(len(snapshot), 2)
	delete(snapshot, "bus1")
	is.Equal(predictions.Len(), 2)

	is.Equal(predictions.Remove("bus1", "bus1"), 1)
	is.Equal(predictions.Len(), 1)
	_, ok = predictions.Get("bus2")
	is.True(ok)
}
