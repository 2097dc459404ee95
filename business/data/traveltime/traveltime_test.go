package traveltime

import (
	"testing"
	"time"

	"github.com/OpenTransitTools/transitclock/foundation/database"
	"github.com/matryer/is"
)

func TestRecordAndLoad(t *testing.T) {
	is := is.New(t)
	db, err := database.Open(database.Config{Driver: database.DriverSqlite, Path: ":memory:"})
	is.NoErr(err)
	defer func() {
		_ = db.Close()
	}()
	is.NoErr(CreateSqliteSchema(db))

	loaded, err := Load(db)
	is.NoErr(err)
	is.Equal(len(loaded), 0)

	updatedAt := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	is.NoErr(Record(db, []*Statistic{
		{RouteId: "r1", FromStopId: "A", ToStopId: "B", DayType: "weekday", MeanSeconds: 110, Variance: 25,
			Samples: 3, UpdatedAt: updatedAt},
		{RouteId: "r1", FromStopId: "B", ToStopId: "C", DayType: "weekday", MeanSeconds: 95, Variance: 16,
			Samples: 2, UpdatedAt: updatedAt},
	}))
	// replaces A->B
	is.NoErr(Record(db, []*Statistic{
		{RouteId: "r1", FromStopId: "A", ToStopId: "B", DayType: "weekday", MeanSeconds: 105, Variance: 20,
			Samples: 4, UpdatedAt: updatedAt.Add(time.Minute)},
	}))
	is.NoErr(Record(db, nil))

	loaded, err = Load(db)
	is.NoErr(err)
	is.Equal(len(loaded), 2)
	byStop := make(map[string]*Statistic)
	for _, statistic := range loaded {
		byStop[statistic.FromStopId] = statistic
	}
	is.Equal(byStop["A"].MeanSeconds, 105.0)
	is.Equal(byStop["A"].Samples, 4)
	is.Equal(byStop["B"].Variance, 16.0)
	is.True(byStop["A"].UpdatedAt.Equal(updatedAt.Add(time.Minute)))
}
