package pipeline

import (
	"context"
	"errors"
	logger "log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitclock/app/transitclock/metrics"
	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/OpenTransitTools/transitclock/business/schedule"
	"github.com/OpenTransitTools/transitclock/business/schedule/scheduletest"
	"github.com/OpenTransitTools/transitclock/business/spatial"
	"github.com/OpenTransitTools/transitclock/foundation/httpclient"
	"github.com/matryer/is"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

//fakeScheduleSource returns each of datasets once, then nil
type fakeScheduleSource struct {
	datasets []*schedule.Dataset
	err      error
}

func (f *fakeScheduleSource) Load(_ context.Context, _ time.Time) (*schedule.Dataset, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.datasets) == 0 {
		return nil, nil
	}
	ds := f.datasets[0]
	f.datasets = f.datasets[1:]
	return ds, nil
}

func (f *fakeScheduleSource) String() string {
	return "fake"
}

func TestScheduleLoader_Reload(t *testing.T) {
	missingShape := scheduletest.Dataset()
	missingShape.Version = 2
	missingShape.Trips[2].ShapeId = "unknown"

	tests := []struct {
		name        string
		source      *fakeScheduleSource
		wantChanged bool
		wantErr     bool
		wantVersion int64
		wantTrips   int
	}{
		{
			name:        "new schedule",
			source:      &fakeScheduleSource{datasets: []*schedule.Dataset{scheduletest.Dataset()}},
			wantChanged: true,
			wantVersion: 1,
			wantTrips:   3,
		},
		{
			name:        "unchanged",
			source:      &fakeScheduleSource{},
			wantVersion: 0,
		},
		{
			name:        "missing data still loads",
			source:      &fakeScheduleSource{datasets: []*schedule.Dataset{missingShape}},
			wantChanged: true,
			wantVersion: 2,
			wantTrips:   2,
		},
		{
			name:        "nothing usable",
			source:      &fakeScheduleSource{datasets: []*schedule.Dataset{{Source: "empty", Version: 3}}},
			wantErr:     true,
			wantVersion: 0,
		},
		{
			name:        "source failure",
			source:      &fakeScheduleSource{err: errors.New("unreachable")},
			wantErr:     true,
			wantVersion: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			m := metrics.New()
			reference := &schedule.Reference{}
			loader := NewScheduleLoader(logger.New(os.Stdout, "TEST : ", 0), tt.source, reference,
				spatial.Config{}, m)
			changed, err := loader.Reload(context.Background(), scheduletest.ServiceDate)
			is.Equal(err != nil, tt.wantErr)
			is.Equal(changed, tt.wantChanged)
			is.Equal(reference.Version(), tt.wantVersion)
			is.Equal(testutil.ToFloat64(m.ScheduleVersion), float64(tt.wantVersion))
			if tt.wantChanged {
				snapshot, err := reference.Current()
				is.NoErr(err)
				is.Equal(snapshot.TripCount(), tt.wantTrips)
			}
		})
	}
}

func TestDBScheduleSource(t *testing.T) {
	is := is.New(t)
	db := openTestDB(t)
	source := NewDBScheduleSource(db, time.UTC)
	savedAt := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := source.Load(context.Background(), savedAt)
	is.True(errors.Is(err, gtfs.ErrNoDataSet))

	is.NoErr(schedule.SaveDataset(db, scheduletest.Dataset(), gtfs.DataSet{URL: "scheduletest", DownloadedAt: savedAt},
		savedAt))
	ds, err := source.Load(context.Background(), savedAt.Add(time.Hour))
	is.NoErr(err)
	is.True(ds != nil)
	is.Equal(len(ds.Trips), 3)
	snapshot, err := schedule.Build(ds, spatial.Config{}, savedAt)
	is.NoErr(err)
	is.Equal(snapshot.Version, ds.Version)
	_, ok := snapshot.TripInstance("t1", scheduletest.ServiceDate)
	is.True(ok)

	//the same data set is not loaded twice
	ds, err = source.Load(context.Background(), savedAt.Add(2*time.Hour))
	is.NoErr(err)
	is.True(ds == nil)
}

func TestURLScheduleSource_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
		{
			name: "not a zip file",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("ETag", "v1")
				_, _ = w.Write([]byte("agency_id,agency_name"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			source := NewURLScheduleSource(httpclient.New(time.Second), server.URL, time.UTC, nil)
			is.Equal(source.String(), server.URL)
			ds, err := source.Load(context.Background(), scheduletest.ServiceDate)
			is.True(err != nil)
			is.True(ds == nil)
		})
	}
}
