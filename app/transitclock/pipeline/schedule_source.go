package pipeline

import (
	"context"
	"errors"
	"fmt"
	logger "log"
	"time"

	"github.com/OpenTransitTools/transitclock/app/transitclock/metrics"
	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/OpenTransitTools/transitclock/business/schedule"
	"github.com/OpenTransitTools/transitclock/business/spatial"
	"github.com/OpenTransitTools/transitclock/foundation/httpclient"
	"github.com/jmoiron/sqlx"
)

//ScheduleSource provides the gtfs schedule
type ScheduleSource interface {
	//Load returns the schedule Dataset in use at "at", or nil when it has not changed since the last Load
	Load(ctx context.Context, at time.Time) (*schedule.Dataset, error)
	String() string
}

//URLScheduleSource downloads a gtfs static zip file, only when its ETag or Last-Modified header changes
type URLScheduleSource struct {
	client   *httpclient.Client
	url      string
	location *time.Location
	//db is where downloaded schedules are saved, may be nil
	db     *sqlx.DB
	loaded *httpclient.RemoteFileInfo
}

//NewURLScheduleSource builds a URLScheduleSource. When location is nil the first agency's timezone is used.
//When db is not nil each downloaded schedule is saved as a new gtfs.DataSet
func NewURLScheduleSource(client *httpclient.Client,
	url string,
	location *time.Location,
	db *sqlx.DB) *URLScheduleSource {
	return &URLScheduleSource{
		client:   client,
		url:      url,
		location: location,
		db:       db,
	}
}

func (u *URLScheduleSource) String() string {
	return u.url
}

//Load implements ScheduleSource. The Dataset's Version is the id of the saved gtfs.DataSet, otherwise the file's
//last modified timestamp or the load time when the server does not provide one
func (u *URLScheduleSource) Load(ctx context.Context, at time.Time) (*schedule.Dataset, error) {
	if u.loaded != nil {
		info, err := u.client.GetRemoteFileInfo(ctx, u.url)
		if err != nil {
			return nil, fmt.Errorf("unable to check gtfs file %s: %w", u.url, err)
		}
		if !info.IsDifferent(u.loaded.ETag, u.loaded.LastModifiedTimestamp) {
			return nil, nil
		}
	}
	data, info, err := u.client.Fetch(ctx, u.url)
	if err != nil {
		return nil, fmt.Errorf("unable to download gtfs file %s: %w", u.url, err)
	}
	version := info.LastModifiedTimestamp
	if version == 0 {
		version = at.Unix()
	}
	ds, err := schedule.ParseStaticZip(data, u.url, version, u.location)
	if err != nil {
		return nil, err
	}
	if u.db != nil {
		dataSet := gtfs.DataSet{
			URL:                   u.url,
			ETag:                  info.ETag,
			LastModifiedTimestamp: info.LastModifiedTimestamp,
			DownloadedAt:          at,
		}
		if err = schedule.SaveDataset(u.db, ds, dataSet, at); err != nil {
			return nil, err
		}
	}
	u.loaded = &info
	return ds, nil
}

//DBScheduleSource reads the schedule from the gtfs tables, a new Dataset is returned when a different data set is in
//use
type DBScheduleSource struct {
	db       *sqlx.DB
	location *time.Location
	version  int64
}

//NewDBScheduleSource builds a DBScheduleSource interpreting schedule times in location
func NewDBScheduleSource(db *sqlx.DB, location *time.Location) *DBScheduleSource {
	return &DBScheduleSource{db: db, location: location}
}

func (d *DBScheduleSource) String() string {
	return "database"
}

//Load implements ScheduleSource
func (d *DBScheduleSource) Load(_ context.Context, at time.Time) (*schedule.Dataset, error) {
	ds, err := schedule.LoadDataset(d.db, at, d.location)
	if err != nil {
		return nil, err
	}
	if ds.Version == d.version {
		return nil, nil
	}
	d.version = ds.Version
	return ds, nil
}

//ScheduleLoader builds and installs new schedule snapshots from a ScheduleSource
type ScheduleLoader struct {
	log        *logger.Logger
	source     ScheduleSource
	schedules  *schedule.Reference
	spatialCfg spatial.Config
	metrics    *metrics.Metrics
}

//NewScheduleLoader builds a ScheduleLoader, m may be nil
func NewScheduleLoader(log *logger.Logger,
	source ScheduleSource,
	schedules *schedule.Reference,
	spatialCfg spatial.Config,
	m *metrics.Metrics) *ScheduleLoader {
	return &ScheduleLoader{
		log:        log,
		source:     source,
		schedules:  schedules,
		spatialCfg: spatialCfg,
		metrics:    m,
	}
}

//Reload swaps in a new snapshot when the source's schedule changed.
//returns true when a new snapshot is in use. Vehicles matched with the previous snapshot keep their trips until
//their next report
func (s *ScheduleLoader) Reload(ctx context.Context, now time.Time) (bool, error) {
	ds, err := s.source.Load(ctx, now)
	if err != nil {
		return false, err
	}
	if ds == nil {
		return false, nil
	}
	snapshot, err := schedule.Build(ds, s.spatialCfg, now)
	if err != nil {
		var missingData *schedule.MissingDataError
		if !errors.As(err, &missingData) {
			return false, fmt.Errorf("unable to build schedule from %s: %w", s.source, err)
		}
		s.log.Printf("schedule from %s loaded with missing data: %v", s.source, missingData)
	}
	s.schedules.Swap(snapshot)
	if s.metrics != nil {
		s.metrics.ScheduleVersion.Set(float64(snapshot.Version))
	}
	s.log.Printf("loaded schedule version %d from %s with %d trips", snapshot.Version, s.source,
		snapshot.TripCount())
	return true, nil
}
