package main

import (
	"context"
	"errors"
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenTransitTools/transitclock/app/transitclock/avlingest"
	"github.com/OpenTransitTools/transitclock/app/transitclock/feed"
	"github.com/OpenTransitTools/transitclock/app/transitclock/metrics"
	"github.com/OpenTransitTools/transitclock/app/transitclock/pipeline"
	"github.com/OpenTransitTools/transitclock/app/transitclock/policy"
	"github.com/OpenTransitTools/transitclock/app/transitclock/predictor"
	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/OpenTransitTools/transitclock/business/data/traveltime"
	"github.com/OpenTransitTools/transitclock/business/schedule"
	"github.com/OpenTransitTools/transitclock/foundation/clock"
	"github.com/OpenTransitTools/transitclock/foundation/database"
	"github.com/OpenTransitTools/transitclock/foundation/httpclient"
	"github.com/ardanlabs/conf"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

var build = "develop"

type config struct {
	conf.Version
	Args conf.Args
	DB   struct {
		Enabled    bool   `conf:"default:true,help:record observed stop times and travel time statistics"`
		Driver     string `conf:"default:pgx,help:pgx or sqlite3"`
		User       string `conf:"default:postgres"`
		Password   string `conf:"default:postgres,noprint"`
		Host       string `conf:"default:0.0.0.0"`
		Name       string `conf:"default:postgres"`
		DisableTLS bool   `conf:"default:true"`
		Path       string `conf:"default:transitclock.db,help:sqlite3 database file"`
	}
	NATS struct {
		Url         string `conf:"default:nats://localhost:4222"`
		AVLSubject  string `conf:"default:avl-reports,help:subject json avl reports are received on or empty to disable"`
		QueueGroup  string `conf:"default:transitclock"`
		FeedSubject string `conf:"default:gtfs-rt-feed,help:subject the feed is published to or empty to disable"`
	}
	GTFS struct {
		StaticUrl           string        `conf:"help:gtfs zip file url or empty to use the database schedule"`
		Timezone            string        `conf:"help:schedule timezone or empty for the agency timezone"`
		VehiclePositionsUrl string        `conf:"help:gtfs-rt vehicle positions feed polled for reports"`
		PollEvery           time.Duration `conf:"default:5s"`
		ReloadEvery         time.Duration `conf:"default:10m"`
	}
	Ingest struct {
		Workers       int     `conf:"default:8"`
		QueueSize     int     `conf:"default:256"`
		RatePerSecond float64 `conf:"default:0,help:reports accepted per second from nats or 0 for unlimited"`
		RateBurst     int     `conf:"default:100"`
	}
	Policy struct {
		File string `conf:"help:yaml policy file with matching and prediction parameters"`
		//overrides of the policy file, zero keeps the policy value
		SearchRadius   float64       `conf:"help:meters around a report trips are searched for"`
		MinConfidence  float64       `conf:"help:lowest score a trip can be matched with"`
		DwellThreshold time.Duration `conf:"help:how long a stopped vehicle's predictions keep advancing"`
		Alpha          float64       `conf:"help:smoothing factor of travel time statistics"`
		OutlierRatio   float64       `conf:"help:bound on traversals discarded as outliers"`
	}
	Silence      time.Duration `conf:"default:5m,help:vehicles not reporting for this long are removed"`
	EvictEvery   time.Duration `conf:"default:30s"`
	PublishEvery time.Duration `conf:"default:10s"`
	FlushEvery   time.Duration `conf:"default:1m"`
	HttpPort     int           `conf:"default:8080"`
}

func main() {
	log := logger.New(os.Stdout, "TRANSITCLOCK : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	var cfg config
	cfg.Version.SVN = build
	cfg.Version.Desc = "Match vehicle positions to trips and publish arrival predictions"
	const prefix = "TRANSITCLOCK"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			printUsage(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	pol, err := loadPolicy(cfg)
	if err != nil {
		return err
	}

	var location *time.Location
	if cfg.GTFS.Timezone != "" {
		if location, err = time.LoadLocation(cfg.GTFS.Timezone); err != nil {
			return fmt.Errorf("loading timezone %s: %w", cfg.GTFS.Timezone, err)
		}
	}

	m := metrics.New()
	defer m.Shutdown()

	// =========================================================================
	// Start Database

	var db *sqlx.DB
	if cfg.DB.Enabled {
		log.Println("main: Initializing database support")
		db, err = database.Open(database.Config{
			Driver:     cfg.DB.Driver,
			User:       cfg.DB.User,
			Password:   cfg.DB.Password,
			Host:       cfg.DB.Host,
			Name:       cfg.DB.Name,
			DisableTLS: cfg.DB.DisableTLS,
			Path:       cfg.DB.Path,
		})
		if err != nil {
			return fmt.Errorf("connecting to db: %w", err)
		}
		defer func() {
			log.Printf("main: Database Stopping : %s", cfg.DB.Host)
			err = db.Close()
			if err != nil {
				log.Printf("main: error closing database: %v", err)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = database.StatusCheck(ctx, db)
		cancel()
		if err != nil {
			return fmt.Errorf("checking db status: %w", err)
		}
		m.StartDBStatsCollector(log, db.DB, 15*time.Second)
	} else if cfg.GTFS.StaticUrl == "" {
		return errors.New("a gtfs static url is required when the database is disabled")
	}

	travelTimes := predictor.NewTravelTimes(pol.Predict)
	var recorder pipeline.Recorder
	if db != nil {
		if cfg.DB.Driver == database.DriverSqlite {
			if err = gtfs.CreateSqliteSchema(db); err != nil {
				return err
			}
			if err = traveltime.CreateSqliteSchema(db); err != nil {
				return err
			}
		}
		statistics, err := traveltime.Load(db)
		if err != nil {
			return fmt.Errorf("loading travel time statistics: %w", err)
		}
		log.Printf("main: loaded %d travel time statistics", travelTimes.Load(statistics))
		recorder = pipeline.NewDBRecorder(db)
	}

	// =========================================================================
	// Start NATS

	var natsConn *nats.Conn
	if cfg.NATS.AVLSubject != "" || cfg.NATS.FeedSubject != "" {
		log.Printf("main: Connecting to NATS at %s", cfg.NATS.Url)
		natsConn, err = nats.Connect(cfg.NATS.Url,
			nats.Name("transitclock"),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Printf("nats disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Printf("nats reconnected to %s", nc.ConnectedUrl())
			}),
		)
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		defer natsConn.Close()
	}

	// =========================================================================
	// Start Services

	clk := clock.RealClock{}
	schedules := &schedule.Reference{}
	p := pipeline.New(log, clk, pol, cfg.Silence, schedules, travelTimes, recorder, m)
	dispatcher := avlingest.NewDispatcher(log, cfg.Ingest.Workers, cfg.Ingest.QueueSize, p.Handle)

	var scheduleSource pipeline.ScheduleSource
	httpClient := httpclient.New(time.Minute)
	if cfg.GTFS.StaticUrl != "" {
		scheduleSource = pipeline.NewURLScheduleSource(httpClient, cfg.GTFS.StaticUrl, location, db)
	} else {
		if location == nil {
			location = time.Local
		}
		scheduleSource = pipeline.NewDBScheduleSource(db, location)
	}

	var destinations []feed.Destination
	if natsConn != nil && cfg.NATS.FeedSubject != "" {
		destinations = append(destinations, feed.NewNatsDestination(natsConn, cfg.NATS.FeedSubject))
	}
	publisher := feed.NewPublisher(log, p.Store(), p.Predictions(), cfg.Silence, m, destinations...)

	services := pipeline.Services{
		Clock:      clk,
		Pipeline:   p,
		Dispatcher: dispatcher,
		Loader:     pipeline.NewScheduleLoader(log, scheduleSource, schedules, pol.Match.SpatialConfig(), m),
		Publisher:  publisher,
		Handler:    feed.NewRouter(log, publisher, p.Store(), schedules, m.Handler()),
	}
	if natsConn != nil && cfg.NATS.AVLSubject != "" {
		services.NatsSource = avlingest.NewNatsSource(log, natsConn, cfg.NATS.AVLSubject, cfg.NATS.QueueGroup,
			avlingest.NewLimiter(cfg.Ingest.RatePerSecond, cfg.Ingest.RateBurst), dispatcher, clk, m)
	}
	if cfg.GTFS.VehiclePositionsUrl != "" {
		services.PollSource = avlingest.NewPollSource(log, httpClient, cfg.GTFS.VehiclePositionsUrl,
			cfg.GTFS.PollEvery, dispatcher, clk)
	}

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	pipeline.StartServices(log, pipeline.Config{
		EvictEvery:   cfg.EvictEvery,
		PublishEvery: cfg.PublishEvery,
		ReloadEvery:  cfg.GTFS.ReloadEvery,
		FlushEvery:   cfg.FlushEvery,
		HttpPort:     cfg.HttpPort,
	}, services, shutdown)
	return nil
}

//loadPolicy reads the policy file and applies the overrides set in cfg
func loadPolicy(cfg config) (policy.Policy, error) {
	pol, err := policy.Load(cfg.Policy.File)
	if err != nil {
		return pol, err
	}
	if cfg.Policy.SearchRadius > 0 {
		pol.Match.SearchRadius = cfg.Policy.SearchRadius
	}
	if cfg.Policy.MinConfidence > 0 {
		pol.Match.MinConfidence = cfg.Policy.MinConfidence
		if pol.Match.StickyMinConfidence < pol.Match.MinConfidence {
			pol.Match.StickyMinConfidence = pol.Match.MinConfidence
		}
	}
	if cfg.Policy.DwellThreshold > 0 {
		pol.Predict.DwellThreshold = cfg.Policy.DwellThreshold
	}
	if cfg.Policy.Alpha > 0 {
		pol.Predict.Alpha = cfg.Policy.Alpha
	}
	if cfg.Policy.OutlierRatio > 0 {
		pol.Predict.OutlierRatio = cfg.Policy.OutlierRatio
	}
	if err = pol.Validate(); err != nil {
		return pol, fmt.Errorf("invalid policy overrides: %w", err)
	}
	return pol, nil
}

func printUsage(confUsage string) {
	fmt.Println(confUsage)
}
