package pipeline

import (
	"context"
	logger "log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitclock/app/transitclock/avlingest"
	"github.com/OpenTransitTools/transitclock/app/transitclock/feed"
	"github.com/OpenTransitTools/transitclock/foundation/clock"
)

//Config of the background loops and web service
type Config struct {
	EvictEvery   time.Duration
	PublishEvery time.Duration
	ReloadEvery  time.Duration
	FlushEvery   time.Duration
	HttpPort     int
}

//Services are the components run by StartServices
type Services struct {
	Clock      clock.Clock
	Pipeline   *Pipeline
	Dispatcher *avlingest.Dispatcher
	Loader     *ScheduleLoader
	Publisher  *feed.Publisher
	Handler    http.Handler
	//NatsSource and PollSource are optional
	NatsSource *avlingest.NatsSource
	PollSource *avlingest.PollSource
}

//StartServices loads the schedule and brings up the report sources, background loops and web service.
//On shutdown signal the sources are stopped first, then queued reports are processed before the loops and finally
//the web service are stopped
func StartServices(log *logger.Logger, cfg Config, services Services, shutdownSignal chan os.Signal) {
	if _, err := services.Loader.Reload(context.Background(), services.Clock.Now()); err != nil {
		log.Printf("unable to load schedule, will retry in %v. error: %v", cfg.ReloadEvery, err)
	}
	replayHeld(log, services.Pipeline)

	sourcesWg := sync.WaitGroup{}
	loopsWg := sync.WaitGroup{}
	webWg := sync.WaitGroup{}

	//create shutdown channels
	sourceShutdowns := make([]chan bool, 0)
	loopShutdowns := make([]chan bool, 0)
	webServiceShutdown := make(chan bool, 1)

	//start the web service first so the feed is available while the sources start
	webWg.Add(1)
	go feed.RunWebService(log, &webWg, services.Handler, cfg.HttpPort, webServiceShutdown)

	loops := []struct {
		name  string
		every time.Duration
		work  func()
	}{
		{name: "eviction", every: cfg.EvictEvery, work: func() { evict(log, services) }},
		{name: "schedule reload", every: cfg.ReloadEvery, work: func() { reload(log, services) }},
		{name: "statistics flush", every: cfg.FlushEvery, work: func() { flush(log, services.Pipeline) }},
	}
	for _, loop := range loops {
		loopShutdown := make(chan bool, 1)
		loopShutdowns = append(loopShutdowns, loopShutdown)
		loopsWg.Add(1)
		go runBackgroundLoop(log, &loopsWg, loop.name, loop.every, loop.work, loopShutdown)
	}
	publisherShutdown := make(chan bool, 1)
	loopShutdowns = append(loopShutdowns, publisherShutdown)
	loopsWg.Add(1)
	go services.Publisher.Run(&loopsWg, services.Clock, cfg.PublishEvery, publisherShutdown)

	if services.NatsSource != nil {
		natsShutdown := make(chan bool, 1)
		sourceShutdowns = append(sourceShutdowns, natsShutdown)
		sourcesWg.Add(1)
		go func() {
			if err := services.NatsSource.Run(&sourcesWg, natsShutdown); err != nil {
				log.Printf("nats avl source stopped: %v", err)
			}
		}()
	}
	if services.PollSource != nil {
		pollShutdown := make(chan bool, 1)
		sourceShutdowns = append(sourceShutdowns, pollShutdown)
		sourcesWg.Add(1)
		go services.PollSource.Run(&sourcesWg, pollShutdown)
	}

	<-shutdownSignal
	log.Printf("Exiting on shutdown signal, shutting down subroutines")
	signalAll(sourceShutdowns)
	sourcesWg.Wait()
	log.Printf("avl sources stopped, processing queued reports")
	services.Dispatcher.Close()

	signalAll(loopShutdowns)
	loopsWg.Wait()
	flush(log, services.Pipeline)

	webServiceShutdown <- true
	webWg.Wait()
	log.Printf("Subroutines shut down, exiting transitclock")
}

//signalAll sends to every shutdown channel, they are buffered and read at most once
func signalAll(shutdowns []chan bool) {
	for _, shutdown := range shutdowns {
		shutdown <- true
	}
}

//runBackgroundLoop runs work every "every" until shutdownSignal
func runBackgroundLoop(log *logger.Logger,
	wg *sync.WaitGroup,
	name string,
	every time.Duration,
	work func(),
	shutdownSignal chan bool) {
	defer wg.Done()

	sleepChan := make(chan bool, 1)
	for {
		go func() {
			time.Sleep(every)
			sleepChan <- true
		}()

		select {
		case <-shutdownSignal:
			log.Printf("Exiting %s loop on shutdown signal", name)
			return
		case <-sleepChan:
		}

		work()
	}
}

func evict(log *logger.Logger, services Services) {
	removed := services.Pipeline.Evict(services.Clock.Now())
	if removed > 0 {
		log.Printf("Evicted %d silent vehicles, %d remain", removed, services.Pipeline.Store().Len())
	}
}

func reload(log *logger.Logger, services Services) {
	if _, err := services.Loader.Reload(context.Background(), services.Clock.Now()); err != nil {
		log.Printf("unable to reload schedule from %s, error:%v", services.Loader.source, err)
	}
	replayHeld(log, services.Pipeline)
}

//replayHeld processes reports which arrived before the first schedule was loaded
func replayHeld(log *logger.Logger, p *Pipeline) {
	if replayed := p.ReplayHeld(context.Background()); replayed > 0 {
		log.Printf("Processed %d reports held until the schedule loaded", replayed)
	}
}

func flush(log *logger.Logger, p *Pipeline) {
	flushed, err := p.FlushStatistics()
	if err != nil {
		log.Printf("failed to record travel time statistics, error:%v", err)
		return
	}
	if flushed > 0 {
		log.Printf("Recorded %d travel time statistics", flushed)
	}
}
