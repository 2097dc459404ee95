package avlingest

import (
	"context"
	logger "log"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitclock/app/transitclock/metrics"
	"github.com/OpenTransitTools/transitclock/business/data/avl"
	"github.com/OpenTransitTools/transitclock/foundation/clock"
	"github.com/OpenTransitTools/transitclock/foundation/httpclient"
	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"
)

//NewLimiter returns a rate.Limiter allowing perSecond reports with bursts of burst, perSecond <= 0 is unlimited
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

//Submitter accepts reports, implemented by Dispatcher
type Submitter interface {
	Submit(ctx context.Context, report avl.Report) error
}

//NatsSource subscribes to json avl.Reports on a nats subject
type NatsSource struct {
	log        *logger.Logger
	natsConn   *nats.Conn
	subject    string
	queueGroup string
	limiter    *rate.Limiter
	submitter  Submitter
	clock      clock.Clock
	metrics    *metrics.Metrics
}

//NewNatsSource builds a NatsSource, m may be nil
func NewNatsSource(log *logger.Logger,
	natsConn *nats.Conn,
	subject string,
	queueGroup string,
	limiter *rate.Limiter,
	submitter Submitter,
	clk clock.Clock,
	m *metrics.Metrics) *NatsSource {
	return &NatsSource{
		log:        log,
		natsConn:   natsConn,
		subject:    subject,
		queueGroup: queueGroup,
		limiter:    limiter,
		submitter:  submitter,
		clock:      clk,
		metrics:    m,
	}
}

//Run receives reports until shutdownSignal, returns an error if the subscription can not be made
func (n *NatsSource) Run(wg *sync.WaitGroup, shutdownSignal chan bool) error {
	defer wg.Done()
	ch := make(chan *nats.Msg, 256)
	n.log.Printf("Subscribing to %s in queue group %s on nats: %v", n.subject, n.queueGroup, n.natsConn.Servers())
	sub, err := n.natsConn.ChanQueueSubscribe(n.subject, n.queueGroup, ch)
	if err != nil {
		n.log.Printf("Unable to establish subscription to nats server: %v", err)
		return err
	}
	for {
		select {
		case msg := <-ch:
			n.handle(msg.Data)
		case <-shutdownSignal:
			n.log.Printf("ending avl listener on shutdown signal")
			unsubscribe(n.log, sub, n.subject)
			return nil
		}
	}
}

//handle decodes and submits a single message
func (n *NatsSource) handle(data []byte) {
	if !n.limiter.Allow() {
		n.count(metrics.OutcomeRateLimited)
		return
	}
	report, err := avl.DecodeJSON(data, n.clock.Now(), "nats")
	if err != nil {
		n.count(metrics.OutcomeMalformed)
		return
	}
	if err = n.submitter.Submit(context.Background(), report); err != nil {
		n.log.Printf("unable to submit report for vehicle %s: %v", report.VehicleId, err)
	}
}

func (n *NatsSource) count(outcome string) {
	if n.metrics != nil {
		n.metrics.ReportsTotal.WithLabelValues(outcome).Inc()
	}
}

//unsubscribe convenience function for unsubscribing from a NATS subscription, and logging the results.
func unsubscribe(log *logger.Logger, sub *nats.Subscription, subject string) {
	if !sub.IsValid() {
		return
	}
	log.Printf("Unsubscribing from %s", subject)
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("error when attempting to unsubscribe from %s: %v", subject, err)
	}
}

//PollSource polls a gtfs-realtime VehiclePositions feed
type PollSource struct {
	log       *logger.Logger
	client    *httpclient.Client
	url       string
	every     time.Duration
	submitter Submitter
	clock     clock.Clock
	//lastSeen is the timestamp of the latest report submitted for each vehicle
	lastSeen map[string]time.Time
}

//NewPollSource builds a PollSource
func NewPollSource(log *logger.Logger,
	client *httpclient.Client,
	url string,
	every time.Duration,
	submitter Submitter,
	clk clock.Clock) *PollSource {
	return &PollSource{
		log:       log,
		client:    client,
		url:       url,
		every:     every,
		submitter: submitter,
		clock:     clk,
		lastSeen:  make(map[string]time.Time),
	}
}

//Poll fetches the feed once and submits every report newer than the last submitted for its vehicle.
//returns the number of reports submitted
func (p *PollSource) Poll(ctx context.Context) (int, error) {
	data, _, err := p.client.Fetch(ctx, p.url)
	if err != nil {
		return 0, err
	}
	reports, skipped, err := avl.ParseVehiclePositions(data, p.clock.Now(), "gtfs-rt")
	if err != nil {
		return 0, err
	}
	if skipped > 0 {
		p.log.Printf("skipped %d vehicle positions without vehicle id or position", skipped)
	}
	submitted := 0
	for _, report := range reports {
		if last, seen := p.lastSeen[report.VehicleId]; seen && !report.Timestamp.After(last) {
			continue
		}
		if err = p.submitter.Submit(ctx, report); err != nil {
			return submitted, err
		}
		p.lastSeen[report.VehicleId] = report.Timestamp
		submitted++
	}
	return submitted, nil
}

//forget removes vehicles not reported since before expireBefore so lastSeen does not grow without bound
func (p *PollSource) forget(expireBefore time.Time) {
	for vehicleId, last := range p.lastSeen {
		if last.Before(expireBefore) {
			delete(p.lastSeen, vehicleId)
		}
	}
}

//Run polls every p.every until shutdownSignal, attempting to keep to the cadence by subtracting the time the
//work took
func (p *PollSource) Run(wg *sync.WaitGroup, shutdownSignal chan bool) {
	defer wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleepChan := make(chan bool, 1)
	sleep := time.Duration(0)
	for {
		go func(sleep time.Duration) {
			time.Sleep(sleep)
			sleepChan <- true
		}(sleep)

		select {
		case <-shutdownSignal:
			p.log.Printf("Exiting gtfs-rt poller on shutdown signal")
			return
		case <-sleepChan:
		}

		sleep = p.every
		start := time.Now()
		submitted, err := p.Poll(ctx)
		if err != nil {
			p.log.Printf("error attempting to get vehicle positions. error:%v", err)
			continue
		}
		p.forget(p.clock.Now().Add(-time.Hour))
		workTook := time.Since(start)
		p.log.Printf("submitted %d vehicle positions in %s", submitted, workTook)
		if workTook >= p.every {
			sleep = 0
		} else {
			sleep = p.every - workTook
		}
	}
}
