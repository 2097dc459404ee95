// Package pipeline connects the matcher, predictor and vehicle state store into the report processing path and runs
// the background loops maintaining them
package pipeline

import (
	"context"
	"errors"
	logger "log"
	"sort"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitclock/app/transitclock/matcher"
	"github.com/OpenTransitTools/transitclock/app/transitclock/metrics"
	"github.com/OpenTransitTools/transitclock/app/transitclock/policy"
	"github.com/OpenTransitTools/transitclock/app/transitclock/predictor"
	"github.com/OpenTransitTools/transitclock/app/transitclock/vehiclestate"
	"github.com/OpenTransitTools/transitclock/business/data/avl"
	"github.com/OpenTransitTools/transitclock/business/schedule"
	"github.com/OpenTransitTools/transitclock/foundation/clock"
)

//Pipeline processes reports through matching and prediction
type Pipeline struct {
	log         *logger.Logger
	clock       clock.Clock
	schedules   *schedule.Reference
	store       *vehiclestate.Store
	matcher     *matcher.Engine
	predictor   *predictor.Engine
	travelTimes *predictor.TravelTimes
	recorder    Recorder
	metrics     *metrics.Metrics
	silence     time.Duration

	//held are the latest reports of each vehicle rejected because no schedule was loaded
	heldMu sync.Mutex
	held   map[string]avl.Report
}

//New builds a Pipeline with an empty vehiclestate.Store.
//recorder may be nil when nothing is persisted
func New(log *logger.Logger,
	clk clock.Clock,
	pol policy.Policy,
	silence time.Duration,
	schedules *schedule.Reference,
	travelTimes *predictor.TravelTimes,
	recorder Recorder,
	m *metrics.Metrics) *Pipeline {
	store := vehiclestate.NewStore()
	return &Pipeline{
		log:         log,
		clock:       clk,
		schedules:   schedules,
		store:       store,
		matcher:     matcher.NewEngine(pol.Match, schedules, store, clk),
		predictor:   predictor.NewEngine(pol.Predict, schedules, travelTimes, predictor.NewPredictions()),
		travelTimes: travelTimes,
		recorder:    recorder,
		metrics:     m,
		silence:     silence,
		held:        make(map[string]avl.Report),
	}
}

//Store returns the vehicle states
func (p *Pipeline) Store() *vehiclestate.Store {
	return p.store
}

//Predictions returns the current predictions
func (p *Pipeline) Predictions() *predictor.Predictions {
	return p.predictor.Predictions()
}

//HandleReport matches report, recomputes the vehicle's predictions and learns from any trip the vehicle left.
//returns the error the report was rejected with
func (p *Pipeline) HandleReport(ctx context.Context, report avl.Report) error {
	start := p.clock.Now()
	if !report.ReceivedAt.IsZero() && !report.Timestamp.IsZero() {
		p.metrics.ReportLatency.Observe(report.ReceivedAt.Sub(report.Timestamp).Seconds())
	}
	result, err := p.matcher.Process(ctx, report)
	if err != nil {
		p.metrics.ReportProcessed(result.Outcome, err, p.clock.Now().Sub(start))
		return err
	}
	if result.Transition != nil {
		p.finishTrip(result.Transition)
	}
	p.predictor.Recompute(result.State)
	p.metrics.ReportProcessed(result.Outcome, nil, p.clock.Now().Sub(start))
	return nil
}

//Handle processes report, logging only errors that are not an expected rejection.
//A report rejected because no schedule is loaded is held until ReplayHeld
func (p *Pipeline) Handle(ctx context.Context, report avl.Report) {
	err := p.HandleReport(ctx, report)
	if errors.Is(err, schedule.ErrNotLoaded) {
		p.hold(report)
		return
	}
	if err != nil && metrics.OutcomeLabel(matcher.OutcomeUnmatched, err) == metrics.OutcomeFailed &&
		!errors.Is(err, context.Canceled) {
		p.log.Printf("unable to process report from vehicle %s: %v", report.VehicleId, err)
	}
}

//hold keeps report unless a later report from the vehicle is already held
func (p *Pipeline) hold(report avl.Report) {
	p.heldMu.Lock()
	defer p.heldMu.Unlock()
	if current, present := p.held[report.VehicleId]; present && !report.Timestamp.After(current.Timestamp) {
		return
	}
	p.held[report.VehicleId] = report
}

//ReplayHeld processes the reports held while no schedule was loaded.
//Reports still rejected for lack of a schedule are held again.
//returns the number of reports processed
func (p *Pipeline) ReplayHeld(ctx context.Context) int {
	p.heldMu.Lock()
	held := p.held
	p.held = make(map[string]avl.Report)
	p.heldMu.Unlock()

	vehicleIds := make([]string, 0, len(held))
	for vehicleId := range held {
		vehicleIds = append(vehicleIds, vehicleId)
	}
	sort.Strings(vehicleIds)
	processed := 0
	for _, vehicleId := range vehicleIds {
		report := held[vehicleId]
		err := p.HandleReport(ctx, report)
		if errors.Is(err, schedule.ErrNotLoaded) {
			p.hold(report)
			continue
		}
		processed++
	}
	return processed
}

//finishTrip updates travel time statistics from the stops passed on the trip a vehicle left and records them
func (p *Pipeline) finishTrip(transition *vehiclestate.TripTransition) {
	traversals, rejected := p.predictor.TripCompleted(transition)
	if len(traversals) == 0 {
		return
	}
	p.metrics.StatisticUpdates(len(traversals)-rejected, rejected)
	if p.recorder == nil {
		return
	}
	observations := observedStopTimes(transition, p.schedules.Version(), traversals)
	if err := p.recorder.RecordObservedStopTimes(observations); err != nil {
		p.log.Printf("failed to record %d observed stop times for vehicle %s on trip %s, error:%v",
			len(observations), transition.VehicleId, transition.From.TripId(), err)
	}
}

//Evict removes vehicles not heard from within the silence window and retracts their predictions.
//A trip in progress is finished with the stops passed so far.
//returns the number of vehicles removed
func (p *Pipeline) Evict(now time.Time) int {
	evicted := p.store.Evict(now, p.silence)
	if len(evicted) == 0 {
		return 0
	}
	vehicleIds := make([]string, 0, len(evicted))
	for _, state := range evicted {
		vehicleIds = append(vehicleIds, state.VehicleId)
		if state.Matched() && len(state.StopPasses) > 1 {
			p.finishTrip(&vehiclestate.TripTransition{
				VehicleId:  state.VehicleId,
				From:       state.Trip,
				StopPasses: state.StopPasses,
				At:         now,
			})
		}
	}
	p.predictor.Retract(vehicleIds...)
	p.metrics.EvictionsTotal.Add(float64(len(evicted)))
	return len(evicted)
}

//FlushStatistics records travel time statistics changed since the last flush.
//Statistics that fail to record are flushed again next time
func (p *Pipeline) FlushStatistics() (int, error) {
	if p.recorder == nil {
		return 0, nil
	}
	dirty := p.travelTimes.TakeDirty()
	if len(dirty) == 0 {
		return 0, nil
	}
	if err := p.recorder.RecordStatistics(dirty); err != nil {
		p.travelTimes.MarkDirty(dirty)
		return 0, err
	}
	return len(dirty), nil
}
