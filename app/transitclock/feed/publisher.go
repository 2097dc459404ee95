// Package feed publishes vehicle positions and predictions as gtfs-realtime feeds and serves them over http
package feed

import (
	"fmt"
	logger "log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gtfsrt "github.com/OneBusAway/go-gtfs/proto"
	"github.com/OpenTransitTools/transitclock/app/transitclock/metrics"
	"github.com/OpenTransitTools/transitclock/app/transitclock/predictor"
	"github.com/OpenTransitTools/transitclock/app/transitclock/vehiclestate"
	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/OpenTransitTools/transitclock/foundation/clock"
	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
)

//Encoded is a gtfsrt.FeedMessage and its protocol buffer bytes
type Encoded struct {
	Message *gtfsrt.FeedMessage
	Bytes   []byte
}

//Snapshot is a published view of every vehicle and its predictions, it is never modified after publishing
type Snapshot struct {
	Timestamp time.Time
	//TripUpdates and Vehicles are ordered by vehicle id
	TripUpdates []*gtfs.TripUpdate
	Vehicles    []*vehiclestate.State
	//Full contains both trip update and vehicle position entities
	Full             Encoded
	TripUpdateFeed   Encoded
	VehiclePositions Encoded
}

//Destination receives every published Snapshot
type Destination interface {
	Send(snapshot *Snapshot) error
}

//NatsDestination publishes the full feed to a nats subject
type NatsDestination struct {
	natsConn *nats.Conn
	subject  string
}

//NewNatsDestination builds a NatsDestination
func NewNatsDestination(natsConn *nats.Conn, subject string) *NatsDestination {
	return &NatsDestination{natsConn: natsConn, subject: subject}
}

//Send implements Destination
func (n *NatsDestination) Send(snapshot *Snapshot) error {
	return n.natsConn.Publish(n.subject, snapshot.Full.Bytes)
}

//Publisher builds Snapshots from the vehicle states and predictions
type Publisher struct {
	log          *logger.Logger
	store        *vehiclestate.Store
	predictions  *predictor.Predictions
	//silence is how long a vehicle may go without reports before it is left out of the feed
	silence      time.Duration
	metrics      *metrics.Metrics
	destinations []Destination
	current      atomic.Pointer[Snapshot]
}

//NewPublisher builds a Publisher, m may be nil
func NewPublisher(log *logger.Logger,
	store *vehiclestate.Store,
	predictions *predictor.Predictions,
	silence time.Duration,
	m *metrics.Metrics,
	destinations ...Destination) *Publisher {
	return &Publisher{
		log:          log,
		store:        store,
		predictions:  predictions,
		silence:      silence,
		metrics:      m,
		destinations: destinations,
	}
}

//Current returns the last published Snapshot, nil before the first Publish
func (p *Publisher) Current() *Snapshot {
	return p.current.Load()
}

//Publish builds a Snapshot as of "now", makes it Current and sends it to every Destination.
//Predictions of vehicles no longer in the store or since matched to another trip are left out, as are vehicles
//silent for longer than the silence window even when eviction has not yet removed them.
//Failing destinations are logged and do not fail the Publish
func (p *Publisher) Publish(now time.Time) (*Snapshot, error) {
	states := p.store.Snapshot()
	updates := p.predictions.Snapshot()

	expireBefore := now.Add(-p.silence)
	vehicleIds := make([]string, 0, len(states))
	for vehicleId, state := range states {
		if state.LastUpdate.Before(expireBefore) {
			continue
		}
		vehicleIds = append(vehicleIds, vehicleId)
	}
	sort.Strings(vehicleIds)

	timestamp := uint64(now.Unix())
	snapshot := &Snapshot{
		Timestamp:   now,
		TripUpdates: make([]*gtfs.TripUpdate, 0),
		Vehicles:    make([]*vehiclestate.State, 0, len(vehicleIds)),
	}
	full := newFeedMessage(timestamp)
	tripUpdateFeed := newFeedMessage(timestamp)
	vehiclePositions := newFeedMessage(timestamp)
	matched := 0
	for _, vehicleId := range vehicleIds {
		state := states[vehicleId]
		snapshot.Vehicles = append(snapshot.Vehicles, state)
		if state.Matched() {
			matched++
		}
		if entity, ok := makeVehiclePositionEntity(state); ok {
			full.Entity = append(full.Entity, entity)
			vehiclePositions.Entity = append(vehiclePositions.Entity, entity)
		}
		update, present := updates[vehicleId]
		if !present || !predictionCurrent(state, update) {
			continue
		}
		snapshot.TripUpdates = append(snapshot.TripUpdates, update)
		entity := makeTripUpdateEntity(update)
		full.Entity = append(full.Entity, entity)
		tripUpdateFeed.Entity = append(tripUpdateFeed.Entity, entity)
	}

	var err error
	if snapshot.Full, err = encode(full); err != nil {
		return nil, err
	}
	if snapshot.TripUpdateFeed, err = encode(tripUpdateFeed); err != nil {
		return nil, err
	}
	if snapshot.VehiclePositions, err = encode(vehiclePositions); err != nil {
		return nil, err
	}
	p.current.Store(snapshot)

	if p.metrics != nil {
		p.metrics.Vehicles.Set(float64(len(snapshot.Vehicles)))
		p.metrics.MatchedVehicles.Set(float64(matched))
		p.metrics.PredictedVehicles.Set(float64(len(snapshot.TripUpdates)))
	}
	for _, destination := range p.destinations {
		result := "ok"
		if sendErr := destination.Send(snapshot); sendErr != nil {
			result = "error"
			p.log.Printf("unable to send feed to destination, error:%v", sendErr)
		}
		if p.metrics != nil {
			p.metrics.FeedPublishTotal.WithLabelValues(result).Inc()
		}
	}
	return snapshot, nil
}

//predictionCurrent returns true if update was made for the trip the vehicle in state is on
func predictionCurrent(state *vehiclestate.State, update *gtfs.TripUpdate) bool {
	return state.Matched() &&
		update.TripId == state.Trip.TripId() &&
		update.ServiceDate.Equal(state.Trip.ServiceDate)
}

func encode(message *gtfsrt.FeedMessage) (Encoded, error) {
	bytes, err := proto.MarshalOptions{Deterministic: true}.Marshal(message)
	if err != nil {
		return Encoded{}, fmt.Errorf("unable to marshal gtfsrt.FeedMessage: %w", err)
	}
	return Encoded{Message: message, Bytes: bytes}, nil
}

//Run publishes every "every" until shutdownSignal
func (p *Publisher) Run(wg *sync.WaitGroup, clk clock.Clock, every time.Duration, shutdownSignal chan bool) {
	defer wg.Done()
	sleepChan := make(chan bool, 1)
	for {
		go func() {
			time.Sleep(every)
			sleepChan <- true
		}()

		select {
		case <-shutdownSignal:
			p.log.Printf("Exiting feed publisher on shutdown signal")
			return
		case <-sleepChan:
		}

		snapshot, err := p.Publish(clk.Now())
		if err != nil {
			p.log.Printf("unable to publish feed, error:%v", err)
			continue
		}
		p.log.Printf("published feed with %d vehicles and %d trip updates", len(snapshot.Vehicles),
			len(snapshot.TripUpdates))
	}
}
