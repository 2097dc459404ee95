// Package avlingest receives avl reports from nats and gtfs-realtime feeds and hands each vehicle's reports, in
// order, to a single worker
package avlingest

import (
	"context"
	"errors"
	"hash/fnv"
	logger "log"
	"sync"

	"github.com/OpenTransitTools/transitclock/business/data/avl"
)

//ErrShuttingDown is returned by Submit once the Dispatcher is closing
var ErrShuttingDown = errors.New("dispatcher shutting down")

//Handler processes a single report
type Handler func(ctx context.Context, report avl.Report)

//Dispatcher fans reports out to a fixed number of workers.
//All reports of a vehicle go to the same worker so they are handled in the order submitted
type Dispatcher struct {
	log     *logger.Logger
	handler Handler
	queues  []chan avl.Report
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

//NewDispatcher starts workers goroutines each with a queue of queueSize reports
func NewDispatcher(log *logger.Logger, workers int, queueSize int, handler Handler) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		log:     log,
		handler: handler,
		queues:  make([]chan avl.Report, workers),
	}
	for i := range d.queues {
		d.queues[i] = make(chan avl.Report, queueSize)
		d.wg.Add(1)
		go d.work(d.queues[i])
	}
	return d
}

func (d *Dispatcher) work(queue chan avl.Report) {
	defer d.wg.Done()
	for report := range queue {
		d.handler(context.Background(), report)
	}
}

//shard returns the index of the worker handling vehicleId
func (d *Dispatcher) shard(vehicleId string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(vehicleId))
	return int(h.Sum32() % uint32(len(d.queues)))
}

//Submit queues report for its vehicle's worker, blocking while the queue is full.
//returns ErrShuttingDown after Close, or ctx.Err() if ctx ends first
func (d *Dispatcher) Submit(ctx context.Context, report avl.Report) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrShuttingDown
	}
	select {
	case d.queues[d.shard(report.VehicleId)] <- report:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

//Close stops accepting reports and waits for the workers to finish those already queued
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, queue := range d.queues {
		close(queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.log.Printf("dispatcher closed, all queued reports handled")
}
