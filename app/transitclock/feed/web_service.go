package feed

import (
	"context"
	"encoding/json"
	logger "log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitclock/app/transitclock/vehiclestate"
	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/OpenTransitTools/transitclock/business/schedule"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/twpayne/go-polyline"
	"google.golang.org/protobuf/encoding/prototext"
)

//defaultHttpHandler simple default http handler for default route
type defaultHttpHandler struct {
}

//ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Application-Status", "OK")
}

//feedHandler serves one of the feeds of the current Snapshot
type feedHandler struct {
	log       *logger.Logger
	publisher *Publisher
	//encoded selects the feed served from a Snapshot
	encoded func(snapshot *Snapshot) Encoded
	//asJson builds the json response from a Snapshot
	asJson func(snapshot *Snapshot) any
}

//ServeHTTP implements feedHandler's http.Handler interface
func (f *feedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := f.publisher.Current()
	if snapshot == nil {
		http.Error(w, "feed not yet published", http.StatusServiceUnavailable)
		return
	}
	asText := strings.ToLower(r.FormValue("text")) == "true"
	asJson := strings.ToLower(r.FormValue("json")) == "true"
	switch {
	case asJson:
		writeJson(f.log, w, f.asJson(snapshot))
	case asText:
		f.writeProtocolBufferAsText(f.encoded(snapshot), w)
	default:
		f.writeProtocolBuffer(f.encoded(snapshot), w)
	}
}

//writeProtocolBuffer writes the pre-marshaled feed to http.ResponseWriter
func (f *feedHandler) writeProtocolBuffer(encoded Encoded, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/x-protobuf")
	if _, err := w.Write(encoded.Bytes); err != nil {
		f.log.Printf("Error writing bytes to http.ResponseWriter, error:%s", err)
	}
}

//writeProtocolBufferAsText write plain text formatting of the feed to http.ResponseWriter
func (f *feedHandler) writeProtocolBufferAsText(encoded Encoded, w http.ResponseWriter) {
	stringResponse := prototext.MarshalOptions{Multiline: true}.Format(encoded.Message)
	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte(stringResponse)); err != nil {
		f.log.Printf("Error writing bytes to http.ResponseWriter, error:%s", err)
	}
}

//JsonTripUpdateResponseWrapper provides json response wrapper around gtfs.TripUpdates
type JsonTripUpdateResponseWrapper struct {
	Timestamp   uint64             `json:"timestamp"`
	TripUpdates []*gtfs.TripUpdate `json:"trip_updates"`
}

//JsonVehicleResponseWrapper provides json response wrapper around vehicle states
type JsonVehicleResponseWrapper struct {
	Timestamp uint64 `json:"timestamp"`
	Vehicles  []any  `json:"vehicles"`
}

func tripUpdatesJson(snapshot *Snapshot) any {
	return &JsonTripUpdateResponseWrapper{
		Timestamp:   uint64(snapshot.Timestamp.Unix()),
		TripUpdates: snapshot.TripUpdates,
	}
}

func vehiclesJson(snapshot *Snapshot) any {
	vehicles := make([]any, 0, len(snapshot.Vehicles))
	for _, state := range snapshot.Vehicles {
		vehicles = append(vehicles, state.View())
	}
	return &JsonVehicleResponseWrapper{
		Timestamp: uint64(snapshot.Timestamp.Unix()),
		Vehicles:  vehicles,
	}
}

//vehicleHandler serves the current state of a single vehicle
type vehicleHandler struct {
	log   *logger.Logger
	store *vehiclestate.Store
}

func (v *vehicleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	state, ok := v.store.Get(mux.Vars(r)["vehicleId"])
	if !ok {
		http.Error(w, "vehicle not found", http.StatusNotFound)
		return
	}
	writeJson(v.log, w, state.View())
}

//JsonShapeResponse is the shape a trip follows as an encoded polyline
type JsonShapeResponse struct {
	TripId   string  `json:"trip_id"`
	ShapeId  string  `json:"shape_id"`
	Length   float64 `json:"length"`
	Polyline string  `json:"polyline"`
}

//shapeHandler serves the shape of a trip in the current schedule
type shapeHandler struct {
	log       *logger.Logger
	schedules *schedule.Reference
}

func (s *shapeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.schedules.Current()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	trip, ok := snapshot.Trip(mux.Vars(r)["tripId"])
	if !ok {
		http.Error(w, "trip not found", http.StatusNotFound)
		return
	}
	points := snapshot.Index().ShapePoints(trip.ShapeId)
	coords := make([][]float64, 0, len(points))
	for _, point := range points {
		coords = append(coords, []float64{point.Lat, point.Lon})
	}
	writeJson(s.log, w, &JsonShapeResponse{
		TripId:   trip.TripId,
		ShapeId:  trip.ShapeId,
		Length:   trip.Length,
		Polyline: string(polyline.EncodeCoords(coords)),
	})
}

//writeJson marshals response as json to http.ResponseWriter
func writeJson(log *logger.Logger, w http.ResponseWriter, response any) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		log.Printf("Error marshaling response to json: error:%v", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(jsonData); err != nil {
		log.Printf("Error writing json response: %s", err)
	}
}

//NewRouter builds the http.Handler serving the feeds, vehicle states, trip shapes and metricsHandler
func NewRouter(log *logger.Logger,
	publisher *Publisher,
	store *vehiclestate.Store,
	schedules *schedule.Reference,
	metricsHandler http.Handler) http.Handler {
	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{})
	r.Handle("/tripUpdates", &feedHandler{
		log:       log,
		publisher: publisher,
		encoded:   func(snapshot *Snapshot) Encoded { return snapshot.TripUpdateFeed },
		asJson:    tripUpdatesJson,
	}).Methods(http.MethodGet)
	r.Handle("/vehiclePositions", &feedHandler{
		log:       log,
		publisher: publisher,
		encoded:   func(snapshot *Snapshot) Encoded { return snapshot.VehiclePositions },
		asJson:    vehiclesJson,
	}).Methods(http.MethodGet)
	r.Handle("/vehicles/{vehicleId}", &vehicleHandler{log: log, store: store}).Methods(http.MethodGet)
	r.Handle("/trips/{tripId}/shape", &shapeHandler{log: log, schedules: schedules}).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	return gzhttp.GzipHandler(r)
}

//createServer creates configured http.Server for handler
func createServer(handler http.Handler, httpPort int) *http.Server {
	return &http.Server{
		Addr:         strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      handler,
	}
}

//RunWebService serves handler on httpPort and terminates on shutdown signal
func RunWebService(log *logger.Logger,
	wg *sync.WaitGroup,
	handler http.Handler,
	httpPort int,
	shutdownSignal chan bool) {
	defer wg.Done()
	srv := createServer(handler, httpPort)
	log.Printf("Starting server on port %d", httpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("server ListenAndServe ended. %s", err)
		}
	}()

	<-shutdownSignal
	log.Printf("ending webservice on shutdown signal")
	shutdownCtx, serverCancelFunc := context.WithTimeout(context.Background(), time.Duration(5)*time.Second)
	defer serverCancelFunc()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down webservice, error:%s", err)
	}
}
