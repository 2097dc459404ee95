package spatial

import (
	"math"
	"testing"

	"github.com/matryer/is"
)

// eastbound is a straight shape along latitude 45 about 787 meters long
var eastbound = []Point{
	{Lat: 45, Lon: -122.000},
	{Lat: 45, Lon: -121.998},
	{Lat: 45, Lon: -121.996},
	{Lat: 45, Lon: -121.994},
	{Lat: 45, Lon: -121.992},
	{Lat: 45, Lon: -121.990},
}

func reversed(points []Point) []Point {
	result := make([]Point, len(points))
	for i, p := range points {
		result[len(points)-1-i] = p
	}
	return result
}

// loop travels east then returns west 30 meters north of the outbound leg
var loop = []Point{
	{Lat: 45, Lon: -122.000},
	{Lat: 45, Lon: -121.990},
	{Lat: 45.00027, Lon: -121.990},
	{Lat: 45.00027, Lon: -122.000},
}

func float64Ptr(f float64) *float64 {
	return &f
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{name: "same point", lat1: 45, lon1: -122, lat2: 45, lon2: -122, want: 0},
		{name: "one degree of latitude", lat1: 45, lon1: -122, lat2: 46, lon2: -122, want: 111300, tolerance: 1},
		{name: "longitude scaled by latitude", lat1: 45, lon1: -122, lat2: 45, lon2: -121.99, want: 787, tolerance: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("Distance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBearingAndHeadingDelta(t *testing.T) {
	is := is.New(t)
	is.True(math.Abs(Bearing(45, -122, 46, -122)) < 0.001)
	is.True(math.Abs(Bearing(45, -122, 45, -121.99)-90) < 0.01)
	is.True(math.Abs(Bearing(45, -122, 44, -122)-180) < 0.001)
	is.True(math.Abs(Bearing(45, -122, 45, -122.01)-270) < 0.01)
	is.Equal(HeadingDelta(350, 10), 20.0)
	is.Equal(HeadingDelta(10, 350), 20.0)
	is.Equal(HeadingDelta(90, 270), 180.0)
}

func TestCalculateBounds(t *testing.T) {
	is := is.New(t)
	b := CalculateBounds(45, -122, 200)
	is.True(b.MinLat < 45 && b.MaxLat > 45)
	is.True(b.MinLon < -122 && b.MaxLon > -122)
	is.True(math.Abs(Distance(45, -122, b.MaxLat, -122)-200) < 2)
	is.True(math.Abs(Distance(45, -122, 45, b.MaxLon)-200) < 2)
}

func TestIndex_NearestSegments(t *testing.T) {
	tests := []struct {
		name        string
		shapes      map[string][]Point
		cfg         Config
		lat, lon    float64
		heading     *float64
		wantShapes  []string
		wantAlong   []float64
		wantMaxDist float64
	}{
		{
			name:        "nothing nearby is an empty result",
			shapes:      map[string][]Point{"east": eastbound},
			lat:         45.01,
			lon:         -122.0,
			wantShapes:  []string{},
			wantMaxDist: 0,
		},
		{
			name:        "one candidate per stretch of shape",
			shapes:      map[string][]Point{"east": eastbound},
			lat:         45.00045, // about 50 meters north
			lon:         -121.998,
			wantShapes:  []string{"east"},
			wantAlong:   []float64{157.4},
			wantMaxDist: 51,
		},
		{
			name:        "heading orders overlapping shapes eastbound",
			shapes:      map[string][]Point{"east": eastbound, "west": reversed(eastbound)},
			lat:         45.0001,
			lon:         -121.997,
			heading:     float64Ptr(85),
			wantShapes:  []string{"east", "west"},
			wantMaxDist: 12,
		},
		{
			name:        "heading orders overlapping shapes westbound",
			shapes:      map[string][]Point{"east": eastbound, "west": reversed(eastbound)},
			lat:         45.0001,
			lon:         -121.997,
			heading:     float64Ptr(265),
			wantShapes:  []string{"west", "east"},
			wantMaxDist: 12,
		},
		{
			name:        "a loop passing the same place twice yields two candidates",
			shapes:      map[string][]Point{"loop": loop},
			lat:         45.000135,
			lon:         -121.9995,
			wantShapes:  []string{"loop", "loop"},
			wantAlong:   []float64{39.4, 1564.7},
			wantMaxDist: 16,
		},
		{
			name: "candidates limited by MaxCandidates",
			shapes: map[string][]Point{
				"a": eastbound,
				"b": reversed(eastbound),
				"c": eastbound,
			},
			cfg:         Config{MaxCandidates: 2},
			lat:         45.0001,
			lon:         -121.997,
			wantShapes:  []string{"a", "b"},
			wantMaxDist: 12,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			idx := NewIndex(tt.shapes, tt.cfg)
			got := idx.NearestSegments(tt.lat, tt.lon, tt.heading)
			is.True(got != nil)
			is.Equal(len(got), len(tt.wantShapes))
			for i, candidate := range got {
				is.Equal(candidate.Segment.ShapeId, tt.wantShapes[i])
				is.True(candidate.Distance <= tt.wantMaxDist)
				if i > 0 {
					is.True(got[i-1].Distance <= candidate.Distance+distanceTieTolerance)
				}
				if tt.heading == nil {
					is.True(candidate.HeadingDelta == nil)
				} else {
					is.True(candidate.HeadingDelta != nil)
				}
				if tt.wantAlong != nil && math.Abs(candidate.DistanceAlongShape-tt.wantAlong[i]) > 2 {
					t.Errorf("candidate %d DistanceAlongShape = %v, want %v", i, candidate.DistanceAlongShape,
						tt.wantAlong[i])
				}
			}
		})
	}
}

func TestIndex_NearestSegmentsNilIndex(t *testing.T) {
	var idx *Index
	if got := idx.NearestSegments(45, -122, nil); len(got) != 0 {
		t.Errorf("expected no candidates from nil index, got %d", len(got))
	}
}

func TestIndex_ProjectOnShape(t *testing.T) {
	idx := NewIndex(map[string][]Point{"loop": loop}, Config{})
	tests := []struct {
		name      string
		shapeId   string
		min, max  float64
		wantOk    bool
		wantAlong float64
	}{
		{name: "outbound window", shapeId: "loop", min: 0, max: 500, wantOk: true, wantAlong: 39.4},
		{name: "return window", shapeId: "loop", min: 1000, max: 1700, wantOk: true, wantAlong: 1564.7},
		{name: "window ahead of position is clamped to its start", shapeId: "loop", min: 100, max: 300,
			wantOk: true, wantAlong: 100},
		{name: "unknown shape", shapeId: "missing", min: 0, max: 500},
		{name: "empty window", shapeId: "loop", min: 500, max: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := idx.ProjectOnShape(tt.shapeId, 45.000135, -121.9995, tt.min, tt.max)
			if ok != tt.wantOk {
				t.Fatalf("ProjectOnShape() ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if math.Abs(got.DistanceAlongShape-tt.wantAlong) > 2 {
				t.Errorf("ProjectOnShape() DistanceAlongShape = %v, want %v", got.DistanceAlongShape, tt.wantAlong)
			}
		})
	}
}

func TestIndex_ShapeAccessors(t *testing.T) {
	is := is.New(t)
	idx := NewIndex(map[string][]Point{"east": eastbound, "single": {{Lat: 45, Lon: -122}}}, Config{})
	is.Equal(idx.Len(), 5)
	is.Equal(idx.Config().SearchRadius, DefaultSearchRadius)
	is.Equal(idx.Config().MaxCandidates, DefaultMaxCandidates)
	is.Equal(len(idx.ShapePoints("east")), len(eastbound))
	is.True(idx.ShapePoints("single") == nil)

	length, ok := idx.ShapeLength("east")
	is.True(ok)
	is.True(math.Abs(length-787) < 1)

	start, ok := idx.PointAt("east", -5)
	is.True(ok)
	is.Equal(start, eastbound[0])
	end, ok := idx.PointAt("east", 5000)
	is.True(ok)
	is.Equal(end, eastbound[len(eastbound)-1])
	middle, ok := idx.PointAt("east", length/2)
	is.True(ok)
	is.True(math.Abs(middle.Lon - -121.995) < 0.0001)
}

func TestProjectPoint(t *testing.T) {
	is := is.New(t)
	// near the start of the loop, once on each leg
	stop := Point{Lat: 45.0001, Lon: -121.9995}
	is.True(math.Abs(ProjectPoint(loop, stop, 0)-39.4) < 2)
	is.True(math.Abs(ProjectPoint(loop, stop, 800)-1564.7) < 2)
}
