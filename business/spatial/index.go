// Package spatial provides nearest segment lookup over the shapes of a schedule.
// An Index is built once per schedule snapshot and is read only afterwards.
package spatial

import (
	"math"
	"sort"

	"github.com/tidwall/rtree"
)

const (
	DefaultSearchRadius  = 200.0
	DefaultMaxCandidates = 10
	// candidates closer together than this are ordered by heading
	distanceTieTolerance = 0.01
)

// Config controls the results of NearestSegments
type Config struct {
	// SearchRadius in meters, segments further away are never returned
	SearchRadius float64
	// MaxCandidates is the most candidates returned by NearestSegments
	MaxCandidates int
}

func (c Config) withDefaults() Config {
	if c.SearchRadius <= 0 {
		c.SearchRadius = DefaultSearchRadius
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = DefaultMaxCandidates
	}
	return c
}

// Segment is a piece of a shape between two consecutive shape points
type Segment struct {
	ShapeId string
	// Index of the segment on the shape, the first segment is 0
	Index int
	Start Point
	End   Point
	// DistanceAlong is the meters along the shape at Start
	DistanceAlong float64
	Length        float64
	// Bearing in degrees travelling from Start to End
	Bearing float64
}

// project returns the candidate for point on this segment without heading
func (s *Segment) project(point Point) Candidate {
	t, nearest := projectOnSegment(s.Start, s.End, point)
	return Candidate{
		Segment:            s,
		Distance:           Distance(point.Lat, point.Lon, nearest.Lat, nearest.Lon),
		DistanceAlongShape: s.DistanceAlong + t*s.Length,
	}
}

// Candidate is a segment near a position
type Candidate struct {
	Segment *Segment
	// Distance in meters from the position to the nearest point on Segment
	Distance float64
	// DistanceAlongShape in meters of the nearest point on Segment
	DistanceAlongShape float64
	// HeadingDelta is degrees between a heading hint and Segment.Bearing, nil when no hint was available
	HeadingDelta *float64
}

type shapeLine struct {
	points   []Point
	segments []*Segment
	length   float64
}

// Index locates shape segments near a position
type Index struct {
	cfg    Config
	tree   rtree.RTreeG[*Segment]
	shapes map[string]*shapeLine
}

// NewIndex builds an Index containing every shape with at least two points
func NewIndex(shapes map[string][]Point, cfg Config) *Index {
	idx := &Index{
		cfg:    cfg.withDefaults(),
		shapes: make(map[string]*shapeLine, len(shapes)),
	}
	shapeIds := make([]string, 0, len(shapes))
	for shapeId := range shapes {
		shapeIds = append(shapeIds, shapeId)
	}
	sort.Strings(shapeIds)

	for _, shapeId := range shapeIds {
		points := shapes[shapeId]
		if len(points) < 2 {
			continue
		}
		line := &shapeLine{points: points}
		distance := 0.0
		for i := 1; i < len(points); i++ {
			start, end := points[i-1], points[i]
			segment := &Segment{
				ShapeId:       shapeId,
				Index:         i - 1,
				Start:         start,
				End:           end,
				DistanceAlong: distance,
				Length:        Distance(start.Lat, start.Lon, end.Lat, end.Lon),
			}
			if segment.Length > 0 {
				segment.Bearing = Bearing(start.Lat, start.Lon, end.Lat, end.Lon)
			}
			distance += segment.Length
			line.segments = append(line.segments, segment)
			idx.tree.Insert(
				[2]float64{math.Min(start.Lat, end.Lat), math.Min(start.Lon, end.Lon)},
				[2]float64{math.Max(start.Lat, end.Lat), math.Max(start.Lon, end.Lon)},
				segment,
			)
		}
		line.length = distance
		idx.shapes[shapeId] = line
	}
	return idx
}

// Config returns the configuration the Index was built with, after defaults are applied
func (idx *Index) Config() Config {
	return idx.cfg
}

// Len returns the number of segments in the Index
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return idx.tree.Len()
}

// NearestSegments returns the segments within the search radius of lat, lon ordered by distance, ties ordered by
// how closely the segment's bearing matches headingHint.
// Only the nearest candidate for a stretch of a shape is returned, a shape passing the same place twice yields
// a candidate for each pass.
// An empty result means nothing is nearby.
func (idx *Index) NearestSegments(lat, lon float64, headingHint *float64) []Candidate {
	result := make([]Candidate, 0)
	if idx == nil || idx.tree.Len() == 0 {
		return result
	}
	point := Point{Lat: lat, Lon: lon}
	bounds := CalculateBounds(lat, lon, idx.cfg.SearchRadius)

	var found []Candidate
	idx.tree.Search(
		[2]float64{bounds.MinLat, bounds.MinLon},
		[2]float64{bounds.MaxLat, bounds.MaxLon},
		func(min, max [2]float64, segment *Segment) bool {
			candidate := segment.project(point)
			if candidate.Distance > idx.cfg.SearchRadius {
				return true
			}
			if headingHint != nil && segment.Length > 0 {
				delta := HeadingDelta(*headingHint, segment.Bearing)
				candidate.HeadingDelta = &delta
			}
			found = append(found, candidate)
			return true
		},
	)
	sort.Slice(found, func(i, j int) bool {
		return candidateLess(&found[i], &found[j])
	})

	for _, candidate := range found {
		if sameStretch(result, &candidate, idx.cfg.SearchRadius) {
			continue
		}
		result = append(result, candidate)
		if len(result) >= idx.cfg.MaxCandidates {
			break
		}
	}
	return result
}

func candidateLess(a, b *Candidate) bool {
	if math.Abs(a.Distance-b.Distance) > distanceTieTolerance {
		return a.Distance < b.Distance
	}
	aHeading, bHeading := headingOrWorst(a), headingOrWorst(b)
	if aHeading != bHeading {
		return aHeading < bHeading
	}
	if a.Segment.ShapeId != b.Segment.ShapeId {
		return a.Segment.ShapeId < b.Segment.ShapeId
	}
	return a.DistanceAlongShape < b.DistanceAlongShape
}

func headingOrWorst(c *Candidate) float64 {
	if c.HeadingDelta == nil {
		return 180
	}
	return *c.HeadingDelta
}

// sameStretch returns true if a candidate on the same shape within two search radii along the shape is in kept
func sameStretch(kept []Candidate, candidate *Candidate, radius float64) bool {
	for i := range kept {
		if kept[i].Segment.ShapeId == candidate.Segment.ShapeId &&
			math.Abs(kept[i].DistanceAlongShape-candidate.DistanceAlongShape) <= 2*radius {
			return true
		}
	}
	return false
}

// ProjectOnShape returns the nearest point on shapeId to lat, lon restricted to the part of the shape between
// minDistance and maxDistance meters. returns false when the shape is unknown or the window is empty
func (idx *Index) ProjectOnShape(shapeId string, lat, lon, minDistance, maxDistance float64) (Candidate, bool) {
	line, ok := idx.shapes[shapeId]
	if !ok {
		return Candidate{}, false
	}
	minDistance = math.Max(0, minDistance)
	maxDistance = math.Min(line.length, maxDistance)
	if maxDistance < minDistance {
		return Candidate{}, false
	}
	point := Point{Lat: lat, Lon: lon}
	var best Candidate
	found := false
	for _, segment := range line.segments {
		segmentEnd := segment.DistanceAlong + segment.Length
		if segmentEnd < minDistance {
			continue
		}
		if segment.DistanceAlong > maxDistance {
			break
		}
		t0, t1 := 0.0, 0.0
		if segment.Length > 0 {
			t0 = math.Max(0, (minDistance-segment.DistanceAlong)/segment.Length)
			t1 = math.Min(1, (maxDistance-segment.DistanceAlong)/segment.Length)
		}
		start := interpolate(segment.Start, segment.End, t0)
		end := interpolate(segment.Start, segment.End, t1)
		t, nearest := projectOnSegment(start, end, point)
		candidate := Candidate{
			Segment:            segment,
			Distance:           Distance(lat, lon, nearest.Lat, nearest.Lon),
			DistanceAlongShape: segment.DistanceAlong + (t0+t*(t1-t0))*segment.Length,
		}
		if !found || candidate.Distance < best.Distance {
			best = candidate
			found = true
		}
	}
	return best, found
}

// ShapePoints returns the points of shapeId, nil if the shape is not in the Index
func (idx *Index) ShapePoints(shapeId string) []Point {
	line, ok := idx.shapes[shapeId]
	if !ok {
		return nil
	}
	return line.points
}

// ShapeLength returns the length in meters of shapeId
func (idx *Index) ShapeLength(shapeId string) (float64, bool) {
	line, ok := idx.shapes[shapeId]
	if !ok {
		return 0, false
	}
	return line.length, true
}

// PointAt returns the location distance meters along shapeId, clamped to the ends of the shape
func (idx *Index) PointAt(shapeId string, distance float64) (Point, bool) {
	line, ok := idx.shapes[shapeId]
	if !ok {
		return Point{}, false
	}
	if distance <= 0 {
		return line.points[0], true
	}
	for _, segment := range line.segments {
		if distance <= segment.DistanceAlong+segment.Length {
			if segment.Length == 0 {
				return segment.Start, true
			}
			return interpolate(segment.Start, segment.End, (distance-segment.DistanceAlong)/segment.Length), true
		}
	}
	return line.points[len(line.points)-1], true
}

// ProjectPoint returns the distance along points nearest to point, searching forward from fromDistance meters.
// Used to place stops on shapes which do not provide distance traveled
func ProjectPoint(points []Point, point Point, fromDistance float64) float64 {
	best := math.Inf(1)
	bestAlong := fromDistance
	distance := 0.0
	for i := 1; i < len(points); i++ {
		start, end := points[i-1], points[i]
		length := Distance(start.Lat, start.Lon, end.Lat, end.Lon)
		if distance+length >= fromDistance {
			t, nearest := projectOnSegment(start, end, point)
			along := distance + t*length
			if along >= fromDistance {
				d := Distance(point.Lat, point.Lon, nearest.Lat, nearest.Lon)
				if d < best {
					best = d
					bestAlong = along
				}
			}
		}
		distance += length
	}
	return bestAlong
}
