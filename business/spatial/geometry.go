package spatial

import "math"

const (
	// RadiusOfEarthInMeters used for bounding boxes
	RadiusOfEarthInMeters = 6371010.0
	// metersPerDegree at the equator
	metersPerDegree  = 111300.0
	degreesToRadians = math.Pi / 180
)

// Point is a latitude and longitude pair in degrees
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Bounds is a latitude and longitude bounding box
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

//Distance calculates the approximate distance between two pairs of coordinates with simplistic
//calculation of longitudinal distance based on latitudes.
//provides adequately accurate results for coordinates that are close together (in the same transit area)
//will not produce good results work for locations where longitude rolls over from -179.9 to 179.9
//returns distance in METERS
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	//take average latitude and convert to radians
	lat := ((lat1 + lat2) / 2) * degreesToRadians

	diffLat := metersPerDegree * (lat1 - lat2)
	// at equator one degree is 111300 meters, use average latitude to convert
	diffLon := metersPerDegree * math.Cos(lat) * (lon1 - lon2)

	return math.Sqrt((diffLon * diffLon) + (diffLat * diffLat))
}

// Bearing returns the initial bearing in degrees [0,360) travelling from the first coordinate to the second
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * degreesToRadians
	phi2 := lat2 * degreesToRadians
	deltaLon := (lon2 - lon1) * degreesToRadians
	y := math.Sin(deltaLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLon)
	bearing := math.Atan2(y, x) / degreesToRadians
	return math.Mod(bearing+360, 360)
}

// HeadingDelta returns the smallest angle in degrees [0,180] between two headings
func HeadingDelta(a, b float64) float64 {
	delta := math.Mod(math.Abs(a-b), 360)
	if delta > 180 {
		delta = 360 - delta
	}
	return delta
}

// CalculateBounds returns the box containing every point within distance meters of lat, lon
func CalculateBounds(lat, lon, distance float64) Bounds {
	latRadians := lat * degreesToRadians
	lonRadians := lon * degreesToRadians

	latOffset := distance / RadiusOfEarthInMeters
	lonOffset := distance / (math.Cos(latRadians) * RadiusOfEarthInMeters)

	return Bounds{
		MinLat: (latRadians - latOffset) / degreesToRadians,
		MaxLat: (latRadians + latOffset) / degreesToRadians,
		MinLon: (lonRadians - lonOffset) / degreesToRadians,
		MaxLon: (lonRadians + lonOffset) / degreesToRadians,
	}
}

//projectOnSegment calculates the approximate nearest point on a line from start to end from point.
//longitude is scaled by the cosine of the latitude so the projection is made in roughly equal distance units.
//will not produce good results work for locations where longitude rolls over from -179.9 to 179.9
//returns the fraction [0,1] of the way along the line and the resulting point
func projectOnSegment(start, end, point Point) (float64, Point) {
	lonScale := math.Cos(((start.Lat + end.Lat) / 2) * degreesToRadians)
	pointLonDiff := (point.Lon - start.Lon) * lonScale
	pointLatDiff := point.Lat - start.Lat
	endLonDiff := (end.Lon - start.Lon) * lonScale
	endLatDiff := end.Lat - start.Lat
	startEndDiffSquared := (endLonDiff * endLonDiff) + (endLatDiff * endLatDiff)
	t := 0.0
	if startEndDiffSquared > 0 {
		t = math.Min(1, math.Max(0, (pointLonDiff*endLonDiff+pointLatDiff*endLatDiff)/startEndDiffSquared))
	}
	return t, interpolate(start, end, t)
}

func interpolate(start, end Point, t float64) Point {
	return Point{
		Lat: start.Lat + (end.Lat-start.Lat)*t,
		Lon: start.Lon + (end.Lon-start.Lon)*t,
	}
}
