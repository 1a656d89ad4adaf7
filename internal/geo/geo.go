// Package geo holds the spherical geometry the bot moves and queries with.
// Every function is pure; callers pass both endpoints explicitly.
package geo

import (
	"fmt"
	"math"
)

// EarthRadius is the sphere radius in meters used by every calculation here.
const EarthRadius = 6378137.0

// LatLng is a point in degrees.
type LatLng struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

func (p LatLng) String() string {
	return fmt.Sprintf("%0.6f,%0.6f", p.Lat, p.Lng)
}

// E6 renders the point the way the game protocol expects it: two 8 digit
// hex words of the microdegree values.
func (p LatLng) E6() string {
	return fmt.Sprintf("%08x,%08x", uint32(int32(p.Lat*1e6)), uint32(int32(p.Lng*1e6)))
}

// FromE6 converts microdegree integers into a point.
func FromE6(latE6, lngE6 int64) LatLng {
	return LatLng{Lat: float64(latE6) / 1e6, Lng: float64(lngE6) / 1e6}
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(rad float64) float64 { return rad * 180 / math.Pi }

// Destination projects origin along a great circle.
func Destination(origin LatLng, bearing, meters float64) LatLng {
	d := meters / EarthRadius
	b := rad(bearing)
	lat1 := rad(origin.Lat)
	lng1 := rad(origin.Lng)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(b))
	lng2 := lng1 + math.Atan2(math.Sin(b)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	return LatLng{Lat: deg(lat2), Lng: deg(lng2)}
}

// Distance is the spherical law of cosines distance rounded to the meter.
func Distance(a, b LatLng) int {
	lat1, lng1 := rad(a.Lat), rad(a.Lng)
	lat2, lng2 := rad(b.Lat), rad(b.Lng)

	c := math.Sin(lat1)*math.Sin(lat2) + math.Cos(lat1)*math.Cos(lat2)*math.Cos(lng2-lng1)
	// acos is undefined just outside [-1,1], which rounding produces for
	// identical or antipodal points.
	c = math.Max(-1, math.Min(1, c))
	return int(math.Round(math.Acos(c) * EarthRadius))
}

// Heading is the initial bearing from one point to another in [-180, 180).
func Heading(from, to LatLng) float64 {
	lat1 := rad(from.Lat)
	lat2 := rad(to.Lat)
	dLng := rad(to.Lng) - rad(from.Lng)

	h := deg(math.Atan2(
		math.Sin(dLng)*math.Cos(lat2),
		math.Cos(lat1)*math.Sin(lat2)-math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng),
	))
	return wrap180(h)
}

func wrap180(v float64) float64 {
	return math.Mod(math.Mod(v+180, 360)+360, 360) - 180
}

// Bounds returns the southwest and northeast corners of the box that
// encloses a circle of radius meters around center.
func Bounds(center LatLng, meters float64) (sw, ne LatLng) {
	north := Destination(center, 0, meters)
	east := Destination(center, 90, meters)
	south := Destination(center, 180, meters)
	west := Destination(center, 270, meters)
	return LatLng{Lat: south.Lat, Lng: west.Lng}, LatLng{Lat: north.Lat, Lng: east.Lng}
}

// StepToward advances meters from along the current heading to to. The
// heading is recomputed on every call so repeated steps converge on a target
// that moves or is replaced.
func StepToward(from, to LatLng, meters float64) LatLng {
	return Destination(from, Heading(from, to), meters)
}
