// Package geoindex maps scanner boxes to S2 cells and decodes resource ids.
package geoindex

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang/geo/s2"

	"github.com/roman-kulish/ingress-farmbot/internal/geo"
)

// CellLevel is the S2 level the game indexes map objects at.
const CellLevel = 16

var ErrBadResourceID = errors.New("malformed resource id")

type Index struct {
	coverer *s2.RegionCoverer
}

func New() *Index {
	return &Index{
		coverer: &s2.RegionCoverer{MinLevel: CellLevel, MaxLevel: CellLevel, LevelMod: 1, MaxCells: 8},
	}
}

// CellsFor lists the level 16 cells covering the box spanned by sw and ne,
// as lowercase hex ids without leading zeros.
func (x *Index) CellsFor(sw, ne geo.LatLng) ([]string, error) {
	rect := s2.RectFromLatLng(s2.LatLngFromDegrees(sw.Lat, sw.Lng)).
		AddPoint(s2.LatLngFromDegrees(ne.Lat, ne.Lng))
	if !rect.IsValid() || rect.IsEmpty() {
		return nil, fmt.Errorf("invalid box %v %v", sw, ne)
	}
	cover := x.coverer.Covering(rect)
	out := make([]string, 0, len(cover))
	for _, id := range cover {
		out = append(out, strconv.FormatUint(uint64(id), 16))
	}
	return out, nil
}

// ResolveResource decodes an energy glob id. The first 16 hex digits are the
// S2 cell the glob sits in and the byte before the last one is its amount.
func (x *Index) ResolveResource(id string) (geo.LatLng, int, error) {
	if len(id) < 18 {
		return geo.LatLng{}, 0, fmt.Errorf("%w: %q", ErrBadResourceID, id)
	}
	raw, err := strconv.ParseUint(id[:16], 16, 64)
	if err != nil {
		return geo.LatLng{}, 0, fmt.Errorf("%w: %q: %v", ErrBadResourceID, id, err)
	}
	cell := s2.CellID(raw)
	if !cell.IsValid() {
		return geo.LatLng{}, 0, fmt.Errorf("%w: %q: invalid cell", ErrBadResourceID, id)
	}
	amount, err := strconv.ParseUint(id[len(id)-4:len(id)-2], 16, 8)
	if err != nil {
		return geo.LatLng{}, 0, fmt.Errorf("%w: %q: %v", ErrBadResourceID, id, err)
	}
	ll := cell.LatLng()
	return geo.LatLng{Lat: ll.Lat.Degrees(), Lng: ll.Lng.Degrees()}, int(amount), nil
}
