package geo

import (
	"context"
	"strings"

	"github.com/angelmondragon/marketledger-backend/pkg/maps"
)

// PlaceLocator looks up the coordinates of a place id.
type PlaceLocator interface {
	LocatePlace(ctx context.Context, placeID string) (*maps.Place, error)
}

// Location is either a raw coordinate or a place id to resolve.
type Location struct {
	Point   *Point `json:"point,omitempty"`
	PlaceID string `json:"place_id,omitempty"`
}

// Resolver turns Locations into Points.
type Resolver struct {
	places PlaceLocator
}

// NewResolver builds a resolver. A nil locator limits it to raw coordinates.
func NewResolver(places PlaceLocator) *Resolver {
	return &Resolver{places: places}
}

// Resolve prefers raw coordinates and falls back to the place lookup.
func (r *Resolver) Resolve(ctx context.Context, loc Location) (Point, error) {
	if loc.Point != nil {
		if !loc.Point.Valid() {
			return Point{}, ErrInvalidPoint
		}
		return *loc.Point, nil
	}
	placeID := strings.TrimSpace(loc.PlaceID)
	if placeID == "" {
		return Point{}, ErrLocationRequired
	}
	if r == nil || r.places == nil {
		return Point{}, ErrResolverUnavailable
	}
	place, err := r.places.LocatePlace(ctx, placeID)
	if err != nil {
		return Point{}, err
	}
	return Point{Lat: place.Latitude, Lng: place.Longitude}, nil
}
