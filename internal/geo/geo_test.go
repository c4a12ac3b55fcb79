package geo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/maps"
)

func testPricing() Pricing {
	return Pricing{
		BaseFee:         decimal.RequireFromString("2.50"),
		PerKmFee:        decimal.RequireFromString("0.80"),
		MinimumFee:      decimal.RequireFromString("3.00"),
		AverageSpeedKmh: 30,
	}
}

func TestDistanceKm(t *testing.T) {
	// one degree of latitude is ~111.19 km on a 6371 km sphere
	d := DistanceKm(Point{Lat: 0, Lng: 0}, Point{Lat: 1, Lng: 0})
	assert.InDelta(t, 111.19, d, 0.01)

	assert.Zero(t, DistanceKm(Point{Lat: 10, Lng: 20}, Point{Lat: 10, Lng: 20}))

	a := Point{Lat: 40.4168, Lng: -3.7038}
	b := Point{Lat: 41.3874, Lng: 2.1686}
	assert.InDelta(t, DistanceKm(a, b), DistanceKm(b, a), 1e-9)
	assert.InDelta(t, 505, DistanceKm(a, b), 5)
}

func TestFee(t *testing.T) {
	p := testPricing()

	assert.Equal(t, "3", p.Fee(0).String(), "minimum applies")
	assert.Equal(t, "10.5", p.Fee(10).String())
	assert.Equal(t, "3.49", p.Fee(1.2375).String(), "2.50 + 0.99 rounds half-up")
	assert.Equal(t, "3", p.Fee(-4).String(), "negative distance treated as zero")
}

func TestETA(t *testing.T) {
	p := testPricing()

	assert.Equal(t, time.Minute, p.ETA(0))
	assert.Equal(t, 20*time.Minute, p.ETA(10))
	assert.Equal(t, 21*time.Minute, p.ETA(10.1))

	p.AverageSpeedKmh = 0
	assert.Equal(t, 20*time.Minute, p.ETA(10), "falls back to default speed")
}

func TestQuote(t *testing.T) {
	q := testPricing().Quote(Point{Lat: 0, Lng: 0}, Point{Lat: 0.09, Lng: 0})

	assert.InDelta(t, 10.0, q.DistanceKm, 0.01)
	assert.True(t, q.Fee.Equal(decimal.RequireFromString("10.51")), "fee %s", q.Fee)
	assert.Equal(t, 21*time.Minute, q.ETA)
}

type fakeLocator struct {
	place *maps.Place
	err   error
	calls int
}

func (f *fakeLocator) LocatePlace(context.Context, string) (*maps.Place, error) {
	f.calls++
	return f.place, f.err
}

func TestResolverPrefersRawPoint(t *testing.T) {
	locator := &fakeLocator{}
	r := NewResolver(locator)

	got, err := r.Resolve(context.Background(), Location{Point: &Point{Lat: 1, Lng: 2}, PlaceID: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, Point{Lat: 1, Lng: 2}, got)
	assert.Zero(t, locator.calls)
}

func TestResolverLooksUpPlace(t *testing.T) {
	locator := &fakeLocator{place: &maps.Place{Latitude: 4.5, Longitude: -74.1}}
	r := NewResolver(locator)

	got, err := r.Resolve(context.Background(), Location{PlaceID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, Point{Lat: 4.5, Lng: -74.1}, got)
}

func TestResolverErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewResolver(nil).Resolve(ctx, Location{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = NewResolver(nil).Resolve(ctx, Location{Point: &Point{Lat: 91}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = NewResolver(nil).Resolve(ctx, Location{PlaceID: "abc"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	boom := errors.New("boom")
	_, err = NewResolver(&fakeLocator{err: boom}).Resolve(ctx, Location{PlaceID: "abc"})
	assert.ErrorIs(t, err, boom)
}
