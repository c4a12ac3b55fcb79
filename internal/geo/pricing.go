package geo

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketledger-backend/pkg/config"
)

const defaultSpeedKmh = 30.0

// Pricing turns distances into delivery fees and travel estimates.
type Pricing struct {
	BaseFee         decimal.Decimal
	PerKmFee        decimal.Decimal
	MinimumFee      decimal.Decimal
	AverageSpeedKmh float64
}

// Quote is the advisory price of one trip.
type Quote struct {
	DistanceKm float64         `json:"distance_km"`
	Fee        decimal.Decimal `json:"fee"`
	ETA        time.Duration   `json:"eta"`
}

// PricingFromConfig maps the geo settings onto a Pricing.
func PricingFromConfig(cfg config.GeoConfig) Pricing {
	return Pricing{
		BaseFee:         cfg.BaseFee,
		PerKmFee:        cfg.PerKmFee,
		MinimumFee:      cfg.MinimumFee,
		AverageSpeedKmh: cfg.AverageSpeedKmh,
	}
}

// Fee is max(minimum, base + perKm*km), rounded half-up to cents.
func (p Pricing) Fee(distanceKm float64) decimal.Decimal {
	if distanceKm < 0 {
		distanceKm = 0
	}
	fee := p.BaseFee.Add(p.PerKmFee.Mul(decimal.NewFromFloat(distanceKm)))
	if fee.LessThan(p.MinimumFee) {
		fee = p.MinimumFee
	}
	return fee.Round(2)
}

// ETA converts a distance into whole minutes at the average speed, never
// less than one minute.
func (p Pricing) ETA(distanceKm float64) time.Duration {
	speed := p.AverageSpeedKmh
	if speed <= 0 {
		speed = defaultSpeedKmh
	}
	minutes := math.Ceil(distanceKm * 60 / speed)
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}

// Quote prices the trip from one point to another.
func (p Pricing) Quote(from, to Point) Quote {
	km := DistanceKm(from, to)
	return Quote{
		DistanceKm: km,
		Fee:        p.Fee(km),
		ETA:        p.ETA(km),
	}
}
