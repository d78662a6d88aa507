// Package pollutant defines the health-based reference tables and the
// single-pollutant risk curve.
package pollutant

import (
	"context"
	"math"

	"github.com/okian/airwatch/pkg/logger"
	"github.com/okian/airwatch/pkg/metrics"
)

// Scoring constants.
const (
	maxScore       = 100.0
	referenceScore = 50.0 // score at exactly the reference concentration, before weighting
)

// Reference is a health-based reference concentration for one averaging
// period. Order of declaration matters: when neither the requested period
// nor "annual" is present, the first declared reference is used.
type Reference struct {
	Period        string // "1hour", "8hour", "24hour", "annual"
	Concentration float64
}

// Profile is the immutable reference data for one pollutant.
type Profile struct {
	HealthWeight float64 // relative importance in composite scoring
	Unit         string
	References   []Reference
}

// DefaultProfiles returns the EPA primary-standard reference table.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"PM2.5 Mass": {
			HealthWeight: 1.0,
			Unit:         "µg/m³",
			References: []Reference{
				{Period: "annual", Concentration: 12.0},
				{Period: "24hour", Concentration: 35.0},
			},
		},
		"PM10 Mass": {
			HealthWeight: 0.6,
			Unit:         "µg/m³",
			References: []Reference{
				{Period: "24hour", Concentration: 150.0},
			},
		},
		"Ozone": {
			HealthWeight: 0.8,
			Unit:         "ppb",
			References: []Reference{
				{Period: "8hour", Concentration: 70.0},
			},
		},
		"SO2": {
			HealthWeight: 0.5,
			Unit:         "ppb",
			References: []Reference{
				{Period: "1hour", Concentration: 75.0},
			},
		},
		"NO2": {
			HealthWeight: 0.4,
			Unit:         "ppb",
			References: []Reference{
				{Period: "1hour", Concentration: 100.0},
				{Period: "annual", Concentration: 53.0},
			},
		},
		"CO": {
			HealthWeight: 0.3,
			Unit:         "ppm",
			References: []Reference{
				{Period: "1hour", Concentration: 35.0},
				{Period: "8hour", Concentration: 9.0},
			},
		},
	}
}

// Option applies a configuration option to the Model.
type Option func(*Model)

// WithProfiles replaces the whole profile table.
func WithProfiles(profiles map[string]Profile) Option {
	return func(m *Model) {
		if len(profiles) == 0 {
			return
		}
		// Copy the map to avoid external modifications
		m.profiles = make(map[string]Profile, len(profiles))
		for name, p := range profiles {
			m.profiles[name] = p
		}
	}
}

// WithProfile adds or overrides a single pollutant profile.
func WithProfile(name string, p Profile) Option {
	return func(m *Model) {
		m.profiles[name] = p
	}
}

// WithLogger sets a custom logger for the model.
func WithLogger(l logger.Logger) Option {
	return func(m *Model) {
		if l != nil {
			m.logger = l
		}
	}
}

// Model maps a single pollutant concentration to a 0-100 risk score
// against a health-based reference concentration.
type Model struct {
	profiles map[string]Profile
	logger   logger.Logger
}

// NewModel creates a risk model seeded with the default EPA table.
func NewModel(opts ...Option) *Model {
	m := &Model{
		profiles: DefaultProfiles(),
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = logger.Get().Named("pollutant")
	}

	return m
}

// Known reports whether the parameter has a pollutant profile.
func (m *Model) Known(parameter string) bool {
	_, ok := m.profiles[parameter]
	return ok
}

// Weight returns the health weight for the parameter, or 0 if unknown.
func (m *Model) Weight(parameter string) float64 {
	p, ok := m.profiles[parameter]
	if !ok {
		return 0
	}
	return p.HealthWeight
}

// Reference resolves the reference concentration for a parameter and
// averaging period: exact period match, else the annual reference, else the
// first declared reference. Returns 0 when nothing resolves.
func (m *Model) Reference(parameter, period string) float64 {
	p, ok := m.profiles[parameter]
	if !ok {
		return 0
	}

	var annual float64
	for _, ref := range p.References {
		if ref.Period == period {
			return ref.Concentration
		}
		if ref.Period == "annual" {
			annual = ref.Concentration
		}
	}
	if annual > 0 {
		return annual
	}
	if len(p.References) > 0 {
		return p.References[0].Concentration
	}
	return 0
}

// Score computes the 0-100 risk score for a single concentration.
//
// Below the reference the score scales linearly, reaching 50 exactly at the
// reference. Above it the score saturates toward 100 with diminishing
// marginal increase: 50 + 50*(1 - exp(-2*(ratio-1))). The health weight is
// applied last and the result is capped at 100. An unknown parameter or an
// unresolvable reference yields 0 ("no information", never an error).
func (m *Model) Score(ctx context.Context, parameter string, concentration float64, period string) float64 {
	p, ok := m.profiles[parameter]
	if !ok {
		metrics.RecordUnknownParameter()
		m.logger.Warn(ctx, "unknown pollutant", logger.String("parameter", parameter))
		return 0
	}

	reference := m.Reference(parameter, period)
	if reference <= 0 {
		m.logger.Warn(ctx, "no reference concentration", logger.String("parameter", parameter))
		return 0
	}

	ratio := concentration / reference

	var base float64
	if ratio > 1 {
		base = referenceScore + referenceScore*(1-math.Exp(-2*(ratio-1)))
	} else {
		base = referenceScore * ratio
	}

	return math.Min(base*p.HealthWeight, maxScore)
}
