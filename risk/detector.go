package risk

import (
	"math"
	"sort"
	"time"
)

// Factor names reported in assessments.
const (
	FactorImpossibleTravel = "impossible_travel"
	FactorNewCountry       = "new_country"
	FactorNewDevice        = "new_device"
	FactorFailureBurst     = "failure_burst"
	FactorAnonymizer       = "anonymizing_network"
	FactorOffHours         = "off_hours"
)

// Weights are the per-factor score contributions. The final score is the
// clamped sum of triggered factors.
type Weights struct {
	ImpossibleTravel float64
	NewCountry       float64
	NewDevice        float64
	FailureBurst     float64
	Anonymizer       float64
	OffHours         float64
}

// DefaultWeights returns the platform default factor weights. Impossible
// travel alone crosses the default quarantine threshold; the remaining
// factors only do so in combination.
func DefaultWeights() Weights {
	return Weights{
		ImpossibleTravel: 0.9,
		NewCountry:       0.25,
		NewDevice:        0.2,
		FailureBurst:     0.3,
		Anonymizer:       0.25,
		OffHours:         0.15,
	}
}

// Factor is one triggered contribution in an assessment.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
}

// Assessment is a transient risk evaluation. It is recomputed per event and
// never persisted; only the triggering events and the resulting enforcement
// action are.
type Assessment struct {
	Score     float64   `json:"score"`
	Factors   []Factor  `json:"factors"`
	Timestamp time.Time `json:"timestamp"`
}

// Input bundles the event under evaluation with the session history the
// detector needs. Everything is passed in: the detector performs no I/O,
// so the same input always produces the same assessment.
type Input struct {
	Event Event

	// Previous known location for the session, if any.
	HasPrev     bool
	PrevLat     float64
	PrevLon     float64
	PrevSeenAt  time.Time
	PrevCountry string

	// NewDevice marks an event from a device first seen on this login.
	NewDevice bool

	// RecentFailures counts validation failures inside the burst window.
	RecentFailures int

	// HourCounts is the user's hour-of-day access histogram.
	HourCounts [24]int64
}

// Detector computes deterministic risk assessments.
type Detector struct {
	weights Weights

	// maxTravelSpeedKmh is the fastest plausible legitimate relocation
	// speed between two events. Commercial flight cruise is ~900 km/h.
	maxTravelSpeedKmh float64

	// failureBurstCap is the failure count at which the burst factor
	// saturates.
	failureBurstCap int

	// offHoursMinSamples gates the off-hours factor until the histogram
	// has enough history to mean anything.
	offHoursMinSamples int64
}

// Options overrides detector tunables. Zero values keep the defaults.
type Options struct {
	MaxTravelSpeedKmh  float64
	FailureBurstCap    int
	OffHoursMinSamples int
}

// NewDetector creates a detector with the given weights. Zero-valued
// tunables fall back to platform defaults.
func NewDetector(weights Weights, opts ...Options) *Detector {
	d := &Detector{
		weights:            weights,
		maxTravelSpeedKmh:  900,
		failureBurstCap:    5,
		offHoursMinSamples: 20,
	}
	for _, o := range opts {
		if o.MaxTravelSpeedKmh > 0 {
			d.maxTravelSpeedKmh = o.MaxTravelSpeedKmh
		}
		if o.FailureBurstCap > 0 {
			d.failureBurstCap = o.FailureBurstCap
		}
		if o.OffHoursMinSamples > 0 {
			d.offHoursMinSamples = int64(o.OffHoursMinSamples)
		}
	}
	return d
}

// Score evaluates one event against its session history. Factors trigger
// independently; the score is their clamped sum.
func (d *Detector) Score(in Input) Assessment {
	a := Assessment{Timestamp: in.Event.Timestamp}

	if f, ok := d.travelFactor(in); ok {
		a.Factors = append(a.Factors, f)
	}
	if in.Event.Location != nil && in.HasPrev &&
		in.PrevCountry != "" && in.Event.Location.Country != "" &&
		in.Event.Location.Country != in.PrevCountry {
		a.Factors = append(a.Factors, Factor{FactorNewCountry, d.weights.NewCountry})
	}
	if in.NewDevice {
		a.Factors = append(a.Factors, Factor{FactorNewDevice, d.weights.NewDevice})
	}
	if in.RecentFailures > 0 {
		ratio := float64(in.RecentFailures) / float64(d.failureBurstCap)
		if ratio > 1 {
			ratio = 1
		}
		a.Factors = append(a.Factors, Factor{FactorFailureBurst, d.weights.FailureBurst * ratio})
	}
	if in.Event.Location != nil && in.Event.Location.Anonymizer {
		a.Factors = append(a.Factors, Factor{FactorAnonymizer, d.weights.Anonymizer})
	}
	if d.offHours(in) {
		a.Factors = append(a.Factors, Factor{FactorOffHours, d.weights.OffHours})
	}

	sort.Slice(a.Factors, func(i, j int) bool {
		return a.Factors[i].Contribution > a.Factors[j].Contribution
	})

	for _, f := range a.Factors {
		a.Score += f.Contribution
	}
	if a.Score > 1 {
		a.Score = 1
	}
	return a
}

func (d *Detector) travelFactor(in Input) (Factor, bool) {
	if !in.HasPrev || in.Event.Location == nil || in.PrevSeenAt.IsZero() {
		return Factor{}, false
	}
	elapsed := in.Event.Timestamp.Sub(in.PrevSeenAt)
	if elapsed <= 0 {
		elapsed = time.Second
	}
	distanceKm := haversineKm(in.PrevLat, in.PrevLon, in.Event.Location.Lat, in.Event.Location.Lon)
	if distanceKm < 50 {
		// Below geolocation resolution; never a travel anomaly.
		return Factor{}, false
	}
	speed := distanceKm / elapsed.Hours()
	if speed <= d.maxTravelSpeedKmh {
		return Factor{}, false
	}
	return Factor{FactorImpossibleTravel, d.weights.ImpossibleTravel}, true
}

func (d *Detector) offHours(in Input) bool {
	var total int64
	for _, c := range in.HourCounts {
		total += c
	}
	if total < d.offHoursMinSamples {
		return false
	}
	hour := in.Event.Timestamp.UTC().Hour()
	// Off-hours when the current hour holds under 2% of observed activity.
	return float64(in.HourCounts[hour]) < 0.02*float64(total)
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	la1 := lat1 * math.Pi / 180
	la2 := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(la1)*math.Cos(la2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
