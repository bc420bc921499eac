package gsf

import (
	"math"
)

const (
	// DefaultVTXOffset is the transmit/receive calibration offset applied to
	// R2Sonic backscatter when no survey value is configured.
	DefaultVTXOffset = -0.21

	// backscatterNormalization lifts corrected levels into a positive working
	// range.
	backscatterNormalization = 100.0

	minObliqueAngle = 0.001
)

// TVGLimits bounds the time-varied gain. The zero value leaves it unbounded.
type TVGLimits struct {
	Min float64
	Max float64
}

// R2SonicTVGLimits is the gain range R2Sonic receivers can apply.
var R2SonicTVGLimits = TVGLimits{Min: 4, Max: 83}

func (l TVGLimits) apply(v float64) float64 {
	if l.Max <= l.Min {
		return v
	}
	return math.Min(math.Max(v, l.Min), l.Max)
}

// SonarParams are the per-ping acquisition settings the correction needs.
// Beamwidths are radians, absorption dB/km, pulse width seconds.
type SonarParams struct {
	SourceLevel    float64
	SoundSpeed     float64
	Absorption     float64
	BeamWidthVert  float64
	BeamWidthHoriz float64
	PulseWidth     float64
	Spreading      float64
	// ReceiverGain is the doubled R2Sonic figure; the receiver applied half.
	ReceiverGain float64
	VTXOffset    float64
	TVG          TVGLimits
}

// R2SonicParams collects correction parameters from an imagery header.
func R2SonicParams(h *R2SonicImagery, vtxOffset float64) SonarParams {
	return SonarParams{
		SourceLevel:    h.SourceLevel,
		SoundSpeed:     h.SoundSpeed,
		Absorption:     h.Absorption,
		BeamWidthVert:  h.BeamWidthVertical,
		BeamWidthHoriz: h.BeamWidthHorizontal,
		PulseWidth:     h.PulseWidth,
		Spreading:      h.ReceiverSpreadingLoss,
		ReceiverGain:   h.ReceiverGain,
		VTXOffset:      vtxOffset,
		TVG:            R2SonicTVGLimits,
	}
}

// BeamSample is one beam's geometry and received magnitude (µPa, linear).
// SlantRange, when positive, overrides the range derived from travel time.
type BeamSample struct {
	AngleDeg         float64
	TwoWayTravelTime float64
	SlantRange       float64
	Magnitude        float64
}

// BeamRange returns the one-way range to the seafloor in metres.
func BeamRange(b BeamSample, p SonarParams) float64 {
	if b.TwoWayTravelTime <= 0 {
		return 0
	}
	if b.SlantRange > 0 {
		return b.SlantRange
	}
	return b.TwoWayTravelTime / 2 * p.SoundSpeed
}

// TimeVariedGain is the gain the receiver applied at rangeM metres, bounded
// by p.TVG.
func TimeVariedGain(rangeM float64, p SonarParams) float64 {
	tvg := 2*rangeM*p.Absorption/1000 + p.Spreading*math.Log10(rangeM) + p.ReceiverGain/2
	return p.TVG.apply(tvg)
}

// InsonifiedArea is the seafloor area seen by one beam: the beam footprint
// near normal incidence, otherwise the smaller of the footprint and the
// pulse-limited patch.
func InsonifiedArea(angleDeg, rangeM float64, p SonarParams) float64 {
	normal := p.BeamWidthVert * p.BeamWidthHoriz * rangeM * rangeM
	if math.Abs(angleDeg) < minObliqueAngle {
		return normal
	}
	angle := math.Abs(angleDeg) * math.Pi / 180
	oblique := 0.5 * p.SoundSpeed * p.PulseWidth * p.BeamWidthVert * rangeM / math.Sin(angle)
	return math.Min(normal, oblique)
}

// CorrectBackscatter converts a received magnitude into seafloor backscatter
// strength in dB. Beams without a usable range or magnitude yield 0.
func CorrectBackscatter(b BeamSample, p SonarParams) float64 {
	r := BeamRange(b, p)
	if r <= 0 || b.Magnitude <= 0 {
		return 0
	}
	area := InsonifiedArea(b.AngleDeg, r, p)
	if area <= 0 {
		return 0
	}
	received := 20 * math.Log10(b.Magnitude)
	transmission := 2*p.Absorption*r/1000 + 40*math.Log10(r)
	return received - p.SourceLevel + transmission - 10*math.Log10(area) -
		TimeVariedGain(r, p) - p.VTXOffset + backscatterNormalization
}

// CorrectedBackscatter applies CorrectBackscatter to every beam with the
// parameters params derives from the ping's R2Sonic header. A nil params uses
// R2SonicParams with DefaultVTXOffset. It returns nil when the ping lacks the
// header or the beam angle, travel time or intensity arrays.
func (p *Ping) CorrectedBackscatter(params func(*R2SonicImagery) SonarParams) []float64 {
	if p.Imagery == nil || p.Imagery.R2Sonic == nil {
		return nil
	}
	n := int(p.NumBeams)
	if n == 0 || len(p.BeamAngle) != n || len(p.TravelTime) != n || len(p.Intensity) != n {
		return nil
	}
	if params == nil {
		params = func(h *R2SonicImagery) SonarParams { return R2SonicParams(h, DefaultVTXOffset) }
	}
	sonar := params(p.Imagery.R2Sonic)
	out := make([]float64, n)
	for i := range out {
		out[i] = CorrectBackscatter(BeamSample{
			AngleDeg:         p.BeamAngle[i],
			TwoWayTravelTime: p.TravelTime[i],
			Magnitude:        p.Intensity[i],
		}, sonar)
	}
	return out
}
