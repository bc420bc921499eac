package gsf

// RejectReason records why a beam was rejected. Reasons combine as bits.
type RejectReason uint8

const (
	RejectPolarAngle RejectReason = 1 << iota
	RejectTravelTime
	RejectIntensity
)

// Quality factor contributions of each rejection. They are distinct powers
// of two so a beam's accumulated sum identifies its reasons.
const (
	PolarAngleSentinel = -1.0
	TravelTimeSentinel = -2.0
	IntensitySentinel  = -4.0
)

func (r RejectReason) sentinel() float64 {
	switch r {
	case RejectPolarAngle:
		return PolarAngleSentinel
	case RejectTravelTime:
		return TravelTimeSentinel
	case RejectIntensity:
		return IntensitySentinel
	default:
		return 0
	}
}

func (r RejectReason) String() string {
	if r == 0 {
		return "none"
	}
	out := ""
	for _, item := range []struct {
		bit  RejectReason
		name string
	}{
		{RejectPolarAngle, "polar-angle"},
		{RejectTravelTime, "travel-time"},
		{RejectIntensity, "intensity"},
	} {
		if r&item.bit == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += item.name
	}
	return out
}

// clippable reports whether the quality array can carry rejections.
func (p *Ping) clippable() bool {
	if p.NumBeams <= 0 || len(p.QualityFactor) != len(p.TravelTime) {
		return false
	}
	return len(p.QualityFactor) == int(p.NumBeams)
}

func (p *Ping) reject(i int, reason RejectReason) {
	if p.rejects == nil {
		p.rejects = make([]RejectReason, p.NumBeams)
	}
	if p.rejects[i]&reason != 0 {
		return
	}
	p.rejects[i] |= reason
	p.QualityFactor[i] += reason.sentinel()
}

// ClipPolarAngle rejects beams whose angle lies outside [left, right] degrees.
func (p *Ping) ClipPolarAngle(left, right float64) {
	if !p.clippable() || len(p.BeamAngle) != int(p.NumBeams) {
		return
	}
	for i, a := range p.BeamAngle {
		if a < left || a > right {
			p.reject(i, RejectPolarAngle)
		}
	}
}

// ClipTravelTime rejects beams with a two way travel time below limit seconds.
func (p *Ping) ClipTravelTime(limit float64) {
	if !p.clippable() {
		return
	}
	for i, tt := range p.TravelTime {
		if tt < limit {
			p.reject(i, RejectTravelTime)
		}
	}
}

// ClipIntensity rejects beams whose reduced intensity is below limit.
func (p *Ping) ClipIntensity(limit float64) {
	if !p.clippable() || len(p.Intensity) != int(p.NumBeams) {
		return
	}
	for i, v := range p.Intensity {
		if v < limit {
			p.reject(i, RejectIntensity)
		}
	}
}

// Rejections reports the reasons beam i was rejected for.
func (p *Ping) Rejections(i int) RejectReason {
	if i < 0 || i >= len(p.rejects) {
		return 0
	}
	return p.rejects[i]
}

// Rejected reports whether beam i was rejected for any reason.
func (p *Ping) Rejected(i int) bool {
	return p.Rejections(i) != 0
}
