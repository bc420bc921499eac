package gsf

// r2sonicImageryHeaderSize is the packed length of the R2Sonic imagery
// specific header: two 12 byte strings, 27 int32 words, two int16 words,
// 32 spare bytes.
const r2sonicImageryHeaderSize = 12 + 12 + 27*4 + 2*2 + 32

// R2SonicImagery is the sensor-specific header R2Sonic 2020/2022/2024 sonars
// write in front of their snippet series. Scaled fields are in SI units:
// seconds, metres per second, hertz, radians, decibels.
type R2SonicImagery struct {
	ModelNumber  string
	SerialNumber string

	PingTime     int32
	PingNanoTime int32
	PingNumber   int32
	PingPeriod   float64
	SoundSpeed   float64

	Frequency           float64
	SourceLevel         float64
	PulseWidth          float64
	BeamWidthVertical   float64
	BeamWidthHorizontal float64

	SteeringVertical   float64
	SteeringHorizontal float64
	TransmitInfo       int32
	ReceiverBandwidth  float64
	ReceiverSampleRate float64

	ReceiverRange float64
	// ReceiverGain is the stored gain doubled, as R2Sonic reports it for
	// backscatter work. ReceiverGainSetting is the value as stored.
	ReceiverGain          float64
	ReceiverGainSetting   float64
	ReceiverSpreadingLoss float64
	// Absorption is in dB/km.
	Absorption     float64
	MountTiltAngle float64

	ReceiverInfo int32
	Reserved     int16
	NumBeams     int16
	MoreInfo     [6]float64
}

func decodeR2SonicImagery(c *Cursor) (*R2SonicImagery, error) {
	model, err := c.ReadNativeString(12)
	if err != nil {
		return nil, err
	}
	serial, err := c.ReadNativeString(12)
	if err != nil {
		return nil, err
	}
	var words [21]int32
	for i := range words {
		if words[i], err = c.I32(); err != nil {
			return nil, err
		}
	}
	reserved, err := c.I16()
	if err != nil {
		return nil, err
	}
	numBeams, err := c.I16()
	if err != nil {
		return nil, err
	}
	var more [6]int32
	for i := range more {
		if more[i], err = c.I32(); err != nil {
			return nil, err
		}
	}
	if err := c.Skip(32); err != nil {
		return nil, err
	}

	gain := float64(words[16]) / 1e2
	h := &R2SonicImagery{
		ModelNumber:           model,
		SerialNumber:          serial,
		PingTime:              words[0],
		PingNanoTime:          words[1],
		PingNumber:            words[2],
		PingPeriod:            float64(words[3]) / 1e6,
		SoundSpeed:            float64(words[4]) / 1e2,
		Frequency:             float64(words[5]) / 1e3,
		SourceLevel:           float64(words[6]) / 1e2,
		PulseWidth:            float64(words[7]) / 1e7,
		BeamWidthVertical:     float64(words[8]) / 1e6,
		BeamWidthHorizontal:   float64(words[9]) / 1e6,
		SteeringVertical:      float64(words[10]) / 1e6,
		SteeringHorizontal:    float64(words[11]) / 1e6,
		TransmitInfo:          words[12],
		ReceiverBandwidth:     float64(words[13]) / 1e4,
		ReceiverSampleRate:    float64(words[14]) / 1e3,
		ReceiverRange:         float64(words[15]) / 1e5,
		ReceiverGain:          gain * 2,
		ReceiverGainSetting:   gain,
		ReceiverSpreadingLoss: float64(words[17]) / 1e3,
		Absorption:            float64(words[18]) / 1e3,
		MountTiltAngle:        float64(words[19]) / 1e6,
		ReceiverInfo:          words[20],
		Reserved:              reserved,
		NumBeams:              numBeams,
	}
	for i, v := range more {
		h.MoreInfo[i] = float64(v) / 1e6
	}
	return h, nil
}
