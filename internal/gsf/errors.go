package gsf

import (
	"errors"
	"fmt"
)

// Short fixed-size reads surface as io.ErrUnexpectedEOF.
var (
	ErrMalformedHeader      = errors.New("malformed datagram header")
	ErrMalformedRecord      = errors.New("malformed record")
	ErrMalformedScaleFactor = errors.New("scale factor multiplier is zero")
	ErrMissingScaleFactors  = errors.New("no scale factor for sub-record")

	errMmapUnsupported = errors.New("memory mapping not supported on this platform")
)

// RecordError attaches the stream position and record type to a decode
// failure.
type RecordError struct {
	Offset int64
	Type   RecordType
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s record at offset %d: %v", e.Type, e.Offset, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func recordError(info RecordInfo, err error) error {
	if err == nil {
		return nil
	}
	var re *RecordError
	if errors.As(err, &re) {
		return err
	}
	return &RecordError{Offset: info.Offset, Type: info.Header.Type, Err: err}
}
