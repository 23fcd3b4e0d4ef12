// Package constructed implements the constructed (SEQUENCE/CHOICE) BACnet
// types built on top of pkg/tagcodec's tag header and primitive codecs:
// date-time, object/property references, priority arrays, and the CHOICE
// types (fault parameters, timestamps, recipients, value sources) that
// appear as object property values and APDU service parameters.
package constructed

import "fmt"

// DecodeError reports a failure to decode a constructed value.
type DecodeError struct {
	Msg string
}

func (e *DecodeError) Error() string { return "constructed: " + e.Msg }

func newDecodeError(format string, args ...interface{}) *DecodeError {
	return &DecodeError{Msg: fmt.Sprintf(format, args...)}
}
