package broker

import "fmt"

// Error is a broker failure with the HTTP status the transport layer
// should surface. Message maps to the "error" field of the JSON error
// body, Details to the optional "details" field.
type Error struct {
	Status  int
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}
