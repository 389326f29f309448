package ir

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeOutOfRange is returned for timestamps that do not fit in int64
// Unix nanoseconds, roughly the years 1678 to 2262.
var ErrTimeOutOfRange = errors.New("time outside storable range")

// CheckTime fails with ErrTimeOutOfRange unless t survives a round trip
// through Unix nanoseconds, the representation the durable store uses.
func CheckTime(t time.Time) error {
	if !time.Unix(0, t.UnixNano()).Equal(t) {
		return fmt.Errorf("%w: %s", ErrTimeOutOfRange, t.UTC().Format(time.RFC3339))
	}
	return nil
}
