package soter

import (
	"errors"
	"fmt"
)

// Every operation reports exactly one of these outcomes; success is a nil
// error. Decryption failures deliberately collapse into ErrFail so that no
// padding detail leaks through differentiated error paths.
var (
	ErrInvalidParameter = errors.New("soter: invalid parameter")
	ErrNoMemory         = errors.New("soter: no memory")
	ErrFail             = errors.New("soter: operation failed")
)

// BufferTooSmallError is the one recoverable status: the output buffer was
// too short, Required holds the size a retry must provide. No output has
// been written when it is returned.
type BufferTooSmallError struct {
	Required int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("soter: buffer too small, %v bytes required", e.Required)
}

// BufferTooSmall reports whether err is a buffer-size negotiation result,
// and if so the required buffer length.
func BufferTooSmall(err error) (int, bool) {
	var tooSmall *BufferTooSmallError
	if errors.As(err, &tooSmall) {
		return tooSmall.Required, true
	}
	return 0, false
}
