package securemem

import (
	"github.com/awnumar/memguard"
)

// Secret wraps a memguard locked buffer holding key material.
type Secret struct {
	buf *memguard.LockedBuffer
}

// New moves b into locked memory. The source slice is wiped.
func New(b []byte) *Secret {
	return &Secret{buf: memguard.NewBufferFromBytes(b)}
}

func NewRandom(n int) *Secret {
	return &Secret{buf: memguard.NewBufferRandom(n)}
}

func (s *Secret) Bytes() []byte { return s.buf.Bytes() }
func (s *Secret) Destroy()      { s.buf.Destroy() }

// Wipe zeroes a transient buffer that held key material.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}
