package lobby

import (
	"crypto/rand"
	"encoding/binary"
)

// newRandValue returns an unpredictable 32-bit token. The token is the
// only defense against spoofed refresh replies, so it must come from a
// cryptographic source. Zero is reserved so an unset field can never
// match a live token.
func newRandValue() uint32 {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			// crypto/rand failing means the platform entropy source is
			// gone; there is no safe fallback for an anti-spoofing token.
			panic("lobby: crypto/rand unavailable: " + err.Error())
		}
		if v := binary.LittleEndian.Uint32(buf[:]); v != 0 {
			return v
		}
	}
}

// newServerRandValue returns a token not used by any live registry entry,
// keeping server tokens unique across the registry.
func (r *registry) newServerRandValue() uint32 {
	for {
		v := newRandValue()
		if !r.hasServerToken(v) {
			return v
		}
	}
}
