package lobby

import (
	"net"
	"time"

	"github.com/outpost-project/rendezvous/internal/protocol"
)

// gameFlags tracks the refresh state of a registry entry.
type gameFlags uint8

const (
	// flagReceived: game details have arrived; the entry may be advertised.
	flagReceived gameFlags = 1 << iota
	// flagExpected: a refresh query is outstanding.
	flagExpected
	// flagRetrySent: the outstanding query has been retried once.
	flagRetrySent
)

// invalidIndex marks a failed registry lookup or allocation.
const invalidIndex = -1

// GameInfo is one advertised game. Addr is the host's observed endpoint;
// SessionIdentifier and CreateGameInfo stay zero until the host answers
// the first details query. ClientRandValue authenticates later pokes from
// the same host, ServerRandValue authenticates the host's refresh replies.
type GameInfo struct {
	Addr              *net.UDPAddr
	SessionIdentifier protocol.SessionID
	CreateGameInfo    protocol.CreateGameInfo
	ClientRandValue   uint32
	ServerRandValue   uint32
	flags             gameFlags
	time              time.Time
}

// registry is the ordered in-memory collection of advertised games. It is
// small (bounded by live hosts and maxGames), so lookups are linear scans.
// Only the loop goroutine touches it.
type registry struct {
	games    []*GameInfo
	maxGames int
}

// sameEndpoint reports whether two UDP endpoints are byte-identical
// (exact IPv4 address and port).
func sameEndpoint(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

// findByClientToken locates the entry whose endpoint and clientRandValue
// both match. Used when processing pokes.
func (r *registry) findByClientToken(from *net.UDPAddr, clientRandValue uint32) int {
	for i, g := range r.games {
		if g.ClientRandValue == clientRandValue && sameEndpoint(g.Addr, from) {
			return i
		}
	}
	return invalidIndex
}

// findByServerToken locates the entry whose endpoint and serverRandValue
// both match. Used when processing search replies; a miss means the reply
// was never solicited or is spoofed.
func (r *registry) findByServerToken(from *net.UDPAddr, serverRandValue uint32) int {
	for i, g := range r.games {
		if g.ServerRandValue == serverRandValue && sameEndpoint(g.Addr, from) {
			return i
		}
	}
	return invalidIndex
}

// hasServerToken reports whether any live entry already uses the token.
func (r *registry) hasServerToken(serverRandValue uint32) bool {
	for _, g := range r.games {
		if g.ServerRandValue == serverRandValue {
			return true
		}
	}
	return false
}

// alloc appends a fresh zeroed entry and returns its index, or
// invalidIndex when the registry is at capacity.
func (r *registry) alloc() int {
	if r.maxGames > 0 && len(r.games) >= r.maxGames {
		return invalidIndex
	}
	r.games = append(r.games, &GameInfo{})
	return len(r.games) - 1
}

// free removes the entry at index. Remaining order is irrelevant to
// correctness, but the shift keeps iteration simple for the timer driver.
func (r *registry) free(index int) bool {
	if index < 0 || index >= len(r.games) {
		return false
	}
	r.games = append(r.games[:index], r.games[index+1:]...)
	return true
}

// len returns the number of live entries.
func (r *registry) len() int {
	return len(r.games)
}
