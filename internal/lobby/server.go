// Package lobby implements the rendezvous core: the UDP socket pair, the
// in-memory registry of advertised games, the protocol handler, and the
// timer driver that keeps the registry honest.
//
// All registry and flag mutation happens on the single loop goroutine.
// Each socket has a reader goroutine that only forwards raw datagrams
// over a channel, preserving per-source arrival order.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/outpost-project/rendezvous/internal/config"
	"github.com/outpost-project/rendezvous/internal/events"
	"github.com/outpost-project/rendezvous/internal/network"
	"github.com/outpost-project/rendezvous/internal/protocol"
	"github.com/outpost-project/rendezvous/internal/util"
)

// datagram is one raw inbound UDP payload with its source endpoint.
type datagram struct {
	data []byte
	from *net.UDPAddr
}

// packetWriter is the outbound half of the primary socket. Tests swap in
// a recorder.
type packetWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Lobby is the rendezvous service core. Create with New, run with Start.
type Lobby struct {
	cfg    *config.Config
	bus    *events.Bus
	logger zerolog.Logger

	primary   *net.UDPConn
	secondary *net.UDPConn
	out       packetWriter

	inbound    chan datagram
	snapshotCh chan chan Snapshot

	counters Counters
	reg      registry

	startedAt time.Time
	now       func() time.Time
}

// New creates a lobby bound to nothing yet.
func New(cfg *config.Config, bus *events.Bus) *Lobby {
	return &Lobby{
		cfg:        cfg,
		bus:        bus,
		logger:     util.ComponentLogger("lobby"),
		inbound:    make(chan datagram, 256),
		snapshotCh: make(chan chan Snapshot),
		reg:        registry{maxGames: cfg.GetServerData().MaxGames},
		now:        time.Now,
	}
}

// Start binds the socket pair and runs the event loop until the context
// is cancelled. Bind failures are fatal and returned to the caller;
// later errors never stop the lobby: malformed datagrams and send
// failures are counted, socket read errors are logged.
func (l *Lobby) Start(ctx context.Context) error {
	port := l.cfg.GetServerData().Port

	primary, err := bindUDP(ctx, port)
	if err != nil {
		return fmt.Errorf("failed to bind primary UDP socket on port %d: %w", port, err)
	}
	secondary, err := bindUDP(ctx, port+1)
	if err != nil {
		primary.Close()
		return fmt.Errorf("failed to bind secondary UDP socket on port %d: %w", port+1, err)
	}

	l.primary = primary
	l.secondary = secondary
	l.out = primary
	l.startedAt = l.now()

	l.logger.Info().
		Int("port", port).
		Int("secondary_port", port+1).
		Msg("rendezvous sockets bound")

	// Close both sockets when the context is cancelled so the readers
	// unblock.
	go func() {
		<-ctx.Done()
		primary.Close()
		secondary.Close()
	}()

	go l.readSocket(ctx, primary, "primary")
	go l.readSocket(ctx, secondary, "secondary")

	l.run(ctx)

	l.logger.Info().Msg("lobby stopped")
	return nil
}

// bindUDP binds one non-blocking IPv4 UDP socket on INADDR_ANY.
func bindUDP(ctx context.Context, port int) (*net.UDPConn, error) {
	lc := network.ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// readSocket forwards raw datagrams from one socket into the loop
// channel. Inbound datagrams are accepted on either socket; the
// secondary exists solely so clients can aim traffic at port+1 during
// NAT traversal tests.
func (l *Lobby) readSocket(ctx context.Context, conn *net.UDPConn, name string) {
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn().Err(err).Str("socket", name).Msg("UDP read error")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case l.inbound <- datagram{data: data, from: from}:
		case <-ctx.Done():
			return
		}
	}
}

// run is the event loop: drain every queued datagram, running the timer
// driver after each one, then block for up to one second waiting for more
// traffic. Because the timer driver runs inside the drain, a long inbound
// burst delays timed actions by at most one datagram.
func (l *Lobby) run(ctx context.Context) {
	for {
		for {
			readAny := false
			select {
			case d := <-l.inbound:
				l.processDatagram(ctx, d)
				readAny = true
			default:
			}

			l.doTimedUpdates(ctx)

			if !readAny {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case d := <-l.inbound:
			l.processDatagram(ctx, d)
		case reply := <-l.snapshotCh:
			reply <- l.buildSnapshot()
		case <-time.After(time.Second):
		}
	}
}

// processDatagram validates one datagram and dispatches it. Each
// validation failure has its own counter; the datagram is dropped
// without reply.
func (l *Lobby) processDatagram(ctx context.Context, d datagram) {
	pkt, err := protocol.Decode(d.data)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrMinSize):
			l.counters.MinSizeErrors.Add(1)
		case errors.Is(err, protocol.ErrSizeField):
			l.counters.SizeFieldErrors.Add(1)
		case errors.Is(err, protocol.ErrTypeField):
			l.counters.TypeFieldErrors.Add(1)
		case errors.Is(err, protocol.ErrChecksum):
			l.counters.ChecksumFieldErrors.Add(1)
		}
		l.logger.Trace().Err(err).Str("from", d.from.String()).Msg("dropping malformed datagram")
		return
	}

	l.counters.PacketsReceived.Add(1)
	l.counters.BytesReceived.Add(uint64(len(d.data)))

	l.processPacket(ctx, pkt, d.from)
}

// send serializes a message and transmits it via the primary socket,
// preserving the player net IDs of hdr. Send failures are counted and
// otherwise ignored.
func (l *Lobby) send(hdr protocol.Header, msg any, to *net.UDPAddr) {
	data, err := protocol.MarshalFrom(hdr, msg)
	if err != nil {
		l.logger.Error().Err(err).Str("to", to.String()).Msg("failed to serialize outbound packet")
		return
	}

	if _, err := l.out.WriteToUDP(data, to); err != nil {
		l.counters.SendErrors.Add(1)
		l.logger.Warn().Err(err).Str("to", to.String()).Msg("send failed")
		return
	}

	l.counters.PacketsSent.Add(1)
	l.counters.BytesSent.Add(uint64(len(data)))
}

// sendGameInfoRequest solicits current game details from a host. The
// host must echo serverRandValue in its reply's timeStamp field.
func (l *Lobby) sendGameInfoRequest(to *net.UDPAddr, serverRandValue uint32) {
	query := protocol.HostedGameSearchQuery{
		CommandType:    uint32(protocol.CmdHostedGameSearchQuery),
		GameIdentifier: protocol.GameIdentifier,
		TimeStamp:      serverRandValue,
	}
	l.send(protocol.Header{}, query, to)
}

// emitGameEvent publishes a lobby lifecycle transition on the bus.
func (l *Lobby) emitGameEvent(ctx context.Context, typ events.EventType, g *GameInfo, reason events.DropReason) {
	if l.bus == nil {
		return
	}

	payload := events.GamePayload{
		Endpoint: g.Addr.String(),
		Reason:   reason,
	}
	if g.flags&flagReceived != 0 {
		payload.SessionID = fmt.Sprintf("%x", g.SessionIdentifier[:])
		payload.Creator = g.CreateGameInfo.CreatorName()
		payload.MaxPlayers = g.CreateGameInfo.MaxPlayers
	}

	l.bus.Emit(ctx, events.Event{
		Type:    typ,
		Source:  "lobby",
		Payload: payload,
	})
}

// StartServer runs a rendezvous lobby on the given primary UDP port with
// default settings and no event bus, blocking until the context is
// cancelled. Surrounding executables that want telemetry, API, or
// history wiring construct the components themselves.
func StartServer(ctx context.Context, port int) error {
	cfg := config.DefaultConfig()
	cfg.ServerData.Port = port
	return New(cfg, nil).Start(ctx)
}
