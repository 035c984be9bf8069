package lobby

import (
	"context"
	"net"

	"github.com/outpost-project/rendezvous/internal/events"
	"github.com/outpost-project/rendezvous/internal/protocol"
)

// processPacket dispatches a validated packet to its per-command logic.
// Command tags that are not relevant to the rendezvous service are
// ignored without error.
func (l *Lobby) processPacket(ctx context.Context, pkt *protocol.Packet, from *net.UDPAddr) {
	switch pkt.Command() {
	case protocol.CmdJoinRequest:
		l.processJoinRequest(pkt, from)
	case protocol.CmdHostedGameSearchQuery:
		l.processGameSearchQuery(pkt, from)
	case protocol.CmdHostedGameSearchReply:
		l.processGameSearchReply(ctx, pkt, from)
	case protocol.CmdGameServerPoke:
		l.processPoke(ctx, pkt, from)
	case protocol.CmdRequestExternalAddress:
		l.processRequestExternalAddress(pkt, from)
	}
}

// processJoinRequest rewrites a client's join intent into a
// JoinHelpRequest carrying the client's observed endpoint and forwards
// it to every registered host of the named session. The client gets no
// reply; the host is expected to contact it directly.
func (l *Lobby) processJoinRequest(pkt *protocol.Packet, from *net.UDPAddr) {
	if len(pkt.Payload) != protocol.JoinRequestSize {
		return // Discard (bad size)
	}

	var req protocol.JoinRequest
	if err := pkt.ReadBody(&req); err != nil {
		return
	}

	l.logger.Info().Str("from", from.String()).Msg("game join request")

	help := protocol.JoinHelpRequest{
		CommandType:       uint32(protocol.CmdJoinHelpRequest),
		SessionIdentifier: req.SessionIdentifier,
		ReturnPortNum:     req.ReturnPortNum,
		Password:          req.Password,
		ClientAddr:        protocol.SockAddrFromUDP(from),
	}

	// Normally at most one session matches, but every match is notified.
	for _, g := range l.reg.games {
		if g.SessionIdentifier == req.SessionIdentifier {
			l.send(pkt.Header, help, g.Addr)
		}
	}
}

// processGameSearchQuery answers a client's game search with one reply
// datagram per advertised game. Entries whose details have not arrived
// yet are never advertised.
func (l *Lobby) processGameSearchQuery(pkt *protocol.Packet, from *net.UDPAddr) {
	if len(pkt.Payload) != protocol.HostedGameSearchQuerySize {
		return // Discard (bad size)
	}

	var query protocol.HostedGameSearchQuery
	if err := pkt.ReadBody(&query); err != nil {
		return
	}
	if query.GameIdentifier != protocol.GameIdentifier {
		return // Discard (wrong game)
	}

	l.logger.Info().Str("from", from.String()).Msg("game search query")

	for _, g := range l.reg.games {
		if g.flags&flagReceived == 0 {
			continue
		}

		l.logger.Debug().Str("creator", g.CreateGameInfo.CreatorName()).Msg("advertising game")

		reply := protocol.HostedGameSearchReply{
			CommandType:       uint32(protocol.CmdHostedGameSearchReply),
			SessionIdentifier: g.SessionIdentifier,
			CreateGameInfo:    g.CreateGameInfo,
			HostAddress:       protocol.SockAddrFromUDP(g.Addr),
			TimeStamp:         query.TimeStamp,
		}
		l.send(pkt.Header, reply, from)
	}
}

// processGameSearchReply accepts game details from a host answering one
// of our refresh queries. The reply must come from the solicited
// endpoint and echo the serverRandValue token; anything else is treated
// as spoofing and dropped without touching the registry.
func (l *Lobby) processGameSearchReply(ctx context.Context, pkt *protocol.Packet, from *net.UDPAddr) {
	if len(pkt.Payload) != protocol.HostedGameSearchReplySize {
		return // Discard (bad size)
	}

	var reply protocol.HostedGameSearchReply
	if err := pkt.ReadBody(&reply); err != nil {
		return
	}

	index := l.reg.findByServerToken(from, reply.TimeStamp)
	if index == invalidIndex {
		return // Discard (not requested or bad token, possible spoofing)
	}
	g := l.reg.games[index]

	l.logger.Info().Str("from", from.String()).Msg("received host info")

	g.Addr = from
	g.SessionIdentifier = reply.SessionIdentifier
	g.CreateGameInfo = reply.CreateGameInfo
	g.flags |= flagReceived
	g.flags &^= flagExpected | flagRetrySent
	g.time = l.now()

	l.emitGameEvent(ctx, events.EventGameUpdated, g, "")
}

// processPoke handles host state announcements.
func (l *Lobby) processPoke(ctx context.Context, pkt *protocol.Packet, from *net.UDPAddr) {
	if len(pkt.Payload) != protocol.GameServerPokeSize {
		return // Discard (bad size)
	}

	var poke protocol.GameServerPoke
	if err := pkt.ReadBody(&poke); err != nil {
		return
	}

	index := l.reg.findByClientToken(from, poke.RandValue)

	switch protocol.PokeStatusCode(poke.StatusCode) {
	case protocol.PokeGameHosted:
		newHost := false
		if index == invalidIndex {
			l.counters.NewHosts.Add(1)
			newHost = true
			index = l.reg.alloc()
		}
		if index == invalidIndex {
			l.counters.FailedGameInfoAllocs.Add(1)
			return // Abort (registry at capacity)
		}
		g := l.reg.games[index]

		l.logger.Info().Str("from", from.String()).Msg("game hosted")

		g.Addr = from
		g.ClientRandValue = poke.RandValue
		g.ServerRandValue = l.reg.newServerRandValue()
		g.flags |= flagExpected
		g.time = l.now()

		l.sendGameInfoRequest(from, g.ServerRandValue)

		l.counters.GamesHosted.Add(1)
		if newHost {
			l.emitGameEvent(ctx, events.EventGameHosted, g, "")
		}

	case protocol.PokeGameStarted:
		if index == invalidIndex {
			return
		}
		l.logger.Info().Str("from", from.String()).Msg("game started")

		g := l.reg.games[index]
		l.emitGameEvent(ctx, events.EventGameStarted, g, "")
		l.reg.free(index)
		l.counters.GamesStarted.Add(1)

	case protocol.PokeGameCancelled:
		if index == invalidIndex {
			return
		}
		l.logger.Info().Str("from", from.String()).Msg("game cancelled")

		g := l.reg.games[index]
		l.emitGameEvent(ctx, events.EventGameCancelled, g, "")
		l.reg.free(index)
		l.counters.GamesCancelled.Add(1)
	}
}

// processRequestExternalAddress echoes the observed source endpoint back
// to the sender. When the observed source port differs from the port the
// client says it sent from, a second echo goes to the claimed internal
// port, so the client learns whether its NAT remaps ports without
// needing a second socket.
func (l *Lobby) processRequestExternalAddress(pkt *protocol.Packet, from *net.UDPAddr) {
	if len(pkt.Payload) != protocol.RequestExternalAddressSize {
		return // Discard (bad size)
	}

	var req protocol.RequestExternalAddress
	if err := pkt.ReadBody(&req); err != nil {
		return
	}

	echo := protocol.EchoExternalAddress{
		CommandType: uint32(protocol.CmdEchoExternalAddress),
		Addr:        protocol.SockAddrFromUDP(from),
		ReplyPort:   uint16(from.Port),
	}
	l.send(pkt.Header, echo, from)

	if uint16(from.Port) != req.InternalPort {
		echo.ReplyPort = req.InternalPort
		l.send(pkt.Header, echo, &net.UDPAddr{IP: from.IP, Port: int(req.InternalPort)})
	}
}
