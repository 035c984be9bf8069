package lobby

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/outpost-project/rendezvous/internal/config"
	"github.com/outpost-project/rendezvous/internal/protocol"
)

// sentPacket records one outbound datagram.
type sentPacket struct {
	data []byte
	to   *net.UDPAddr
}

// fakeWriter captures outbound traffic instead of touching a socket.
type fakeWriter struct {
	sent []sentPacket
}

func (f *fakeWriter) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	data := make([]byte, len(b))
	copy(data, b)
	f.sent = append(f.sent, sentPacket{data: data, to: addr})
	return len(b), nil
}

func (f *fakeWriter) reset() {
	f.sent = nil
}

// testLobby is a lobby with a captured sender and a manual clock.
type testLobby struct {
	*Lobby
	out   *fakeWriter
	clock time.Time
}

func newTestLobby(t *testing.T) *testLobby {
	t.Helper()

	cfg := config.DefaultConfig()
	tl := &testLobby{
		Lobby: New(cfg, nil),
		out:   &fakeWriter{},
		clock: time.Date(2007, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	tl.Lobby.out = tl.out
	tl.Lobby.now = func() time.Time { return tl.clock }
	return tl
}

// advance moves the manual clock forward.
func (tl *testLobby) advance(d time.Duration) {
	tl.clock = tl.clock.Add(d)
}

// deliver validates and dispatches a raw datagram, as the event loop would.
func (tl *testLobby) deliver(t *testing.T, data []byte, from *net.UDPAddr) {
	t.Helper()
	tl.processDatagram(context.Background(), datagram{data: data, from: from})
}

// deliverMsg marshals a message and delivers it.
func (tl *testLobby) deliverMsg(t *testing.T, msg any, from *net.UDPAddr) {
	t.Helper()
	data, err := protocol.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	tl.deliver(t, data, from)
}

// decodeSent validates one captured outbound datagram and returns it.
// Every outbound datagram must pass the same validation required of
// inbound traffic.
func decodeSent(t *testing.T, p sentPacket) *protocol.Packet {
	t.Helper()
	pkt, err := protocol.Decode(p.data)
	if err != nil {
		t.Fatalf("outbound datagram fails inbound validation: %v", err)
	}
	return pkt
}

func addrOf(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip).To4(), Port: port}
}

// hostGame pokes a hosted game from addr and returns the serverRandValue
// the lobby put in its details query.
func (tl *testLobby) hostGame(t *testing.T, from *net.UDPAddr, randValue uint32) uint32 {
	t.Helper()

	before := len(tl.out.sent)
	tl.deliverMsg(t, protocol.GameServerPoke{
		CommandType: uint32(protocol.CmdGameServerPoke),
		StatusCode:  uint32(protocol.PokeGameHosted),
		RandValue:   randValue,
	}, from)

	if len(tl.out.sent) != before+1 {
		t.Fatalf("hosted poke produced %d datagrams, want 1", len(tl.out.sent)-before)
	}

	pkt := decodeSent(t, tl.out.sent[before])
	if pkt.Command() != protocol.CmdHostedGameSearchQuery {
		t.Fatalf("hosted poke triggered %v, want HostedGameSearchQuery", pkt.Command())
	}

	var query protocol.HostedGameSearchQuery
	if err := pkt.ReadBody(&query); err != nil {
		t.Fatalf("ReadBody failed: %v", err)
	}
	if query.GameIdentifier != protocol.GameIdentifier {
		t.Fatalf("details query carries wrong game identifier")
	}
	if query.TimeStamp == 0 {
		t.Fatalf("details query carries zero server token")
	}
	return query.TimeStamp
}

// replyDetails sends the host's search reply echoing the token.
func (tl *testLobby) replyDetails(t *testing.T, from *net.UDPAddr, token uint32, session protocol.SessionID, creator string) {
	t.Helper()

	var cgi protocol.CreateGameInfo
	copy(cgi.GameCreatorName[:], creator)
	cgi.MaxPlayers = 4

	tl.deliverMsg(t, protocol.HostedGameSearchReply{
		CommandType:       uint32(protocol.CmdHostedGameSearchReply),
		SessionIdentifier: session,
		CreateGameInfo:    cgi,
		HostAddress:       protocol.SockAddrFromUDP(from),
		TimeStamp:         token,
	}, from)
}

func TestHostLifecycle(t *testing.T) {
	tl := newTestLobby(t)
	ctx := context.Background()
	hostAddr := addrOf("1.2.3.4", 47800)
	session := protocol.SessionID{1, 2, 3, 4, 5}

	token := tl.hostGame(t, hostAddr, 0xAAAA)

	if got := tl.reg.len(); got != 1 {
		t.Fatalf("registry has %d entries, want 1", got)
	}
	g := tl.reg.games[0]
	if g.flags&flagExpected == 0 {
		t.Errorf("fresh entry is not expecting a reply")
	}

	tl.replyDetails(t, hostAddr, token, session, "HostA")

	if g.flags&flagReceived == 0 {
		t.Errorf("entry not marked received after details reply")
	}
	if g.flags&(flagExpected|flagRetrySent) != 0 {
		t.Errorf("expected/retry flags not cleared after details reply")
	}
	if g.SessionIdentifier != session {
		t.Errorf("session identifier not stored")
	}

	// At t+60s the lobby refreshes the entry.
	tl.out.reset()
	tl.advance(60 * time.Second)
	tl.doTimedUpdates(ctx)

	if len(tl.out.sent) != 1 {
		t.Fatalf("refresh pass sent %d datagrams, want 1", len(tl.out.sent))
	}
	pkt := decodeSent(t, tl.out.sent[0])
	if pkt.Command() != protocol.CmdHostedGameSearchQuery {
		t.Fatalf("refresh sent %v, want HostedGameSearchQuery", pkt.Command())
	}
	if got := tl.counters.UpdateRequestsSent.Load(); got != 1 {
		t.Errorf("UpdateRequestsSent = %d, want 1", got)
	}

	// The host stays silent; at t+64s the query is retried once.
	tl.out.reset()
	tl.advance(4 * time.Second)
	tl.doTimedUpdates(ctx)

	if len(tl.out.sent) != 1 {
		t.Fatalf("retry pass sent %d datagrams, want 1", len(tl.out.sent))
	}
	if got := tl.counters.RetriesSent.Load(); got != 1 {
		t.Errorf("RetriesSent = %d, want 1", got)
	}

	// At t+68s the entry is given up on.
	tl.out.reset()
	tl.advance(4 * time.Second)
	tl.doTimedUpdates(ctx)

	if got := tl.reg.len(); got != 0 {
		t.Fatalf("registry has %d entries after give-up, want 0", got)
	}
	if got := tl.counters.GamesDropped.Load(); got != 1 {
		t.Errorf("GamesDropped = %d, want 1", got)
	}
	if len(tl.out.sent) != 0 {
		t.Errorf("give-up pass sent %d datagrams, want 0", len(tl.out.sent))
	}
}

func TestSearchAndJoinRelay(t *testing.T) {
	tl := newTestLobby(t)
	hostAddr := addrOf("1.2.3.4", 47800)
	clientAddr := addrOf("5.6.7.8", 12345)
	session := protocol.SessionID{0xCA, 0xFE}

	token := tl.hostGame(t, hostAddr, 0xAAAA)
	tl.replyDetails(t, hostAddr, token, session, "HostA")

	// Client search: one reply per advertised game.
	tl.out.reset()
	tl.deliverMsg(t, protocol.HostedGameSearchQuery{
		CommandType:    uint32(protocol.CmdHostedGameSearchQuery),
		GameIdentifier: protocol.GameIdentifier,
	}, clientAddr)

	if len(tl.out.sent) != 1 {
		t.Fatalf("search produced %d replies, want 1", len(tl.out.sent))
	}
	if !tl.out.sent[0].to.IP.Equal(clientAddr.IP) || tl.out.sent[0].to.Port != clientAddr.Port {
		t.Errorf("search reply sent to %v, want %v", tl.out.sent[0].to, clientAddr)
	}

	pkt := decodeSent(t, tl.out.sent[0])
	var reply protocol.HostedGameSearchReply
	if err := pkt.ReadBody(&reply); err != nil {
		t.Fatalf("ReadBody failed: %v", err)
	}
	if reply.SessionIdentifier != session {
		t.Errorf("reply session mismatch")
	}
	if reply.HostAddress.Family != protocol.AFInet {
		t.Errorf("host address family %d, want %d", reply.HostAddress.Family, protocol.AFInet)
	}
	if got := reply.HostAddress.String(); got != "1.2.3.4:47800" {
		t.Errorf("reply host address %s, want 1.2.3.4:47800", got)
	}
	if got := reply.CreateGameInfo.CreatorName(); got != "HostA" {
		t.Errorf("reply creator %q, want HostA", got)
	}

	// Join request: relayed to the host as a JoinHelpRequest, no reply
	// to the client.
	tl.out.reset()
	tl.deliverMsg(t, protocol.JoinRequest{
		CommandType:       uint32(protocol.CmdJoinRequest),
		SessionIdentifier: session,
	}, clientAddr)

	if len(tl.out.sent) != 1 {
		t.Fatalf("join request produced %d datagrams, want 1", len(tl.out.sent))
	}
	if !tl.out.sent[0].to.IP.Equal(hostAddr.IP) || tl.out.sent[0].to.Port != hostAddr.Port {
		t.Errorf("join help sent to %v, want %v", tl.out.sent[0].to, hostAddr)
	}

	pkt = decodeSent(t, tl.out.sent[0])
	if pkt.Command() != protocol.CmdJoinHelpRequest {
		t.Fatalf("relayed command %v, want JoinHelpRequest", pkt.Command())
	}
	var help protocol.JoinHelpRequest
	if err := pkt.ReadBody(&help); err != nil {
		t.Fatalf("ReadBody failed: %v", err)
	}
	if got := help.ClientAddr.String(); got != "5.6.7.8:12345" {
		t.Errorf("relayed client addr %s, want 5.6.7.8:12345", got)
	}
	if help.ClientAddr.Family != protocol.AFInet {
		t.Errorf("relayed client addr family %d, want %d", help.ClientAddr.Family, protocol.AFInet)
	}
}

func TestDuplicateHostedPoke(t *testing.T) {
	tl := newTestLobby(t)
	hostAddr := addrOf("1.2.3.4", 47800)

	tl.hostGame(t, hostAddr, 0xAAAA)
	tl.hostGame(t, hostAddr, 0xAAAA)

	if got := tl.reg.len(); got != 1 {
		t.Errorf("registry has %d entries after duplicate poke, want 1", got)
	}
	if got := tl.counters.NewHosts.Load(); got != 1 {
		t.Errorf("NewHosts = %d, want 1", got)
	}
	if got := tl.counters.GamesHosted.Load(); got != 2 {
		t.Errorf("GamesHosted = %d, want 2", got)
	}
}

func TestSpoofedSearchReply(t *testing.T) {
	tl := newTestLobby(t)
	hostAddr := addrOf("1.2.3.4", 47800)
	attackerAddr := addrOf("9.9.9.9", 47800)

	token := tl.hostGame(t, hostAddr, 0xAAAA)

	// The attacker knows the token but sends from the wrong endpoint.
	tl.replyDetails(t, attackerAddr, token, protocol.SessionID{0xBA, 0xD0}, "Attacker")

	g := tl.reg.games[0]
	if g.flags&flagReceived != 0 {
		t.Errorf("spoofed reply marked the entry received")
	}
	if g.SessionIdentifier != (protocol.SessionID{}) {
		t.Errorf("spoofed reply stored a session identifier")
	}

	// A reply from the right endpoint with the wrong token is equally dead.
	tl.replyDetails(t, hostAddr, token+1, protocol.SessionID{0xBA, 0xD0}, "Attacker")
	if g.flags&flagReceived != 0 {
		t.Errorf("wrong-token reply marked the entry received")
	}
}

func TestExternalAddressEchoSamePort(t *testing.T) {
	tl := newTestLobby(t)
	clientAddr := addrOf("7.7.7.7", 47800)

	tl.deliverMsg(t, protocol.RequestExternalAddress{
		CommandType:  uint32(protocol.CmdRequestExternalAddress),
		InternalPort: 47800,
	}, clientAddr)

	if len(tl.out.sent) != 1 {
		t.Fatalf("echo request produced %d datagrams, want 1", len(tl.out.sent))
	}

	pkt := decodeSent(t, tl.out.sent[0])
	var echo protocol.EchoExternalAddress
	if err := pkt.ReadBody(&echo); err != nil {
		t.Fatalf("ReadBody failed: %v", err)
	}
	if echo.ReplyPort != 47800 {
		t.Errorf("reply port %d, want 47800", echo.ReplyPort)
	}
	if got := echo.Addr.String(); got != "7.7.7.7:47800" {
		t.Errorf("echoed address %s, want 7.7.7.7:47800", got)
	}
}

func TestExternalAddressEchoRemappedPort(t *testing.T) {
	tl := newTestLobby(t)
	clientAddr := addrOf("7.7.7.7", 50001)

	tl.deliverMsg(t, protocol.RequestExternalAddress{
		CommandType:  uint32(protocol.CmdRequestExternalAddress),
		InternalPort: 47800,
	}, clientAddr)

	if len(tl.out.sent) != 2 {
		t.Fatalf("echo request produced %d datagrams, want 2", len(tl.out.sent))
	}

	// First echo goes back to the observed endpoint.
	first := decodeSent(t, tl.out.sent[0])
	var echo protocol.EchoExternalAddress
	if err := first.ReadBody(&echo); err != nil {
		t.Fatalf("ReadBody failed: %v", err)
	}
	if tl.out.sent[0].to.Port != 50001 || echo.ReplyPort != 50001 {
		t.Errorf("first echo to port %d with replyPort %d, want 50001/50001", tl.out.sent[0].to.Port, echo.ReplyPort)
	}

	// Second echo goes to the claimed internal port.
	second := decodeSent(t, tl.out.sent[1])
	if err := second.ReadBody(&echo); err != nil {
		t.Fatalf("ReadBody failed: %v", err)
	}
	if tl.out.sent[1].to.Port != 47800 || echo.ReplyPort != 47800 {
		t.Errorf("second echo to port %d with replyPort %d, want 47800/47800", tl.out.sent[1].to.Port, echo.ReplyPort)
	}
	if !tl.out.sent[1].to.IP.Equal(clientAddr.IP) {
		t.Errorf("second echo IP %v, want %v", tl.out.sent[1].to.IP, clientAddr.IP)
	}
}

func TestMalformedPacketCounters(t *testing.T) {
	tl := newTestLobby(t)
	from := addrOf("3.3.3.3", 1000)

	good, err := protocol.Marshal(protocol.GameServerPoke{
		CommandType: uint32(protocol.CmdGameServerPoke),
		StatusCode:  uint32(protocol.PokeGameHosted),
		RandValue:   1,
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// Wrong type byte, checksum otherwise valid.
	data := append([]byte(nil), good...)
	data[9] = 2
	patchChecksum(data)
	tl.deliver(t, data, from)
	if got := tl.counters.TypeFieldErrors.Load(); got != 1 {
		t.Errorf("TypeFieldErrors = %d, want 1", got)
	}

	// Truncated datagram.
	tl.deliver(t, good[:protocol.HeaderSize], from)
	if got := tl.counters.MinSizeErrors.Load(); got != 1 {
		t.Errorf("MinSizeErrors = %d, want 1", got)
	}

	// Corrupted checksum.
	data = append([]byte(nil), good...)
	data[len(data)-1]++
	tl.deliver(t, data, from)
	if got := tl.counters.ChecksumFieldErrors.Load(); got != 1 {
		t.Errorf("ChecksumFieldErrors = %d, want 1", got)
	}

	// None of it reached the registry.
	if got := tl.reg.len(); got != 0 {
		t.Errorf("registry has %d entries, want 0", got)
	}
	if got := tl.counters.PacketsReceived.Load(); got != 0 {
		t.Errorf("PacketsReceived = %d, want 0", got)
	}
}

// patchChecksum recomputes the checksum field of a raw datagram.
func patchChecksum(data []byte) {
	sum := protocol.Checksum(data)
	data[10] = byte(sum)
	data[11] = byte(sum >> 8)
	data[12] = byte(sum >> 16)
	data[13] = byte(sum >> 24)
}

func TestWrongGameIdentifierSearchDropped(t *testing.T) {
	tl := newTestLobby(t)
	hostAddr := addrOf("1.2.3.4", 47800)
	clientAddr := addrOf("5.6.7.8", 12345)

	token := tl.hostGame(t, hostAddr, 0xAAAA)
	tl.replyDetails(t, hostAddr, token, protocol.SessionID{1}, "HostA")

	tl.out.reset()
	wrong := protocol.GameIdentifier
	wrong[0] ^= 0xFF
	tl.deliverMsg(t, protocol.HostedGameSearchQuery{
		CommandType:    uint32(protocol.CmdHostedGameSearchQuery),
		GameIdentifier: wrong,
	}, clientAddr)

	if len(tl.out.sent) != 0 {
		t.Errorf("wrong-game search produced %d replies, want 0", len(tl.out.sent))
	}
}

func TestUnadvertisedGameHiddenFromSearch(t *testing.T) {
	tl := newTestLobby(t)
	hostAddr := addrOf("1.2.3.4", 47800)
	clientAddr := addrOf("5.6.7.8", 12345)

	// Host poked but never answered the details query.
	tl.hostGame(t, hostAddr, 0xAAAA)

	tl.out.reset()
	tl.deliverMsg(t, protocol.HostedGameSearchQuery{
		CommandType:    uint32(protocol.CmdHostedGameSearchQuery),
		GameIdentifier: protocol.GameIdentifier,
	}, clientAddr)

	if len(tl.out.sent) != 0 {
		t.Errorf("search advertised %d unconfirmed games, want 0", len(tl.out.sent))
	}
}

func TestGameStartedAndCancelledFreeEntry(t *testing.T) {
	tl := newTestLobby(t)
	hostA := addrOf("1.2.3.4", 47800)
	hostB := addrOf("4.3.2.1", 47800)

	tl.hostGame(t, hostA, 0xAAAA)
	tl.hostGame(t, hostB, 0xBBBB)

	tl.deliverMsg(t, protocol.GameServerPoke{
		CommandType: uint32(protocol.CmdGameServerPoke),
		StatusCode:  uint32(protocol.PokeGameStarted),
		RandValue:   0xAAAA,
	}, hostA)

	if got := tl.reg.len(); got != 1 {
		t.Fatalf("registry has %d entries after start, want 1", got)
	}
	if got := tl.counters.GamesStarted.Load(); got != 1 {
		t.Errorf("GamesStarted = %d, want 1", got)
	}

	tl.deliverMsg(t, protocol.GameServerPoke{
		CommandType: uint32(protocol.CmdGameServerPoke),
		StatusCode:  uint32(protocol.PokeGameCancelled),
		RandValue:   0xBBBB,
	}, hostB)

	if got := tl.reg.len(); got != 0 {
		t.Fatalf("registry has %d entries after cancel, want 0", got)
	}
	if got := tl.counters.GamesCancelled.Load(); got != 1 {
		t.Errorf("GamesCancelled = %d, want 1", got)
	}

	// A started poke with an unknown token is a no-op.
	tl.deliverMsg(t, protocol.GameServerPoke{
		CommandType: uint32(protocol.CmdGameServerPoke),
		StatusCode:  uint32(protocol.PokeGameStarted),
		RandValue:   0xCCCC,
	}, hostA)
	if got := tl.counters.GamesStarted.Load(); got != 1 {
		t.Errorf("GamesStarted after unknown token = %d, want 1", got)
	}
}

func TestNoInitialReplyDrop(t *testing.T) {
	tl := newTestLobby(t)
	ctx := context.Background()
	hostAddr := addrOf("1.2.3.4", 47800)

	tl.hostGame(t, hostAddr, 0xAAAA)

	// Just under the deadline the entry survives.
	tl.advance(3 * time.Second)
	tl.doTimedUpdates(ctx)
	if got := tl.reg.len(); got != 1 {
		t.Fatalf("registry has %d entries before deadline, want 1", got)
	}

	tl.advance(1 * time.Second)
	tl.doTimedUpdates(ctx)
	if got := tl.reg.len(); got != 0 {
		t.Fatalf("registry has %d entries after deadline, want 0", got)
	}
	if got := tl.counters.DroppedHostedPokes.Load(); got != 1 {
		t.Errorf("DroppedHostedPokes = %d, want 1", got)
	}
}

func TestRefreshReplyKeepsEntryAlive(t *testing.T) {
	tl := newTestLobby(t)
	ctx := context.Background()
	hostAddr := addrOf("1.2.3.4", 47800)
	session := protocol.SessionID{9}

	token := tl.hostGame(t, hostAddr, 0xAAAA)
	tl.replyDetails(t, hostAddr, token, session, "HostA")

	// Refresh cycle: query at 60s, answered promptly.
	tl.out.reset()
	tl.advance(60 * time.Second)
	tl.doTimedUpdates(ctx)
	if len(tl.out.sent) != 1 {
		t.Fatalf("refresh pass sent %d datagrams, want 1", len(tl.out.sent))
	}

	// The token is unchanged across refreshes of the same hosting.
	pkt := decodeSent(t, tl.out.sent[0])
	var query protocol.HostedGameSearchQuery
	if err := pkt.ReadBody(&query); err != nil {
		t.Fatalf("ReadBody failed: %v", err)
	}
	if query.TimeStamp != token {
		t.Errorf("refresh token %#x, want %#x", query.TimeStamp, token)
	}

	tl.advance(2 * time.Second)
	tl.replyDetails(t, hostAddr, token, session, "HostA")

	// Well past the original give-up horizon the entry is still alive,
	// because the reply reset its clock.
	tl.out.reset()
	tl.advance(10 * time.Second)
	tl.doTimedUpdates(ctx)
	if got := tl.reg.len(); got != 1 {
		t.Fatalf("registry has %d entries, want 1", got)
	}
	if got := tl.counters.GamesDropped.Load(); got != 0 {
		t.Errorf("GamesDropped = %d, want 0", got)
	}
}

func TestRegistryCap(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ServerData.MaxGames = 2

	tl := &testLobby{
		Lobby: New(cfg, nil),
		out:   &fakeWriter{},
		clock: time.Date(2007, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	tl.Lobby.out = tl.out
	tl.Lobby.now = func() time.Time { return tl.clock }

	tl.hostGame(t, addrOf("1.1.1.1", 47800), 1)
	tl.hostGame(t, addrOf("2.2.2.2", 47800), 2)

	tl.deliverMsg(t, protocol.GameServerPoke{
		CommandType: uint32(protocol.CmdGameServerPoke),
		StatusCode:  uint32(protocol.PokeGameHosted),
		RandValue:   3,
	}, addrOf("3.3.3.3", 47800))

	if got := tl.reg.len(); got != 2 {
		t.Errorf("registry has %d entries, want cap of 2", got)
	}
	if got := tl.counters.FailedGameInfoAllocs.Load(); got != 1 {
		t.Errorf("FailedGameInfoAllocs = %d, want 1", got)
	}
}

func TestSnapshotFromLoop(t *testing.T) {
	tl := newTestLobby(t)
	hostAddr := addrOf("1.2.3.4", 47800)

	token := tl.hostGame(t, hostAddr, 0xAAAA)
	tl.replyDetails(t, hostAddr, token, protocol.SessionID{5}, "HostA")

	snap := tl.buildSnapshot()
	if len(snap.Games) != 1 {
		t.Fatalf("snapshot has %d games, want 1", len(snap.Games))
	}
	g := snap.Games[0]
	if !g.Advertised {
		t.Errorf("snapshot game not advertised")
	}
	if g.Creator != "HostA" {
		t.Errorf("snapshot creator %q, want HostA", g.Creator)
	}
	if g.Endpoint != "1.2.3.4:47800" {
		t.Errorf("snapshot endpoint %q", g.Endpoint)
	}
	if snap.Counters.GamesHosted != 1 {
		t.Errorf("snapshot GamesHosted = %d, want 1", snap.Counters.GamesHosted)
	}
}
