// Package protocol implements the legacy rendezvous wire format shared
// with the game client: a fixed 14-byte header followed by a
// command-tagged message body. All integers are little-endian except the
// embedded sockaddr-style endpoint structures, whose port and address
// bytes stay in network order exactly as the socket observed them.
package protocol

// CommandType tags the message body that follows the packet header.
type CommandType uint32

// Transport layer command tags. JoinReply and JoinRefused are exchanged
// between clients; the rendezvous service ignores them.
const (
	CmdJoinRequest            CommandType = 0
	CmdJoinReply              CommandType = 1
	CmdJoinRefused            CommandType = 2
	CmdJoinHelpRequest        CommandType = 3
	CmdHostedGameSearchQuery  CommandType = 4
	CmdHostedGameSearchReply  CommandType = 5
	CmdGameServerPoke         CommandType = 6
	CmdRequestExternalAddress CommandType = 7
	CmdEchoExternalAddress    CommandType = 8
)

// commandTypeStrings maps command tags to their protocol names for logging.
var commandTypeStrings = map[CommandType]string{
	CmdJoinRequest:            "JoinRequest",
	CmdJoinReply:              "JoinReply",
	CmdJoinRefused:            "JoinRefused",
	CmdJoinHelpRequest:        "JoinHelpRequest",
	CmdHostedGameSearchQuery:  "HostedGameSearchQuery",
	CmdHostedGameSearchReply:  "HostedGameSearchReply",
	CmdGameServerPoke:         "GameServerPoke",
	CmdRequestExternalAddress: "RequestExternalAddress",
	CmdEchoExternalAddress:    "EchoExternalAddress",
}

// String returns the protocol name of the command tag.
func (c CommandType) String() string {
	if s, ok := commandTypeStrings[c]; ok {
		return s
	}
	return "Unknown"
}

// PokeStatusCode is the status a game host asserts in a GameServerPoke.
type PokeStatusCode uint32

const (
	PokeGameHosted    PokeStatusCode = 0
	PokeGameStarted   PokeStatusCode = 1
	PokeGameCancelled PokeStatusCode = 2
)

// PacketTypeGameData is the only header type the rendezvous service accepts.
const PacketTypeGameData = 1

// DefaultServerPort is the primary UDP port; the secondary socket binds
// to the next port up.
const DefaultServerPort = 47800

// Fixed on-wire sizes. The header is 14 bytes; every body begins with a
// 4-byte command tag. MaxDatagramSize bounds the receive buffer; the
// largest legal datagram is a search reply.
const (
	HeaderSize     = 14
	CommandTagSize = 4

	JoinRequestSize            = 34
	JoinHelpRequestSize        = 50
	HostedGameSearchQuerySize  = 36
	HostedGameSearchReplySize  = 60
	GameServerPokeSize         = 12
	RequestExternalAddressSize = 6
	EchoExternalAddressSize    = 22

	MaxDatagramSize = 512
)

// GUID is a Windows-style GUID serialized with Data1/Data2/Data3 in
// little-endian order and Data4 raw, matching the client's in-memory layout.
type GUID [16]byte

// GameIdentifier is the well-known GUID {5A55CF11-B841-11CE-9210-00AA006C4972}
// every search query must carry. Queries for any other game are dropped.
var GameIdentifier = GUID{
	0x11, 0xCF, 0x55, 0x5A,
	0x41, 0xB8,
	0xCE, 0x11,
	0x92, 0x10, 0x00, 0xAA, 0x00, 0x6C, 0x49, 0x72,
}

// SessionID is the opaque 16-byte value a host chooses to name a game session.
type SessionID [16]byte

// Header precedes every datagram. SourcePlayerNetID and DestPlayerNetID
// belong to the game protocol; the rendezvous service preserves but never
// interprets them. Checksum covers the whole datagram with this field
// taken as zero.
type Header struct {
	SourcePlayerNetID uint32
	DestPlayerNetID   uint32
	SizeOfPayload     uint8
	Type              uint8
	Checksum          uint32
}

// CreateGameInfo is the host-provided description of a hosted game. The
// service stores and echoes it verbatim; its fields are read only for
// logging and for the monitoring views (snapshots and lifecycle events).
type CreateGameInfo struct {
	GameCreatorName [15]byte
	MaxPlayers      uint8
	GameType        int32
}

// CreatorName returns the NUL-trimmed creator name for logging.
func (c CreateGameInfo) CreatorName() string {
	for i, b := range c.GameCreatorName {
		if b == 0 {
			return string(c.GameCreatorName[:i])
		}
	}
	return string(c.GameCreatorName[:])
}

// JoinRequest asks the rendezvous service to introduce the sender to the
// host of the named session.
type JoinRequest struct {
	CommandType       uint32
	SessionIdentifier SessionID
	ReturnPortNum     uint16
	Password          [12]byte
}

// JoinHelpRequest is the relayed form of a JoinRequest: the same body
// with the client's observed endpoint appended, forwarded to the host.
type JoinHelpRequest struct {
	CommandType       uint32
	SessionIdentifier SessionID
	ReturnPortNum     uint16
	Password          [12]byte
	ClientAddr        SockAddr
}

// HostedGameSearchQuery is sent by clients to list games, and by the
// service to a known host to solicit fresh game details. When the service
// sends it, TimeStamp carries the anti-spoofing serverRandValue the host
// must echo back.
type HostedGameSearchQuery struct {
	CommandType    uint32
	GameIdentifier GUID
	TimeStamp      uint32
	Password       [12]byte
}

// HostedGameSearchReply describes one advertised game. Hosts send it to
// the service in answer to a refresh query (TimeStamp echoing the token);
// the service sends it to searching clients, one datagram per game.
type HostedGameSearchReply struct {
	CommandType       uint32
	SessionIdentifier SessionID
	CreateGameInfo    CreateGameInfo
	HostAddress       SockAddr
	TimeStamp         uint32
}

// GameServerPoke announces host state. RandValue is the host's own
// anti-spoofing token; every poke claiming the same hosted game must
// repeat it.
type GameServerPoke struct {
	CommandType uint32
	StatusCode  uint32
	RandValue   uint32
}

// RequestExternalAddress asks the service to echo back the sender's
// observed endpoint. InternalPort is the port the client believes it is
// sending from.
type RequestExternalAddress struct {
	CommandType  uint32
	InternalPort uint16
}

// EchoExternalAddress returns the observed endpoint. ReplyPort names the
// destination port this echo was addressed to, so the client can tell
// which of its ports the datagram reached.
type EchoExternalAddress struct {
	CommandType uint32
	Addr        SockAddr
	ReplyPort   uint16
}
