package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Validation failures for inbound datagrams, in the order the checks run.
// Each maps to its own receive-error counter.
var (
	ErrMinSize   = errors.New("datagram shorter than header plus command tag")
	ErrSizeField = errors.New("size field does not match bytes received")
	ErrTypeField = errors.New("unexpected packet type")
	ErrChecksum  = errors.New("checksum mismatch")
)

// checksumOffset is the byte offset of the checksum field inside the header.
const checksumOffset = 10

// Checksum computes the additive 32-bit checksum of a complete datagram.
// The four checksum bytes themselves are taken as zero. The algorithm
// must stay byte-compatible with the legacy client.
func Checksum(data []byte) uint32 {
	var sum uint32
	for i, b := range data {
		if i >= checksumOffset && i < checksumOffset+4 {
			continue
		}
		sum += uint32(b)
	}
	return sum
}

// Packet is a validated datagram: its header plus the raw message body.
type Packet struct {
	Header  Header
	Payload []byte
}

// Command returns the body's command tag.
func (p *Packet) Command() CommandType {
	return CommandType(binary.LittleEndian.Uint32(p.Payload[:CommandTagSize]))
}

// Decode validates a received datagram and splits it into header and
// body. The checks run in a fixed order (minimum size, size field, type
// field, checksum) and the first failure is returned so the caller can
// count it.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize+CommandTagSize {
		return nil, ErrMinSize
	}

	var hdr Header
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, ErrMinSize
	}

	if int(hdr.SizeOfPayload)+HeaderSize != len(data) {
		return nil, ErrSizeField
	}
	if hdr.Type != PacketTypeGameData {
		return nil, ErrTypeField
	}
	if hdr.Checksum != Checksum(data) {
		return nil, ErrChecksum
	}

	payload := make([]byte, len(data)-HeaderSize)
	copy(payload, data[HeaderSize:])

	return &Packet{Header: hdr, Payload: payload}, nil
}

// ReadBody deserializes the packet body into the given message struct.
// The caller is expected to have checked the payload size against the
// message's fixed wire size first.
func (p *Packet) ReadBody(msg any) error {
	if err := binary.Read(bytes.NewReader(p.Payload), binary.LittleEndian, msg); err != nil {
		return fmt.Errorf("failed to read %s body: %w", p.Command(), err)
	}
	return nil
}

// Marshal serializes a message into a complete datagram: header with the
// computed payload size and checksum, followed by the little-endian body.
// The message's first field must be its command tag. Player net IDs are
// zero; use MarshalFrom to carry over those of an inbound header.
func Marshal(msg any) ([]byte, error) {
	return MarshalFrom(Header{}, msg)
}

// MarshalFrom serializes a message like Marshal but preserves the player
// net IDs of the given header. Used when rewriting an inbound packet into
// a relayed one.
func MarshalFrom(hdr Header, msg any) ([]byte, error) {
	var body bytes.Buffer
	if err := binary.Write(&body, binary.LittleEndian, msg); err != nil {
		return nil, fmt.Errorf("failed to serialize message body: %w", err)
	}
	if body.Len() > 255 {
		return nil, fmt.Errorf("message body too large: %d bytes", body.Len())
	}

	hdr.SizeOfPayload = uint8(body.Len())
	hdr.Type = PacketTypeGameData
	hdr.Checksum = 0

	var out bytes.Buffer
	out.Grow(HeaderSize + body.Len())
	if err := binary.Write(&out, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("failed to serialize header: %w", err)
	}
	out.Write(body.Bytes())

	data := out.Bytes()
	binary.LittleEndian.PutUint32(data[checksumOffset:], Checksum(data))

	return data, nil
}
