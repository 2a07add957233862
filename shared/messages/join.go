package messages

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// ConnectionlessPrefix starts every packet sent outside a sequenced channel.
const ConnectionlessPrefix uint32 = 0xFFFFFFFF

// Kind identifies the body of a connectionless packet.
type Kind uint8

const (
	KindGetChallenge Kind = iota + 1
	KindChallenge
	KindConnect
	KindConnectResponse
	KindDisconnect
)

func (k Kind) String() string {
	switch k {
	case KindGetChallenge:
		return "getchallenge"
	case KindChallenge:
		return "challenge"
	case KindConnect:
		return "connect"
	case KindConnectResponse:
		return "connectResponse"
	case KindDisconnect:
		return "disconnect"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// GetChallenge is the first packet a client sends.
type GetChallenge struct {
	Protocol int `codec:"protocol"`
}

// Challenge is the server's reply; the token must be echoed in Connect so a
// spoofed source address cannot complete a connection.
type Challenge struct {
	Token string `codec:"token"`
}

// Connect requests a client slot. EntityFields and PlayerFields let the server
// refuse a client whose field tables differ from its own.
type Connect struct {
	Challenge    string `codec:"challenge"`
	Protocol     int    `codec:"protocol"`
	EntityFields int    `codec:"entityFields"`
	PlayerFields int    `codec:"playerFields"`
	Name         string `codec:"name"`
}

// ConnectResponse accepts or rejects a Connect.
type ConnectResponse struct {
	Accepted   bool   `codec:"accepted"`
	Reason     string `codec:"reason,omitempty"`
	ClientNum  int    `codec:"clientNum"`
	EntityNum  uint16 `codec:"entityNum"`
	TickRate   int    `codec:"tickRate"`
	ServerName string `codec:"serverName"`
	MapName    string `codec:"mapName"`
}

// Disconnect ends a connection from either side.
type Disconnect struct {
	Reason string `codec:"reason"`
}

// Envelope is the msgpack body of a connectionless packet. Exactly one field
// matching Kind is set.
type Envelope struct {
	Kind            Kind             `codec:"kind"`
	GetChallenge    *GetChallenge    `codec:"getChallenge,omitempty"`
	Challenge       *Challenge       `codec:"challenge,omitempty"`
	Connect         *Connect         `codec:"connect,omitempty"`
	ConnectResponse *ConnectResponse `codec:"connectResponse,omitempty"`
	Disconnect      *Disconnect      `codec:"disconnect,omitempty"`
}

var msgpackHandle = &codec.MsgpackHandle{}

// IsConnectionless reports whether b starts with ConnectionlessPrefix.
func IsConnectionless(b []byte) bool {
	return len(b) >= 4 && binary.LittleEndian.Uint32(b) == ConnectionlessPrefix
}

// EncodeConnectionless serializes env behind ConnectionlessPrefix.
func EncodeConnectionless(env Envelope) ([]byte, error) {
	// The encoder writes from the start of its buffer, so the prefix goes on
	// afterwards.
	var body []byte
	if err := codec.NewEncoderBytes(&body, msgpackHandle).Encode(&env); err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Kind, err)
	}
	out := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(body)), ConnectionlessPrefix)
	return append(out, body...), nil
}

// DecodeConnectionless parses a packet produced by EncodeConnectionless.
func DecodeConnectionless(b []byte) (Envelope, error) {
	var env Envelope
	if !IsConnectionless(b) {
		return env, fmt.Errorf("decode connectionless: missing prefix")
	}
	if err := codec.NewDecoderBytes(b[4:], msgpackHandle).Decode(&env); err != nil {
		return env, fmt.Errorf("decode connectionless: %w", err)
	}
	if err := env.validate(); err != nil {
		return env, err
	}
	return env, nil
}

func (e *Envelope) validate() error {
	ok := false
	switch e.Kind {
	case KindGetChallenge:
		ok = e.GetChallenge != nil
	case KindChallenge:
		ok = e.Challenge != nil
	case KindConnect:
		ok = e.Connect != nil
	case KindConnectResponse:
		ok = e.ConnectResponse != nil
	case KindDisconnect:
		ok = e.Disconnect != nil
	}
	if !ok {
		return fmt.Errorf("decode connectionless: %s without body", e.Kind)
	}
	return nil
}
