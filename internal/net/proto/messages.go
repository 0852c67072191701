package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"avatar-sync/server/internal/state"
)

// Version tracks the datagram protocol revision.
const Version = 1

// Type is the first byte of every datagram.
type Type uint8

const (
	TypeClientCommand Type = 1
	TypeStateUpdate   Type = 2
	TypePlayerStatus  Type = 3
	TypeJoinRequest   Type = 4
	TypeJoinAccept    Type = 5
	TypeJoinTeam      Type = 6
	TypeLeave         Type = 7
	TypeJoinReject    Type = 8
	TypePing          Type = 9
)

func (t Type) String() string {
	switch t {
	case TypeClientCommand:
		return "client_command"
	case TypeStateUpdate:
		return "state_update"
	case TypePlayerStatus:
		return "player_status"
	case TypeJoinRequest:
		return "join_request"
	case TypeJoinAccept:
		return "join_accept"
	case TypeJoinTeam:
		return "join_team"
	case TypeLeave:
		return "leave"
	case TypeJoinReject:
		return "join_reject"
	case TypePing:
		return "ping"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Fixed datagram sizes in bytes.
const (
	ClientCommandSize = 9
	StateUpdateSize   = 15
	PlayerStatusSize  = 21
	JoinAcceptSize    = 5
	JoinTeamSize      = 2
	LeaveSize         = 1
	JoinRejectSize    = 2
	PingSize          = 1
	// MaxDatagramSize bounds every datagram the protocol produces.
	MaxDatagramSize = 2 + state.MaxNameLength*utf8.UTFMax
)

// ErrMalformedPacket is returned for truncated, mistyped or out-of-range datagrams.
var ErrMalformedPacket = errors.New("proto: malformed packet")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPacket, fmt.Sprintf(format, args...))
}

// PeekType returns the datagram's type byte.
func PeekType(b []byte) (Type, error) {
	if len(b) == 0 {
		return 0, malformed("empty datagram")
	}
	return Type(b[0]), nil
}

func expect(b []byte, t Type, size int) error {
	if len(b) != size {
		return malformed("%s: want %d bytes, got %d", t, size, len(b))
	}
	if Type(b[0]) != t {
		return malformed("want %s, got %s", t, Type(b[0]))
	}
	return nil
}

func putFloat(b []byte, v float32) {
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
}

func getFloat(b []byte) (float32, bool) {
	v := math.Float32frombits(binary.BigEndian.Uint32(b))
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return 0, false
	}
	return v, true
}

func putBool(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// ClientCommand carries one tick of intent from a client.
type ClientCommand struct {
	Sequence    uint8
	Move        state.MoveDirection
	Orientation float32
	Series      uint8
	Stealth     bool
}

// EncodeClientCommand renders [type, seq, move, orientation f32, series, stealth].
func EncodeClientCommand(msg ClientCommand) ([]byte, error) {
	if !msg.Move.Valid() {
		return nil, malformed("move direction %d", msg.Move)
	}
	b := make([]byte, ClientCommandSize)
	b[0] = byte(TypeClientCommand)
	b[1] = msg.Sequence
	b[2] = byte(int8(msg.Move))
	putFloat(b[3:7], msg.Orientation)
	b[7] = msg.Series
	b[8] = putBool(msg.Stealth)
	return b, nil
}

// DecodeClientCommand parses a client command datagram.
func DecodeClientCommand(b []byte) (ClientCommand, error) {
	if err := expect(b, TypeClientCommand, ClientCommandSize); err != nil {
		return ClientCommand{}, err
	}
	move, ok := state.ParseMoveDirection(int8(b[2]))
	if !ok {
		return ClientCommand{}, malformed("move direction %d", int8(b[2]))
	}
	z, ok := getFloat(b[3:7])
	if !ok {
		return ClientCommand{}, malformed("orientation is not finite")
	}
	if b[8] > 1 {
		return ClientCommand{}, malformed("stealth flag %d", b[8])
	}
	return ClientCommand{
		Sequence:    b[1],
		Move:        move,
		Orientation: z,
		Series:      b[7],
		Stealth:     b[8] == 1,
	}, nil
}

// StateUpdate is the authoritative pose of one participant together with the
// last command the authority applied for it.
type StateUpdate struct {
	Participant uint8
	Ack         uint8
	X, Y        float32
	Orientation float32
}

// EncodeStateUpdate renders [type, id, ack, x, y, z].
func EncodeStateUpdate(msg StateUpdate) ([]byte, error) {
	b := make([]byte, StateUpdateSize)
	b[0] = byte(TypeStateUpdate)
	b[1] = msg.Participant
	b[2] = msg.Ack
	putFloat(b[3:7], msg.X)
	putFloat(b[7:11], msg.Y)
	putFloat(b[11:15], msg.Orientation)
	return b, nil
}

// DecodeStateUpdate parses a state update datagram.
func DecodeStateUpdate(b []byte) (StateUpdate, error) {
	if err := expect(b, TypeStateUpdate, StateUpdateSize); err != nil {
		return StateUpdate{}, err
	}
	x, okX := getFloat(b[3:7])
	y, okY := getFloat(b[7:11])
	z, okZ := getFloat(b[11:15])
	if !okX || !okY || !okZ {
		return StateUpdate{}, malformed("state update has non-finite values")
	}
	return StateUpdate{Participant: b[1], Ack: b[2], X: x, Y: y, Orientation: z}, nil
}

// PlayerStatus carries slower-changing participant state.
type PlayerStatus struct {
	Participant uint8
	Series      uint8
	Team        uint8
	Health      float32
	Connected   bool
	X, Y        float32
	Orientation float32
}

// EncodePlayerStatus renders [type, id, series, team, health, connected, x, y, z].
func EncodePlayerStatus(msg PlayerStatus) ([]byte, error) {
	b := make([]byte, PlayerStatusSize)
	b[0] = byte(TypePlayerStatus)
	b[1] = msg.Participant
	b[2] = msg.Series
	b[3] = msg.Team
	putFloat(b[4:8], msg.Health)
	b[8] = putBool(msg.Connected)
	putFloat(b[9:13], msg.X)
	putFloat(b[13:17], msg.Y)
	putFloat(b[17:21], msg.Orientation)
	return b, nil
}

// DecodePlayerStatus parses a player status datagram.
func DecodePlayerStatus(b []byte) (PlayerStatus, error) {
	if err := expect(b, TypePlayerStatus, PlayerStatusSize); err != nil {
		return PlayerStatus{}, err
	}
	health, okH := getFloat(b[4:8])
	x, okX := getFloat(b[9:13])
	y, okY := getFloat(b[13:17])
	z, okZ := getFloat(b[17:21])
	if !okH || !okX || !okY || !okZ {
		return PlayerStatus{}, malformed("player status has non-finite values")
	}
	return PlayerStatus{
		Participant: b[1],
		Series:      b[2],
		Team:        b[3],
		Health:      health,
		Connected:   b[8] != 0,
		X:           x,
		Y:           y,
		Orientation: z,
	}, nil
}

// JoinRequest asks the authority for a slot.
type JoinRequest struct {
	Name string
}

// EncodeJoinRequest renders [type, len, name...].
func EncodeJoinRequest(msg JoinRequest) ([]byte, error) {
	if err := validName(msg.Name); err != nil {
		return nil, err
	}
	b := make([]byte, 2, 2+len(msg.Name))
	b[0] = byte(TypeJoinRequest)
	b[1] = byte(len(msg.Name))
	return append(b, msg.Name...), nil
}

// DecodeJoinRequest parses a join request datagram.
func DecodeJoinRequest(b []byte) (JoinRequest, error) {
	if len(b) < 2 || Type(b[0]) != TypeJoinRequest {
		return JoinRequest{}, malformed("join request header")
	}
	n := int(b[1])
	if len(b) != 2+n {
		return JoinRequest{}, malformed("join request: name length %d, have %d bytes", n, len(b)-2)
	}
	name := string(b[2:])
	if err := validName(name); err != nil {
		return JoinRequest{}, err
	}
	return JoinRequest{Name: name}, nil
}

func validName(name string) error {
	if !utf8.ValidString(name) {
		return malformed("name is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(name); n == 0 || n > state.MaxNameLength {
		return malformed("name length %d", n)
	}
	return nil
}

// JoinAccept assigns a participant id and the initial series.
type JoinAccept struct {
	Participant uint8
	Series      uint8
	// TickMillis is the authority's quantum.
	TickMillis uint16
}

// EncodeJoinAccept renders [type, id, series, quantum ms].
func EncodeJoinAccept(msg JoinAccept) ([]byte, error) {
	b := make([]byte, JoinAcceptSize)
	b[0] = byte(TypeJoinAccept)
	b[1] = msg.Participant
	b[2] = msg.Series
	binary.BigEndian.PutUint16(b[3:5], msg.TickMillis)
	return b, nil
}

// DecodeJoinAccept parses a join accept datagram.
func DecodeJoinAccept(b []byte) (JoinAccept, error) {
	if err := expect(b, TypeJoinAccept, JoinAcceptSize); err != nil {
		return JoinAccept{}, err
	}
	msg := JoinAccept{Participant: b[1], Series: b[2], TickMillis: binary.BigEndian.Uint16(b[3:5])}
	if msg.TickMillis == 0 {
		return JoinAccept{}, malformed("zero tick length")
	}
	return msg, nil
}

// Join reject reasons.
const (
	RejectFull        uint8 = 1
	RejectInvalidName uint8 = 2
)

// JoinReject refuses a join request.
type JoinReject struct {
	Reason uint8
}

// EncodeJoinReject renders [type, reason].
func EncodeJoinReject(msg JoinReject) ([]byte, error) {
	return []byte{byte(TypeJoinReject), msg.Reason}, nil
}

// DecodeJoinReject parses a join reject datagram.
func DecodeJoinReject(b []byte) (JoinReject, error) {
	if err := expect(b, TypeJoinReject, JoinRejectSize); err != nil {
		return JoinReject{}, err
	}
	return JoinReject{Reason: b[1]}, nil
}

// JoinTeam asks the authority to move the sender to a team.
type JoinTeam struct {
	Team uint8
}

// EncodeJoinTeam renders [type, team].
func EncodeJoinTeam(msg JoinTeam) ([]byte, error) {
	return []byte{byte(TypeJoinTeam), msg.Team}, nil
}

// DecodeJoinTeam parses a join team datagram.
func DecodeJoinTeam(b []byte) (JoinTeam, error) {
	if err := expect(b, TypeJoinTeam, JoinTeamSize); err != nil {
		return JoinTeam{}, err
	}
	return JoinTeam{Team: b[1]}, nil
}

// EncodeLeave renders a leave datagram.
func EncodeLeave() []byte { return []byte{byte(TypeLeave)} }

// EncodePing renders a keepalive datagram.
func EncodePing() []byte { return []byte{byte(TypePing)} }

// DecodeBare validates a single-byte datagram of type t.
func DecodeBare(b []byte, t Type) error {
	return expect(b, t, 1)
}
