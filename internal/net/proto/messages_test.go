package proto

import (
	"errors"
	"math"
	"strings"
	"testing"

	"avatar-sync/server/internal/state"
)

func TestClientCommandLayout(t *testing.T) {
	b, err := EncodeClientCommand(ClientCommand{
		Sequence:    200,
		Move:        state.MoveBackLeft,
		Orientation: 1.5,
		Series:      3,
		Stealth:     true,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{byte(TypeClientCommand), 200, 5, 0x3f, 0xc0, 0x00, 0x00, 3, 1}
	if string(b) != string(want) {
		t.Fatalf("expected % x, got % x", want, b)
	}

	got, err := DecodeClientCommand(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Sequence != 200 || got.Move != state.MoveBackLeft || got.Orientation != 1.5 || got.Series != 3 || !got.Stealth {
		t.Fatalf("unexpected decoded command: %+v", got)
	}
}

func TestClientCommandCarriesMoveNone(t *testing.T) {
	b, _ := EncodeClientCommand(ClientCommand{Move: state.MoveNone})
	if b[2] != 0xff {
		t.Fatalf("expected -1 as 0xff, got %#x", b[2])
	}
	got, err := DecodeClientCommand(b)
	if err != nil || got.Move != state.MoveNone {
		t.Fatalf("expected MoveNone round trip, got %+v %v", got, err)
	}
}

func TestDecodeClientCommandRejectsMalformed(t *testing.T) {
	valid, _ := EncodeClientCommand(ClientCommand{Move: state.MoveForward})
	nan := append([]byte(nil), valid...)
	bits := math.Float32bits(float32(math.NaN()))
	nan[3], nan[4], nan[5], nan[6] = byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits)

	cases := map[string][]byte{
		"empty":        {},
		"truncated":    valid[:7],
		"trailing":     append(append([]byte(nil), valid...), 0),
		"wrong type":   append([]byte{byte(TypeStateUpdate)}, valid[1:]...),
		"bad move":     {byte(TypeClientCommand), 1, 8, 0, 0, 0, 0, 0, 0},
		"nan":          nan,
		"stealth byte": {byte(TypeClientCommand), 1, 0, 0, 0, 0, 0, 0, 2},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeClientCommand(raw); !errors.Is(err, ErrMalformedPacket) {
				t.Fatalf("expected ErrMalformedPacket, got %v", err)
			}
		})
	}
}

func TestStateUpdateLayout(t *testing.T) {
	b, _ := EncodeStateUpdate(StateUpdate{Participant: 4, Ack: 17, X: 1, Y: -2, Orientation: 0.5})
	if len(b) != StateUpdateSize || b[0] != byte(TypeStateUpdate) || b[1] != 4 || b[2] != 17 {
		t.Fatalf("unexpected header % x", b)
	}
	got, err := DecodeStateUpdate(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.X != 1 || got.Y != -2 || got.Orientation != 0.5 {
		t.Fatalf("unexpected update %+v", got)
	}
}

func TestPlayerStatusCarriesPose(t *testing.T) {
	b, _ := EncodePlayerStatus(PlayerStatus{Participant: 2, Series: 9, Team: 1, Health: 55, Connected: true, X: 64, Y: 32, Orientation: 3})
	got, err := DecodePlayerStatus(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Series != 9 || got.Team != 1 || got.Health != 55 || !got.Connected || got.X != 64 || got.Y != 32 {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestJoinRequestValidatesName(t *testing.T) {
	if _, err := EncodeJoinRequest(JoinRequest{Name: ""}); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected empty name to fail, got %v", err)
	}
	if _, err := EncodeJoinRequest(JoinRequest{Name: strings.Repeat("n", state.MaxNameLength+1)}); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected long name to fail, got %v", err)
	}

	b, err := EncodeJoinRequest(JoinRequest{Name: "Ödön"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeJoinRequest(b)
	if err != nil || got.Name != "Ödön" {
		t.Fatalf("expected name round trip, got %q %v", got.Name, err)
	}

	b[1]++
	if _, err := DecodeJoinRequest(b); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected length mismatch to fail, got %v", err)
	}
}

func TestDecodeJoinAcceptRejectsZeroTick(t *testing.T) {
	b, _ := EncodeJoinAccept(JoinAccept{Participant: 1, Series: 1})
	if _, err := DecodeJoinAccept(b); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected zero tick to fail, got %v", err)
	}
	b, _ = EncodeJoinAccept(JoinAccept{Participant: 1, Series: 1, TickMillis: 50})
	got, err := DecodeJoinAccept(b)
	if err != nil || got.TickMillis != 50 {
		t.Fatalf("unexpected accept %+v %v", got, err)
	}
}

func TestPeekType(t *testing.T) {
	if _, err := PeekType(nil); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("expected empty datagram to fail, got %v", err)
	}
	if typ, err := PeekType(EncodePing()); err != nil || typ != TypePing {
		t.Fatalf("expected ping, got %v %v", typ, err)
	}
	if err := DecodeBare(EncodeLeave(), TypeLeave); err != nil {
		t.Fatalf("expected leave to decode, got %v", err)
	}
}
