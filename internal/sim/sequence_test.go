package sim

import "testing"

func TestAcceptsWindow(t *testing.T) {
	cases := []struct {
		last, incoming uint8
		want           bool
	}{
		{10, 10, false},
		{10, 11, true},
		{10, 60, true},
		{10, 110, true},
		{10, 111, false},
		{10, 9, false},
		{250, 4, true},
		{250, 94, true},
		{250, 95, false},
		{0, 255, false},
	}
	for _, tc := range cases {
		if got := Accepts(tc.last, tc.incoming); got != tc.want {
			t.Fatalf("Accepts(%d, %d) = %v, want %v", tc.last, tc.incoming, got, tc.want)
		}
	}
}

func TestConfirmsWrapsAround(t *testing.T) {
	if !Confirms(7, 7) || !Confirms(7, 6) || !Confirms(3, 250) {
		t.Fatalf("expected ack to confirm itself and recent predecessors")
	}
	if Confirms(7, 8) || Confirms(250, 3) {
		t.Fatalf("expected ack not to confirm later sequences")
	}
}

func TestNewer(t *testing.T) {
	if !Newer(1, 255) || Newer(255, 1) || Newer(5, 5) {
		t.Fatalf("unexpected modular ordering")
	}
}
