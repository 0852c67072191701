package sim

// AcceptWindow is how far ahead of the last accepted sequence number an
// incoming command may be, modulo 256.
const AcceptWindow = 100

const sequenceHalfRange = 128

// Accepts reports whether incoming lies within (last, last+AcceptWindow]
// in modulo-256 arithmetic.
func Accepts(last, incoming uint8) bool {
	d := incoming - last
	return d >= 1 && d <= AcceptWindow
}

// Confirms reports whether an acknowledgement of ack covers seq, i.e. seq
// is ack or precedes it by less than half the sequence space.
func Confirms(ack, seq uint8) bool {
	return ack-seq < sequenceHalfRange
}

// Newer reports whether a was issued strictly after b.
func Newer(a, b uint8) bool {
	d := a - b
	return d != 0 && d < sequenceHalfRange
}
