package vapid

import "fmt"

const (
	derTagSequence = 0x30
	derTagInteger  = 0x02
)

// derSignature is an ECDSA-Sig-Value as laid out on the wire:
//
//	SEQUENCE { r INTEGER, s INTEGER }
type derSignature struct {
	SeqLength int
	R         derInteger
	S         derInteger
}

type derInteger struct {
	Tag    byte
	Length int
	Value  []byte
}

type derReader struct {
	buf []byte
	off int
}

func (r *derReader) remaining() int { return len(r.buf) - r.off }

func (r *derReader) readByte(what string) (byte, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("der: truncated at %s (offset %d)", what, r.off)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

// readLength handles the short form and the one- and two-byte long forms.
// Indefinite lengths are not valid DER.
func (r *derReader) readLength(what string) (int, error) {
	b, err := r.readByte(what)
	if err != nil {
		return 0, err
	}
	if b < 0x80 {
		return int(b), nil
	}
	n := int(b & 0x7f)
	if n == 0 || n > 2 {
		return 0, fmt.Errorf("der: unsupported %s encoding %#02x", what, b)
	}
	l := 0
	for i := 0; i < n; i++ {
		c, err := r.readByte(what)
		if err != nil {
			return 0, err
		}
		l = l<<8 | int(c)
	}
	return l, nil
}

func (r *derReader) take(n int, what string) ([]byte, error) {
	if n > r.remaining() {
		return nil, fmt.Errorf("der: %s needs %d bytes, %d left", what, n, r.remaining())
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v, nil
}

func (r *derReader) readInteger(name string) (derInteger, error) {
	var in derInteger
	tag, err := r.readByte(name + " tag")
	if err != nil {
		return in, err
	}
	if tag != derTagInteger {
		return in, fmt.Errorf("der: %s: expected INTEGER tag %#02x, got %#02x", name, derTagInteger, tag)
	}
	in.Tag = tag
	if in.Length, err = r.readLength(name + " length"); err != nil {
		return in, err
	}
	if in.Length == 0 {
		return in, fmt.Errorf("der: %s: empty integer", name)
	}
	if in.Value, err = r.take(in.Length, name+" value"); err != nil {
		return in, err
	}
	if in.Value[0]&0x80 != 0 {
		return in, fmt.Errorf("der: %s: negative integer", name)
	}
	return in, nil
}

func decodeDERSignature(der []byte) (derSignature, error) {
	var sig derSignature
	r := &derReader{buf: der}

	tag, err := r.readByte("sequence tag")
	if err != nil {
		return sig, err
	}
	if tag != derTagSequence {
		return sig, fmt.Errorf("der: expected SEQUENCE tag %#02x, got %#02x", derTagSequence, tag)
	}
	if sig.SeqLength, err = r.readLength("sequence length"); err != nil {
		return sig, err
	}
	if sig.SeqLength != r.remaining() {
		return sig, fmt.Errorf("der: sequence length %d, %d bytes follow", sig.SeqLength, r.remaining())
	}
	if sig.R, err = r.readInteger("r"); err != nil {
		return sig, err
	}
	if sig.S, err = r.readInteger("s"); err != nil {
		return sig, err
	}
	if r.remaining() != 0 {
		return sig, fmt.Errorf("der: %d trailing bytes after s", r.remaining())
	}
	return sig, nil
}

// DERToJOSE converts an ASN.1 DER ECDSA signature into the fixed-width r||s
// form JWS uses, each half size bytes (32 for P-256).
func DERToJOSE(der []byte, size int) ([]byte, error) {
	sig, err := decodeDERSignature(der)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 2*size)
	if err := putScalar(out[:size], sig.R.Value, "r"); err != nil {
		return nil, err
	}
	if err := putScalar(out[size:], sig.S.Value, "s"); err != nil {
		return nil, err
	}
	return out, nil
}

// putScalar drops the sign-bit padding and left-pads v into dst.
func putScalar(dst, v []byte, name string) error {
	for len(v) > 1 && v[0] == 0 {
		v = v[1:]
	}
	if len(v) > len(dst) {
		return fmt.Errorf("der: %s is %d bytes, max %d", name, len(v), len(dst))
	}
	copy(dst[len(dst)-len(v):], v)
	return nil
}
