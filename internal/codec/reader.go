package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
)

// Major type constants, mirroring whyrusleeping/cbor-gen's Maj* values.
const (
	majUnsignedInt = 0
	majNegativeInt = 1
	majByteString  = 2
	majTextString  = 3
	majArray       = 4
	majMap         = 5
	majTag         = 6
	majOther       = 7
)

// Reader decodes canonical DAG-CBOR bytes for the repository's fixed
// node schemas. Canonical decoding is enforced directly (shortest-form
// length headers only) rather than delegated to a generic CBOR library,
// since the spec requires decoding to reject non-canonical input as part
// of invariant 1 (re-encoding a decoded block must reproduce byte-
// identical output).
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r for canonical CBOR decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// readAdditionalInfo reads the length/value bytes that follow a major
// type byte's low 5 bits, with no canonicality judgement — that check is
// only meaningful for majors whose additional info encodes a length
// (byte/text string, array, map, tag), not for major 7's simple values
// and floats, which header() special-cases below.
func (r *Reader) readAdditionalInfo(info byte) (uint64, error) {
	switch {
	case info < 24:
		return uint64(info), nil
	case info == 24:
		b, err := r.br.ReadByte()
		return uint64(b), err
	case info == 25:
		buf := make([]byte, 2)
		if _, err := io.ReadFull(r.br, buf); err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint16(buf)), nil
	case info == 26:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r.br, buf); err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint32(buf)), nil
	case info == 27:
		buf := make([]byte, 8)
		if _, err := io.ReadFull(r.br, buf); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint64(buf), nil
	default:
		return 0, fmt.Errorf("codec: unsupported additional info %d", info)
	}
}

// header reads a major type + length/value pair, rejecting any
// length-bearing encoding that is not the shortest possible form. Major
// 7 (simple values and floats) carries no length semantics, so no
// canonicality check applies there.
func (r *Reader) header() (major byte, val uint64, err error) {
	b, err := r.br.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	major = b >> 5
	info := b & 0x1f

	val, err = r.readAdditionalInfo(info)
	if err != nil {
		return 0, 0, err
	}
	if major == majOther {
		return major, val, nil
	}

	switch {
	case info == 24 && val < 24:
		err = fmt.Errorf("codec: non-canonical length encoding")
	case info == 25 && val < 256:
		err = fmt.Errorf("codec: non-canonical length encoding")
	case info == 26 && val < 1<<16:
		err = fmt.Errorf("codec: non-canonical length encoding")
	case info == 27 && val < 1<<32:
		err = fmt.Errorf("codec: non-canonical length encoding")
	}
	return major, val, err
}

// PeekMajor returns the major type of the next value without consuming it.
func (r *Reader) PeekMajor() (byte, error) {
	b, err := r.br.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0] >> 5, nil
}

// IsNil reports whether the next value is CBOR null, without consuming
// anything if it is not.
func (r *Reader) IsNil() (bool, error) {
	b, err := r.br.Peek(1)
	if err != nil {
		return false, err
	}
	return b[0] == 0xf6, nil
}

// ReadNil consumes a CBOR null.
func (r *Reader) ReadNil() error {
	major, val, err := r.header()
	if err != nil {
		return err
	}
	if major != majOther || val != 22 {
		return fmt.Errorf("codec: expected null, got major=%d val=%d", major, val)
	}
	return nil
}

// ReadMapHeader consumes a map header and returns its entry count.
func (r *Reader) ReadMapHeader() (int, error) {
	major, val, err := r.header()
	if err != nil {
		return 0, err
	}
	if major != majMap {
		return 0, fmt.Errorf("codec: expected map, got major %d", major)
	}
	return int(val), nil
}

// ReadArrayHeader consumes an array header and returns its element count.
func (r *Reader) ReadArrayHeader() (int, error) {
	major, val, err := r.header()
	if err != nil {
		return 0, err
	}
	if major != majArray {
		return 0, fmt.Errorf("codec: expected array, got major %d", major)
	}
	return int(val), nil
}

// ReadTextString consumes a text string.
func (r *Reader) ReadTextString() (string, error) {
	major, val, err := r.header()
	if err != nil {
		return "", err
	}
	if major != majTextString {
		return "", fmt.Errorf("codec: expected text string, got major %d", major)
	}
	buf := make([]byte, val)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadByteString consumes a byte string.
func (r *Reader) ReadByteString() ([]byte, error) {
	major, val, err := r.header()
	if err != nil {
		return nil, err
	}
	if major != majByteString {
		return nil, fmt.Errorf("codec: expected byte string, got major %d", major)
	}
	buf := make([]byte, val)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadUint consumes an unsigned integer.
func (r *Reader) ReadUint() (uint64, error) {
	major, val, err := r.header()
	if err != nil {
		return 0, err
	}
	if major != majUnsignedInt {
		return 0, fmt.Errorf("codec: expected uint, got major %d", major)
	}
	return val, nil
}

// ReadBool consumes a CBOR boolean.
func (r *Reader) ReadBool() (bool, error) {
	major, val, err := r.header()
	if err != nil {
		return false, err
	}
	if major != majOther || (val != 20 && val != 21) {
		return false, fmt.Errorf("codec: expected bool, got major=%d val=%d", major, val)
	}
	return val == 21, nil
}

// ReadLink consumes a DAG-CBOR IPLD link (tag 42 + identity-prefixed CID bytes).
func (r *Reader) ReadLink() (cid.Cid, error) {
	major, val, err := r.header()
	if err != nil {
		return cid.Undef, err
	}
	if major != majTag || val != 42 {
		return cid.Undef, fmt.Errorf("codec: expected link tag 42, got major=%d val=%d", major, val)
	}
	raw, err := r.ReadByteString()
	if err != nil {
		return cid.Undef, err
	}
	if len(raw) == 0 || raw[0] != 0x00 {
		return cid.Undef, fmt.Errorf("codec: link bytes missing identity multibase prefix")
	}
	_, c, err := cid.CidFromBytes(raw[1:])
	if err != nil {
		return cid.Undef, fmt.Errorf("codec: decode link cid: %w", err)
	}
	return c, nil
}

// ReadOptionalLink consumes either null or a link.
func (r *Reader) ReadOptionalLink() (*cid.Cid, error) {
	isNil, err := r.IsNil()
	if err != nil {
		return nil, err
	}
	if isNil {
		return nil, r.ReadNil()
	}
	c, err := r.ReadLink()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// skipOne consumes and discards the remainder of one value whose header
// (major, val) has already been read, without fully interpreting it.
// skipValue reads the header and delegates here.
func (r *Reader) skipOne(major byte, val uint64) error {
	switch major {
	case majUnsignedInt, majNegativeInt, majOther:
		return nil // header() already consumed everything for these
	case majByteString:
		buf := make([]byte, val)
		_, err := io.ReadFull(r.br, buf)
		return err
	case majTextString:
		buf := make([]byte, val)
		_, err := io.ReadFull(r.br, buf)
		return err
	case majArray:
		for i := uint64(0); i < val; i++ {
			if err := r.skipValue(); err != nil {
				return err
			}
		}
		return nil
	case majMap:
		for i := uint64(0); i < val; i++ {
			if err := r.skipValue(); err != nil { // key
				return err
			}
			if err := r.skipValue(); err != nil { // value
				return err
			}
		}
		return nil
	case majTag:
		return r.skipValue() // the tagged value follows
	}
	return fmt.Errorf("codec: skip: unsupported major %d", major)
}

// skipValue consumes and discards the next complete CBOR value.
func (r *Reader) skipValue() error {
	major, val, err := r.header()
	if err != nil {
		return err
	}
	return r.skipOne(major, val)
}
