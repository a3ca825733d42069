package codec

import (
	"bytes"

	"github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// Writer builds canonical DAG-CBOR bytes for the repository's fixed node
// schemas. It is a thin wrapper over whyrusleeping/cbor-gen's raw CBOR
// writer (the same one the teacher hand-rolled encodings with in
// account.CborEncodePLCOp), generalized into a reusable helper so every
// node type in internal/repo and internal/mst can emit canonical bytes
// without repeating the major-type bookkeeping.
//
// Field order for every schema here is fixed at call sites (the schema
// set is closed), so the output is canonical by construction — no
// runtime key sort is needed.
type Writer struct {
	cw  *cbg.CborWriter
	buf *bytes.Buffer
}

// NewWriter creates an empty canonical-CBOR writer.
func NewWriter() *Writer {
	buf := new(bytes.Buffer)
	return &Writer{cw: cbg.NewCborWriter(buf), buf: buf}
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// WriteMapHeader starts a map with n key/value pairs.
func (w *Writer) WriteMapHeader(n int) error {
	return w.cw.WriteMajorTypeHeader(cbg.MajMap, uint64(n))
}

// WriteArrayHeader starts an array with n elements.
func (w *Writer) WriteArrayHeader(n int) error {
	return w.cw.WriteMajorTypeHeader(cbg.MajArray, uint64(n))
}

// WriteTextString writes a CBOR text string (major type 3).
func (w *Writer) WriteTextString(s string) error {
	if err := w.cw.WriteMajorTypeHeader(cbg.MajTextString, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.cw.Write([]byte(s))
	return err
}

// WriteByteString writes a CBOR byte string (major type 2).
func (w *Writer) WriteByteString(b []byte) error {
	if err := w.cw.WriteMajorTypeHeader(cbg.MajByteString, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.cw.Write(b)
	return err
}

// WriteUint writes an unsigned integer (major type 0) in shortest form.
func (w *Writer) WriteUint(u uint64) error {
	return w.cw.WriteMajorTypeHeader(cbg.MajUnsignedInt, u)
}

// WriteBool writes a CBOR boolean (major type 7, simple values 20/21).
func (w *Writer) WriteBool(b bool) error {
	v := uint64(20)
	if b {
		v = 21
	}
	return w.cw.WriteMajorTypeHeader(cbg.MajOther, v)
}

// WriteNil writes CBOR null (major type 7, simple value 22).
func (w *Writer) WriteNil() error {
	return w.cw.WriteMajorTypeHeader(cbg.MajOther, 22)
}

// WriteLink writes a DAG-CBOR IPLD link: tag 42 followed by a byte
// string whose first byte is the identity multibase prefix (0x00)
// followed by the raw CID bytes. This is the standard DAG-CBOR link
// encoding (ipfs/go-ipld-cbor uses the same convention).
func (w *Writer) WriteLink(c cid.Cid) error {
	if err := w.cw.WriteMajorTypeHeader(cbg.MajTag, 42); err != nil {
		return err
	}
	cb := c.Bytes()
	full := make([]byte, len(cb)+1)
	full[0] = 0x00
	copy(full[1:], cb)
	return w.WriteByteString(full)
}

// WriteOptionalLink writes either Nil or a link.
func (w *Writer) WriteOptionalLink(c *cid.Cid) error {
	if c == nil {
		return w.WriteNil()
	}
	return w.WriteLink(*c)
}
