package codec

import (
	"github.com/bluesky-social/indigo/atproto/data"
)

// EncodeRecord converts a parsed atproto data map to DAG-CBOR bytes. The
// input should already be in the atproto data model (i.e. parsed through
// data.UnmarshalJSON), matching the JSON↔IPLD bridge described in the
// spec's design notes: numbers are stored as floats unless otherwise
// constrained, byte-strings are base64-nopad, CIDs are plain strings —
// all handled by indigo's data package, exactly as the teacher used it.
func EncodeRecord(record map[string]any) ([]byte, error) {
	return data.MarshalCBOR(record)
}

// DecodeRecord converts DAG-CBOR bytes back to an atproto data map
// suitable for JSON serialization.
func DecodeRecord(cborBytes []byte) (map[string]any, error) {
	return data.UnmarshalCBOR(cborBytes)
}

// ParseJSONRecord converts a JSON-shaped record (as decoded by
// encoding/json into map[string]any) into the atproto data model used
// for CBOR storage.
func ParseJSONRecord(rawJSON []byte) (map[string]any, error) {
	return data.UnmarshalJSON(rawJSON)
}
