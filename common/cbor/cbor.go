// Package cbor provides the canonical CBOR encoding used for everything the
// follower persists or ships over the wire: a single, shared
// encoder/decoder configuration so every caller gets the same deterministic
// representation.
package cbor

import (
	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("cbor: failed to construct encoder: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic("cbor: failed to construct decoder: " + err.Error())
	}
}

// Marshal serializes a value into canonical CBOR form.
func Marshal(v interface{}) []byte {
	b, err := encMode.Marshal(v)
	if err != nil {
		panic("cbor: marshal failed: " + err.Error())
	}
	return b
}

// Unmarshal decodes CBOR-encoded data into v, returning an error on
// malformed input.
func Unmarshal(data []byte, v interface{}) error {
	return decMode.Unmarshal(data, v)
}
