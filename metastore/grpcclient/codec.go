package grpcclient

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/sentrysync/metafollower/common/cbor"
)

// codecName is registered with grpc's global codec registry at init time,
// below. It is sent as the call's content-subtype (content-type
// "application/grpc+metafollower-cbor") and selects which Marshal/Unmarshal
// pair grpc-go uses for this connection's messages.
const codecName = "metafollower-cbor"

// cborCodec implements encoding.Codec using the same canonical CBOR
// encoding the rest of the module uses for persistence, in place of
// protobuf. We don't generate .pb.go stubs for the upstream metastore's
// Thrift-descended wire format; instead every RPC method here exchanges
// plain Go structs (request/response pairs defined in rpc.go) that this
// codec serializes directly. status/codes and the errdetails package are
// still the real grpc-go/genproto types, so failure classification and
// structured error detail behave exactly as they would with a generated
// client.
type cborCodec struct{}

func (cborCodec) Marshal(v interface{}) ([]byte, error) {
	return cbor.Marshal(v), nil
}

func (cborCodec) Unmarshal(data []byte, v interface{}) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("grpcclient: cbor unmarshal: %w", err)
	}
	return nil
}

func (cborCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(cborCodec{})
}
