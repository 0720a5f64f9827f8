package server

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype of LedgerService messages.
const CodecName = "json"

// jsonCodec carries LedgerService messages as JSON. The messages are plain
// Go structs, so both the gRPC wire and the HTTP gateway share one encoding.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

// CallOption selects the JSON codec on a client call. The server picks the
// codec by content-subtype, so health checks keep using protobuf.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
