package fetchrpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's encoding package; the client selects
// it with grpc.CallContentSubtype and the server looks it up from the
// request's content-subtype, standing in for the protobuf codec generated
// code would normally use implicitly.
const codecName = "dyadjson"

// jsonCodec implements encoding.Codec by delegating to encoding/json. The
// fetch wire types (FetchRequest, FetchChunk) are plain structs with JSON
// tags, so there is no protobuf descriptor to generate and nothing a
// hand-rolled binary codec would buy over JSON at this message rate (one
// request and a handful of chunks per managed file).
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("fetchrpc: marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("fetchrpc: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
