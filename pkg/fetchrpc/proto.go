// Package fetchrpc implements the dyad.fetch RPC: a subscriber asks a
// producer rank for the bytes backing a managed path, and receives them as a
// stream of chunks. There is no .proto file here because this repository
// does not run protoc; the wire types are plain Go structs marshaled with
// the JSON codec in codec.go and registered directly against
// google.golang.org/grpc's ServiceDesc machinery, the same machinery
// generated code would produce, just written by hand.
package fetchrpc

// ServiceName and MethodName identify the dyad.fetch RPC on the wire, the
// same role a .proto package/service/rpc declaration would play.
const (
	ServiceName = "dyad.Fetch"
	MethodName  = "Fetch"
)

// FetchRequest asks for the bytes of a single managed path, identified the
// same way the caller would name the topic key: a producer-relative user
// path plus a request ID for log correlation.
type FetchRequest struct {
	RequestID string `json:"request_id"`
	UserPath  string `json:"upath"`
}

// FetchChunk is one frame of a Fetch response stream. The final chunk for a
// file has EOF set true and carries no data.
type FetchChunk struct {
	Data []byte `json:"data,omitempty"`
	EOF  bool   `json:"eof"`

	// Err is set on the single terminal chunk sent in place of further
	// data when the producer cannot serve the request (file missing,
	// read failure). A non-empty Err ends the stream.
	Err string `json:"err,omitempty"`
}

// chunkSize is the read buffer size the server uses per FetchChunk, so each
// non-terminal chunk carries at most 64 KiB of Data.
const chunkSize = 64 * 1024
