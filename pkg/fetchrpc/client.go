package fetchrpc

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/dyadgo/pkg/dyaderr"
)

const fullMethod = "/" + ServiceName + "/" + MethodName

// Client is the subscriber-side half of dyad.fetch: dial a producer rank and
// stream back the bytes of one managed path.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a fetch server at addr. Plaintext, matching Server's lack
// of default transport credentials (see NewServer).
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, dyaderr.Wrap(dyaderr.BADRPC, "fetchrpc.Dial", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Fetch requests upath from the connected producer and returns a
// ReadCloser streaming its bytes. Reading from the returned ReadCloser
// drives further RecvMsg calls on the underlying stream; closing it aborts
// the stream without consuming the rest of it.
func (c *Client) Fetch(ctx context.Context, requestID, upath string) (io.ReadCloser, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	desc := &grpc.StreamDesc{StreamName: MethodName, ServerStreams: true}
	stream, err := c.conn.NewStream(streamCtx, desc, fullMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		cancel()
		return nil, dyaderr.Wrap(dyaderr.BADRPC, "fetchrpc.Client.Fetch", err)
	}

	req := FetchRequest{RequestID: requestID, UserPath: upath}
	if err := stream.SendMsg(&req); err != nil {
		cancel()
		return nil, dyaderr.Wrap(dyaderr.BADRPC, "fetchrpc.Client.Fetch", err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, dyaderr.Wrap(dyaderr.BADRPC, "fetchrpc.Client.Fetch", err)
	}

	return &fetchReader{stream: stream, cancel: cancel}, nil
}

// fetchReader adapts a server-streaming grpc.ClientStream of FetchChunks
// into an io.ReadCloser, the shape pkg/subscriber wants when copying bytes
// into a local file.
type fetchReader struct {
	stream   grpc.ClientStream
	cancel   context.CancelFunc
	buf      []byte
	received bool
	done     bool
}

func (r *fetchReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		var chunk FetchChunk
		if err := r.stream.RecvMsg(&chunk); err != nil {
			if err == io.EOF {
				if !r.received {
					return 0, dyaderr.New(dyaderr.RPCFinished, "fetchrpc.Client.Fetch", "stream ended before any data")
				}
				return 0, io.EOF
			}
			return 0, dyaderr.Wrap(dyaderr.BADRPC, "fetchrpc.Client.Fetch", err)
		}
		if chunk.Err != "" {
			return 0, dyaderr.New(dyaderr.BADFETCH, "fetchrpc.Client.Fetch", fmt.Sprintf("producer error: %s", chunk.Err))
		}
		if chunk.EOF {
			r.done = true
			continue
		}
		r.received = true
		r.buf = chunk.Data
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// Close aborts the stream: canceling the context the stream was opened with
// stops the producer from sending further chunks into a reader nobody is
// draining, rather than leaving it to push the rest of the file unread.
func (r *fetchReader) Close() error {
	r.cancel()
	return nil
}
