package fetchrpc

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/grpc"

	"github.com/cuemby/dyadgo/pkg/dyaderr"
	"github.com/cuemby/dyadgo/pkg/log"
	"github.com/cuemby/dyadgo/pkg/metrics"
)

// FetchHandler serves the bytes behind a FetchRequest. Implementations read
// from wherever the producer rank's managed files actually live; a handler
// has no dependency on the RPC plumbing.
type FetchHandler interface {
	Open(req FetchRequest) (io.ReadCloser, error)
}

// FileFetchHandler is the reference FetchHandler: it serves files rooted
// under a single producer directory, rejecting any user path that would
// escape it. Production deployments may swap in a handler backed by
// whatever storage the producer actually uses; this one is what dyadctl
// serve-fetch runs.
type FileFetchHandler struct {
	Root string
}

func (h FileFetchHandler) Open(req FetchRequest) (io.ReadCloser, error) {
	clean := filepath.Clean("/" + req.UserPath)
	full := filepath.Join(h.Root, clean)
	if !strings.HasPrefix(full, filepath.Clean(h.Root)+string(filepath.Separator)) && full != filepath.Clean(h.Root) {
		return nil, dyaderr.New(dyaderr.BADFETCH, "fetchrpc.FileFetchHandler.Open", "user path escapes producer root")
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, dyaderr.Wrap(dyaderr.BADFETCH, "fetchrpc.FileFetchHandler.Open", err)
	}
	return f, nil
}

// Server is the dyad.fetch gRPC server: one handler, mounted on a hand-built
// ServiceDesc since this repository has no generated proto code.
type Server struct {
	handler FetchHandler
	grpc    *grpc.Server
}

// NewServer wraps handler in a grpc.Server. Transport security is left to
// the caller's grpc.ServerOption choices; the baseline fetch RPC carries no
// credentials of its own and says nothing about authenticating the fetch
// transport.
func NewServer(handler FetchHandler, opts ...grpc.ServerOption) *Server {
	s := &Server{handler: handler, grpc: grpc.NewServer(opts...)}
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Serve listens on addr and blocks serving the fetch RPC until the listener
// or server is stopped.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return dyaderr.Wrap(dyaderr.SYSFAIL, "fetchrpc.Server.Serve", fmt.Errorf("listen: %w", err))
	}
	log.Info(fmt.Sprintf("fetchrpc: serving on %s", addr))
	return s.grpc.Serve(lis)
}

func (s *Server) Stop() { s.grpc.GracefulStop() }

func (s *Server) fetch(stream grpc.ServerStream) error {
	var req FetchRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.FetchDuration)

	rc, err := s.handler.Open(req)
	if err != nil {
		return stream.SendMsg(&FetchChunk{EOF: true, Err: err.Error()})
	}
	defer rc.Close()

	buf := make([]byte, chunkSize)
	var sent int
	for {
		n, readErr := rc.Read(buf)
		if n > 0 {
			chunk := FetchChunk{Data: append([]byte(nil), buf[:n]...)}
			if err := stream.SendMsg(&chunk); err != nil {
				return err
			}
			sent += n
			metrics.FetchBytesTotal.Add(float64(n))
		}
		if readErr == io.EOF {
			return stream.SendMsg(&FetchChunk{EOF: true})
		}
		if readErr != nil {
			return stream.SendMsg(&FetchChunk{EOF: true, Err: readErr.Error()})
		}
	}
}

// serviceDesc is the hand-built equivalent of what protoc-gen-go-grpc would
// emit for a service with one server-streaming Fetch method.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName: MethodName,
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				return srv.(*Server).fetch(stream)
			},
			ServerStreams: true,
		},
	},
}
