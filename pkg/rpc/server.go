package rpc

import (
	"context"
	"net"
	"net/url"
	"os"

	"google.golang.org/grpc"
	"k8s.io/klog/v2"
)

// Serve starts a SegmentService gRPC server on endpoint (a "tcp://host:port"
// or "unix:///path/to/sock" URL) and blocks until ctx is canceled or the
// listener errors.
//
// Grounded on the teacher's pkg/utils/grpc/server.go Run function: same
// unix-socket cleanup, same GracefulStop-on-context-cancel shape, same
// unary logging interceptor, generalized from CSI's three fixed server
// roles to a single registered SegmentServer.
func Serve(ctx context.Context, endpoint string, srv SegmentServer) error {
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return err
	}

	klog.V(5).Infof("segment service listening on: %v", endpoint)
	if parsedURL.Scheme == "unix" {
		if err := os.Remove(parsedURL.RequestURI()); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	lc := &net.ListenConfig{}
	network, address := parsedURL.Scheme, parsedURL.RequestURI()
	if network == "tcp" {
		address = parsedURL.Host
	}
	listener, err := lc.Listen(ctx, network, address)
	if err != nil {
		return err
	}

	server := grpc.NewServer(grpc.UnaryInterceptor(logUnaryCall))

	go func() {
		<-ctx.Done()
		server.GracefulStop()
		if parsedURL.Scheme == "unix" {
			os.Remove(parsedURL.RequestURI())
		}
	}()

	RegisterSegmentServiceServer(server, srv)
	return server.Serve(listener)
}

// Dial opens a client connection to a segment's endpoint. Callers
// should prefer this over raw grpc.Dial so future transport options
// (TLS, keepalive) stay centralized.
func Dial(ctx context.Context, endpoint string) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, endpoint, grpc.WithInsecure(), grpc.WithBlock()) //nolint:staticcheck // matches teacher's plaintext-socket transport
}

func logUnaryCall(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	klog.V(5).Infof("rpc call: %s", info.FullMethod)
	resp, err := handler(ctx, req)
	if err != nil {
		klog.Errorf("rpc error on %s: %v", info.FullMethod, err)
	}
	return resp, err
}
