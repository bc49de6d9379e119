// Package grpcreflection speaks the gRPC Server Reflection protocol. It
// exposes the two request variants this application consumes, list services
// and file containing symbol, and returns file descriptors as raw serialized
// FileDescriptorProto bytes so the caller can decode them without a
// protobuf runtime.
package grpcreflection

import (
	"context"
	"io"
	"strings"

	"github.com/apicove/grpcbridge/logger"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	v1 "google.golang.org/grpc/reflection/grpc_reflection_v1"
	v1alpha "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
)

// Reflection service names, newest first.
const (
	ServiceNameV1      = "grpc.reflection.v1.ServerReflection"
	ServiceNameV1Alpha = "grpc.reflection.v1alpha.ServerReflection"
)

// IsReflectionService reports whether name belongs to the reflection
// protocol itself. Discovery filters these out of its results.
func IsReflectionService(name string) bool {
	return strings.HasPrefix(name, "grpc.reflection.")
}

var ErrReflectionUnavailable = errors.New("server does not support the reflection protocol")

// Client defines the gRPC reflection client.
type Client interface {
	// ListServices returns the fully-qualified names of all services the
	// server exposes, including the reflection service itself.
	ListServices(ctx context.Context) ([]string, error)

	// FileContainingSymbol returns the serialized FileDescriptorProto
	// messages for the file defining symbol, plus its dependencies.
	FileContainingSymbol(ctx context.Context, symbol string) ([][]byte, error)

	// Reset clears the negotiated protocol version memo.
	Reset()
}

type client struct {
	v1      conversation
	v1alpha conversation
	// active is the transport that succeeded last. Negotiation happens
	// once per session: a server upgrading mid-session is not re-detected.
	active  conversation
	headers map[string][]string
}

// NewClient returns a reflection client on top of conn. The protocol version
// is negotiated lazily on the first call: v1 is tried first, then v1alpha.
func NewClient(conn grpc.ClientConnInterface, headers map[string][]string) Client {
	return &client{
		v1:      &v1Conversation{c: v1.NewServerReflectionClient(conn)},
		v1alpha: &v1alphaConversation{c: v1alpha.NewServerReflectionClient(conn)},
		headers: headers,
	}
}

func (c *client) ctx(ctx context.Context) context.Context {
	if len(c.headers) == 0 {
		return ctx
	}
	return metadata.NewOutgoingContext(ctx, metadata.MD(c.headers))
}

// negotiate runs f against the memoized transport, or tries v1 then v1alpha
// when no version has been negotiated yet.
func (c *client) negotiate(f func(conversation) error) error {
	if c.active != nil {
		return f(c.active)
	}
	errV1 := f(c.v1)
	if errV1 == nil {
		c.active = c.v1
		return nil
	}
	logger.Printf("reflection v1 failed, falling back to v1alpha: %s", errV1)
	errV1Alpha := f(c.v1alpha)
	if errV1Alpha == nil {
		c.active = c.v1alpha
		return nil
	}
	if status.Code(errors.Cause(errV1)) == codes.Unimplemented && status.Code(errors.Cause(errV1Alpha)) == codes.Unimplemented {
		return errors.Wrap(ErrReflectionUnavailable, errV1Alpha.Error())
	}
	return errV1Alpha
}

func (c *client) ListServices(ctx context.Context) ([]string, error) {
	var services []string
	err := c.negotiate(func(t conversation) error {
		var err error
		services, err = t.listServices(c.ctx(ctx))
		return err
	})
	if err != nil {
		return nil, err
	}
	return services, nil
}

func (c *client) FileContainingSymbol(ctx context.Context, symbol string) ([][]byte, error) {
	var files [][]byte
	err := c.negotiate(func(t conversation) error {
		var err error
		files, err = t.fileContainingSymbol(c.ctx(ctx), symbol)
		return err
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (c *client) Reset() {
	c.active = nil
}

// conversation abstracts one protocol version. Both versions exchange
// structurally identical envelopes, only the generated types differ.
type conversation interface {
	listServices(ctx context.Context) ([]string, error)
	fileContainingSymbol(ctx context.Context, symbol string) ([][]byte, error)
}

type v1Conversation struct {
	c v1.ServerReflectionClient
}

func (t *v1Conversation) listServices(ctx context.Context) ([]string, error) {
	res, err := t.roundTrip(ctx, &v1.ServerReflectionRequest{
		MessageRequest: &v1.ServerReflectionRequest_ListServices{ListServices: ""},
	})
	if err != nil {
		return nil, err
	}
	list := res.GetListServicesResponse()
	if list == nil {
		return nil, errorResponse(res.GetErrorResponse().GetErrorCode(), res.GetErrorResponse().GetErrorMessage())
	}
	names := make([]string, 0, len(list.GetService()))
	for _, s := range list.GetService() {
		names = append(names, s.GetName())
	}
	return names, nil
}

func (t *v1Conversation) fileContainingSymbol(ctx context.Context, symbol string) ([][]byte, error) {
	res, err := t.roundTrip(ctx, &v1.ServerReflectionRequest{
		MessageRequest: &v1.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: symbol},
	})
	if err != nil {
		return nil, err
	}
	fds := res.GetFileDescriptorResponse()
	if fds == nil {
		return nil, errorResponse(res.GetErrorResponse().GetErrorCode(), res.GetErrorResponse().GetErrorMessage())
	}
	return fds.GetFileDescriptorProto(), nil
}

func (t *v1Conversation) roundTrip(ctx context.Context, req *v1.ServerReflectionRequest) (*v1.ServerReflectionResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := t.c.ServerReflectionInfo(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open a reflection stream")
	}
	if err := stream.Send(req); err != nil {
		return nil, errors.Wrap(err, "failed to send a reflection request")
	}
	res, err := stream.Recv()
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to receive a reflection response")
	}
	return res, nil
}

type v1alphaConversation struct {
	c v1alpha.ServerReflectionClient
}

func (t *v1alphaConversation) listServices(ctx context.Context) ([]string, error) {
	res, err := t.roundTrip(ctx, &v1alpha.ServerReflectionRequest{
		MessageRequest: &v1alpha.ServerReflectionRequest_ListServices{ListServices: ""},
	})
	if err != nil {
		return nil, err
	}
	list := res.GetListServicesResponse()
	if list == nil {
		return nil, errorResponse(res.GetErrorResponse().GetErrorCode(), res.GetErrorResponse().GetErrorMessage())
	}
	names := make([]string, 0, len(list.GetService()))
	for _, s := range list.GetService() {
		names = append(names, s.GetName())
	}
	return names, nil
}

func (t *v1alphaConversation) fileContainingSymbol(ctx context.Context, symbol string) ([][]byte, error) {
	res, err := t.roundTrip(ctx, &v1alpha.ServerReflectionRequest{
		MessageRequest: &v1alpha.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: symbol},
	})
	if err != nil {
		return nil, err
	}
	fds := res.GetFileDescriptorResponse()
	if fds == nil {
		return nil, errorResponse(res.GetErrorResponse().GetErrorCode(), res.GetErrorResponse().GetErrorMessage())
	}
	return fds.GetFileDescriptorProto(), nil
}

func (t *v1alphaConversation) roundTrip(ctx context.Context, req *v1alpha.ServerReflectionRequest) (*v1alpha.ServerReflectionResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := t.c.ServerReflectionInfo(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open a reflection stream")
	}
	if err := stream.Send(req); err != nil {
		return nil, errors.Wrap(err, "failed to send a reflection request")
	}
	res, err := stream.Recv()
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to receive a reflection response")
	}
	return res, nil
}

// errorResponse converts an explicit reflection error payload into a status
// error carrying the server's code.
func errorResponse(code int32, msg string) error {
	if msg == "" {
		msg = "reflection request failed"
	}
	return status.Error(codes.Code(code), msg)
}
