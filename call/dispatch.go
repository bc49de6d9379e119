package call

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	_ "google.golang.org/genproto/googleapis/rpc/errdetails" // Registers the standard error detail types.
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	ggrpc "github.com/apicove/grpcbridge/grpc"
	"github.com/apicove/grpcbridge/logger"
)

// protoFileName is the file the scratch directory's proto definition is
// written to and compiled from.
const protoFileName = "service.proto"

// loadMethod compiles the proto definition in dir and resolves the requested
// method descriptor.
func loadMethod(dir, serviceName, methodName string) (*desc.MethodDescriptor, error) {
	p := protoparse.Parser{ImportPaths: []string{dir}}
	fds, err := p.ParseFiles(protoFileName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile the proto definition")
	}
	for _, fd := range fds {
		sd := fd.FindService(serviceName)
		if sd == nil {
			continue
		}
		md := sd.FindMethodByName(methodName)
		if md == nil {
			return nil, errors.Errorf("method %s is not defined on service %s", methodName, serviceName)
		}
		return md, nil
	}
	return nil, errors.Errorf("service %s is not defined in the proto definition", serviceName)
}

func methodKind(md *desc.MethodDescriptor) MethodKind {
	switch {
	case md.IsClientStreaming() && md.IsServerStreaming():
		return KindBidiStream
	case md.IsClientStreaming():
		return KindClientStream
	case md.IsServerStreaming():
		return KindServerStream
	default:
		return KindUnary
	}
}

func newRequestMessage(md *desc.MethodDescriptor, payload json.RawMessage) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(md.GetInputType())
	if len(payload) == 0 {
		return msg, nil
	}
	if err := msg.UnmarshalJSON(payload); err != nil {
		return nil, errors.Wrap(err, "failed to decode the request payload")
	}
	return msg, nil
}

func marshalResponse(msg *dynamic.Message) (json.RawMessage, error) {
	b, err := msg.MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode the response payload")
	}
	return json.RawMessage(b), nil
}

// methodFQRN joins a fully-qualified service name and a method name into the
// form the transport's endpoint conversion expects.
func methodFQRN(serviceName, methodName string) string {
	return serviceName + "." + methodName
}

func streamDesc(md *desc.MethodDescriptor) *grpc.StreamDesc {
	return &grpc.StreamDesc{
		StreamName:    md.GetName(),
		ServerStreams: md.IsServerStreaming(),
		ClientStreams: md.IsClientStreaming(),
	}
}

// Invoke performs a unary or server-streaming call and returns a single
// response envelope. RPC status failures are reported inside the envelope;
// only local failures surface as errors.
func (m *Manager) Invoke(ctx context.Context, req *Request) (*Response, error) {
	c, callCtx, err := m.newCall(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer m.closeCall(c)

	md, err := loadMethod(c.scratchDir, req.ServiceName, req.MethodName)
	if err != nil {
		return nil, err
	}
	kind := methodKind(md)
	if kind.Streaming() {
		return nil, errors.Errorf("%s is a %s method, start it as a stream", req.MethodName, kind)
	}

	inMsg, err := newRequestMessage(md, req.Message)
	if err != nil {
		return nil, err
	}

	fqrn := methodFQRN(req.ServiceName, req.MethodName)
	if kind == KindServerStream {
		return m.invokeServerStream(callCtx, c, md, fqrn, inMsg)
	}
	return m.invokeUnary(callCtx, c, md, fqrn, inMsg)
}

func (m *Manager) invokeUnary(ctx context.Context, c *activeCall, md *desc.MethodDescriptor, fqrn string, inMsg *dynamic.Message) (*Response, error) {
	res := dynamic.NewMessage(md.GetOutputType())
	header, trailer, err := c.transport.Invoke(ctx, fqrn, inMsg, res)
	if err != nil {
		return errorResponse(err, header, trailer), nil
	}
	payload, err := marshalResponse(res)
	if err != nil {
		return nil, err
	}
	c.touch()
	return &Response{
		StatusCode: codes.OK,
		StatusName: ggrpc.CanonicalStatusName(codes.OK),
		Headers:    header,
		Message:    payload,
		Trailers:   trailer,
	}, nil
}

func (m *Manager) invokeServerStream(ctx context.Context, c *activeCall, md *desc.MethodDescriptor, fqrn string, inMsg *dynamic.Message) (*Response, error) {
	stream, err := c.transport.NewServerStream(ctx, streamDesc(md), fqrn)
	if err != nil {
		return errorResponse(err, nil, nil), nil
	}
	if err := stream.Send(inMsg); err != nil {
		return errorResponse(err, nil, stream.Trailer()), nil
	}
	var messages []json.RawMessage
	for {
		res := dynamic.NewMessage(md.GetOutputType())
		rerr := stream.Receive(res)
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			header, _ := stream.Header()
			return errorResponse(rerr, header, stream.Trailer()), nil
		}
		payload, merr := marshalResponse(res)
		if merr != nil {
			return nil, merr
		}
		messages = append(messages, payload)
		c.touch()
	}
	header, _ := stream.Header()
	return &Response{
		StatusCode: codes.OK,
		StatusName: ggrpc.CanonicalStatusName(codes.OK),
		Headers:    header,
		Messages:   messages,
		Trailers:   stream.Trailer(),
	}, nil
}

// errorResponse folds an RPC failure into a response envelope.
func errorResponse(err error, header, trailer metadata.MD) *Response {
	st, ok := status.FromError(errors.Cause(err))
	if !ok {
		st = status.New(codes.Unknown, err.Error())
	}
	resp := &Response{
		StatusCode: st.Code(),
		StatusName: ggrpc.CanonicalStatusName(st.Code()),
		Headers:    header,
		Trailers:   trailer,
		Error:      st.Message(),
	}
	for _, d := range st.Details() {
		if pm, ok := d.(proto.Message); ok {
			if b, merr := protojson.Marshal(pm); merr == nil {
				resp.Details = append(resp.Details, string(b))
				continue
			}
		}
		resp.Details = append(resp.Details, fmt.Sprintf("%v", d))
	}
	return resp
}

// StreamHandle is the caller's side of a client or bidirectional stream.
type StreamHandle struct {
	id string
	m  *Manager
	c  *activeCall
}

// ID returns the request id the stream was registered under.
func (h *StreamHandle) ID() string { return h.id }

// Events returns the stream's event channel. It is closed on teardown.
func (h *StreamHandle) Events() <-chan Event { return h.c.events }

// Send enqueues one JSON payload. It never blocks on the transport.
func (h *StreamHandle) Send(payload json.RawMessage) error {
	if err := h.c.queue.push(payload); err != nil {
		return err
	}
	h.c.touch()
	return nil
}

// End half-closes the send side. The stream still delivers responses until
// the server completes.
func (h *StreamHandle) End() {
	h.c.queue.finish()
}

// Cancel aborts the stream. Errors the cancellation induces are not
// reported; the event channel just closes after a final status event.
func (h *StreamHandle) Cancel() {
	h.c.markCanceled()
	h.m.closeCall(h.c)
}

// StartStream begins a client-streaming or bidirectional call. The caller
// must supply a request id; a second stream under the same id is rejected.
func (m *Manager) StartStream(ctx context.Context, req *Request) (*StreamHandle, error) {
	c, callCtx, err := m.newCall(ctx, req, true)
	if err != nil {
		return nil, err
	}

	md, err := loadMethod(c.scratchDir, req.ServiceName, req.MethodName)
	if err != nil {
		m.closeCall(c)
		return nil, err
	}
	kind := methodKind(md)
	if !kind.Streaming() {
		m.closeCall(c)
		return nil, errors.Errorf("%s is a %s method, invoke it directly", req.MethodName, kind)
	}

	fqrn := methodFQRN(req.ServiceName, req.MethodName)
	if kind == KindBidiStream {
		go m.runBidiStream(callCtx, c, md, fqrn)
	} else {
		go m.runClientStream(callCtx, c, md, fqrn)
	}
	return &StreamHandle{id: c.id, m: m, c: c}, nil
}

// Send enqueues a payload on the stream registered under id.
func (m *Manager) Send(id string, payload json.RawMessage) error {
	c, err := m.lookupStream(id)
	if err != nil {
		return err
	}
	if err := c.queue.push(payload); err != nil {
		return err
	}
	c.touch()
	return nil
}

// EndStream half-closes the send side of the stream registered under id.
func (m *Manager) EndStream(id string) error {
	c, err := m.lookupStream(id)
	if err != nil {
		return err
	}
	c.queue.finish()
	return nil
}

// CancelStream aborts the stream registered under id.
func (m *Manager) CancelStream(id string) error {
	c, err := m.lookup(id)
	if err != nil {
		return err
	}
	c.markCanceled()
	m.closeCall(c)
	return nil
}

func (m *Manager) lookup(id string) (*activeCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return nil, errors.Errorf("no active call is registered under %s", id)
	}
	return c, nil
}

func (m *Manager) lookupStream(id string) (*activeCall, error) {
	c, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if c.queue == nil {
		return nil, errors.Errorf("the call registered under %s is not a stream", id)
	}
	return c, nil
}

func (m *Manager) runClientStream(ctx context.Context, c *activeCall, md *desc.MethodDescriptor, fqrn string) {
	defer m.closeCall(c)
	defer close(c.events)

	stream, err := c.transport.NewClientStream(ctx, streamDesc(md), fqrn)
	if err != nil {
		m.emitFailure(c, err)
		return
	}
	for payload := range c.queue.out {
		inMsg, merr := newRequestMessage(md, payload)
		if merr != nil {
			c.emit(Event{Type: EventError, Code: codes.InvalidArgument, StatusName: ggrpc.CanonicalStatusName(codes.InvalidArgument), Details: merr.Error()})
			continue
		}
		if serr := stream.Send(inMsg); serr != nil {
			m.emitFailure(c, serr)
			return
		}
		c.touch()
	}
	res := dynamic.NewMessage(md.GetOutputType())
	if err := stream.CloseAndReceive(res); err != nil {
		m.emitFailure(c, err)
		return
	}
	payload, err := marshalResponse(res)
	if err != nil {
		m.emitFailure(c, err)
		return
	}
	c.emit(Event{Type: EventData, Message: payload})
	c.emit(Event{Type: EventStatus, Code: codes.OK, StatusName: ggrpc.CanonicalStatusName(codes.OK)})
}

func (m *Manager) runBidiStream(ctx context.Context, c *activeCall, md *desc.MethodDescriptor, fqrn string) {
	defer m.closeCall(c)
	defer close(c.events)

	stream, err := c.transport.NewBidiStream(ctx, streamDesc(md), fqrn)
	if err != nil {
		m.emitFailure(c, err)
		return
	}

	var eg errgroup.Group
	eg.Go(func() error {
		for payload := range c.queue.out {
			inMsg, merr := newRequestMessage(md, payload)
			if merr != nil {
				c.emit(Event{Type: EventError, Code: codes.InvalidArgument, StatusName: ggrpc.CanonicalStatusName(codes.InvalidArgument), Details: merr.Error()})
				continue
			}
			if serr := stream.Send(inMsg); serr != nil {
				return serr
			}
			c.touch()
		}
		return stream.CloseSend()
	})
	eg.Go(func() error {
		for {
			res := dynamic.NewMessage(md.GetOutputType())
			rerr := stream.Receive(res)
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			if rerr != nil {
				return rerr
			}
			payload, merr := marshalResponse(res)
			if merr != nil {
				return merr
			}
			c.emit(Event{Type: EventData, Message: payload})
			c.touch()
		}
	})
	if err := eg.Wait(); err != nil {
		// The send pump fails with the same status once the stream dies,
		// so a single failure report covers both.
		c.queue.finish()
		m.emitFailure(c, err)
		return
	}
	c.emit(Event{Type: EventStatus, Code: codes.OK, StatusName: ggrpc.CanonicalStatusName(codes.OK)})
}

// emitFailure reports a stream failure, unless the failure was induced by a
// caller-requested cancellation, which tears the stream down silently.
func (m *Manager) emitFailure(c *activeCall, err error) {
	if c.isCanceled() && isCancelError(err) {
		logger.Printf("call %s was canceled", c.id)
		c.emit(Event{Type: EventStatus, Code: codes.Canceled, StatusName: ggrpc.CanonicalStatusName(codes.Canceled)})
		return
	}
	st, ok := status.FromError(errors.Cause(err))
	if !ok {
		st = status.New(codes.Unknown, err.Error())
	}
	name := ggrpc.CanonicalStatusName(st.Code())
	c.emit(Event{Type: EventError, Code: st.Code(), StatusName: name, Details: st.Message()})
	c.emit(Event{Type: EventStatus, Code: st.Code(), StatusName: name, Details: st.Message()})
}

func isCancelError(err error) bool {
	if errors.Is(errors.Cause(err), context.Canceled) {
		return true
	}
	if st, ok := status.FromError(errors.Cause(err)); ok {
		return st.Code() == codes.Canceled || st.Code() == codes.Unavailable
	}
	return false
}
