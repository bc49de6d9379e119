// Package call manages in-flight RPC invocations against dynamically
// discovered services. It owns the registry of active calls, dispatches all
// four RPC kinds over the transport with message types compiled from a
// textual proto definition, and reaps calls abandoned by their callers.
package call

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// MethodKind identifies the invocation shape of an RPC.
type MethodKind string

const (
	KindUnary        MethodKind = "unary"
	KindServerStream MethodKind = "server-streaming"
	KindClientStream MethodKind = "client-streaming"
	KindBidiStream   MethodKind = "bidirectional-streaming"
)

// Streaming reports whether the kind requires a stream handle rather than a
// single response envelope.
func (k MethodKind) Streaming() bool {
	return k == KindClientStream || k == KindBidiStream
}

// Request describes one RPC invocation on the call boundary.
type Request struct {
	// ID identifies the call. StartStream requires it; Invoke generates
	// one when empty.
	ID string

	Address     string
	ServiceName string
	MethodName  string
	MethodKind  MethodKind

	// Metadata is sent as request headers. A "grpc-timeout" entry is
	// honored in addition to Timeout.
	Metadata map[string][]string

	// Message is the JSON-encoded request payload. Ignored for
	// client/bidirectional streams, whose payloads arrive via Send.
	Message json.RawMessage

	// ProtoSource is the textual proto definition the dynamic service
	// adapter is constructed from, typically synthesized by
	// schema.GenerateProto.
	ProtoSource string

	// Timeout bounds the whole call. Zero means no request timeout.
	Timeout time.Duration
}

// Response is the single envelope returned for unary and server-streaming
// invocations.
type Response struct {
	StatusCode codes.Code
	StatusName string
	Headers    metadata.MD
	// Message holds the unary response; Messages holds every
	// server-streamed response in arrival order.
	Message  json.RawMessage
	Messages []json.RawMessage
	Trailers metadata.MD
	Error    string
	Details  []string
}

// EventType discriminates stream events.
type EventType string

const (
	EventData   EventType = "data"
	EventError  EventType = "error"
	EventStatus EventType = "status"
)

// Event is one occurrence on a stream handle's event channel.
type Event struct {
	Type    EventType
	Message json.RawMessage

	Code       codes.Code
	StatusName string
	Details    string
}

var (
	// ErrDuplicateStreamID rejects a StartStream whose id is already
	// registered. No state is mutated on rejection.
	ErrDuplicateStreamID = errors.New("a call with this request id is already active")

	// ErrStreamIDRequired rejects a StartStream without a caller-supplied id.
	ErrStreamIDRequired = errors.New("streaming calls require a caller-supplied request id")

	// ErrMissingProtoSource rejects a request without a proto definition.
	ErrMissingProtoSource = errors.New("request carries no proto source to build the service adapter from")
)

// duplicateStreamIDError carries ErrDuplicateStreamID together with an
// Internal-class gRPC status, so boundary consumers can map the rejection
// through status.FromError without knowing the sentinel.
type duplicateStreamIDError struct {
	id string
}

func (e *duplicateStreamIDError) Error() string {
	return fmt.Sprintf("request id '%s': %s", e.id, ErrDuplicateStreamID)
}

func (e *duplicateStreamIDError) Unwrap() error { return ErrDuplicateStreamID }

func (e *duplicateStreamIDError) GRPCStatus() *status.Status {
	return status.New(codes.Internal, e.Error())
}

// parseTimeout parses a grpc-timeout style duration ("100m", "1S", "2H").
func parseTimeout(v string) (time.Duration, error) {
	replacer := strings.NewReplacer("n", "ns", "u", "us", "m", "ms", "S", "s", "M", "m", "H", "h")
	d, err := time.ParseDuration(replacer.Replace(v))
	if err != nil {
		return 0, errors.Wrap(err, "malformed grpc-timeout value")
	}
	return d, nil
}

// requestTimeout resolves the effective timeout of a request: an explicit
// Timeout wins over a grpc-timeout metadata entry.
func requestTimeout(req *Request) (time.Duration, error) {
	if req.Timeout > 0 {
		return req.Timeout, nil
	}
	values := req.Metadata["grpc-timeout"]
	if len(values) == 0 {
		return 0, nil
	}
	return parseTimeout(values[len(values)-1])
}
