package call

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	ggrpc "github.com/apicove/grpcbridge/grpc"
	"github.com/apicove/grpcbridge/logger"
)

const (
	// DefaultReapInterval is how often the reaper scans for stale calls.
	DefaultReapInterval = 60 * time.Second
	// DefaultStaleAfter is how long a call may go without activity before
	// the reaper force-cancels it.
	DefaultStaleAfter = 5 * time.Minute
)

// Transport is the slice of the gRPC client the call manager needs.
// ggrpc.Client satisfies it.
type Transport interface {
	Invoke(ctx context.Context, fqrn string, req, res interface{}) (header, trailer metadata.MD, _ error)
	NewClientStream(ctx context.Context, streamDesc *grpc.StreamDesc, fqrn string) (ggrpc.ClientStream, error)
	NewServerStream(ctx context.Context, streamDesc *grpc.StreamDesc, fqrn string) (ggrpc.ServerStream, error)
	NewBidiStream(ctx context.Context, streamDesc *grpc.StreamDesc, fqrn string) (ggrpc.BidiStream, error)
	Close(ctx context.Context) error
}

// DialFunc opens a transport to addr with the given request headers.
type DialFunc func(ctx context.Context, addr string, headers map[string][]string) (Transport, error)

func defaultDial(ctx context.Context, addr string, headers map[string][]string) (Transport, error) {
	client, err := ggrpc.NewClient(addr, "", false, "", "", "", headers)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// activeCall is one registered invocation. Its lifecycle ends exactly once,
// through Manager.closeCall.
type activeCall struct {
	id        string
	kind      MethodKind
	createdAt time.Time

	cancel     context.CancelFunc
	scratchDir string
	transport  Transport

	queue  *msgQueue
	events chan Event
	done   chan struct{}

	// canceled is set before cancel fires so that the receive loops can
	// tell a caller-requested teardown from a genuine failure.
	mu       sync.Mutex
	canceled bool
	closed   bool

	// lastActive is bumped on every send and receive.
	lastActive time.Time
}

func (c *activeCall) markCanceled() {
	c.mu.Lock()
	c.canceled = true
	c.mu.Unlock()
}

func (c *activeCall) isCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

func (c *activeCall) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *activeCall) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// emit delivers an event unless the call has already been torn down.
func (c *activeCall) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.done:
	}
}

// Manager tracks active calls and drives their lifecycle.
type Manager struct {
	mu    sync.Mutex
	calls map[string]*activeCall

	dial         DialFunc
	scratchRoot  string
	reapInterval time.Duration
	staleAfter   time.Duration

	stopReaper chan struct{}
	reaperDone chan struct{}
	closeOnce  sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialFunc replaces the transport dialer.
func WithDialFunc(dial DialFunc) Option {
	return func(m *Manager) { m.dial = dial }
}

// WithReapInterval overrides the reaper scan interval.
func WithReapInterval(d time.Duration) Option {
	return func(m *Manager) { m.reapInterval = d }
}

// WithStaleAfter overrides the staleness threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) { m.staleAfter = d }
}

// WithScratchRoot places per-call scratch directories under dir instead of
// the system temp directory.
func WithScratchRoot(dir string) Option {
	return func(m *Manager) { m.scratchRoot = dir }
}

// NewManager starts a manager and its background reaper. Close releases both.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		calls:        make(map[string]*activeCall),
		dial:         defaultDial,
		reapInterval: DefaultReapInterval,
		staleAfter:   DefaultStaleAfter,
		stopReaper:   make(chan struct{}),
		reaperDone:   make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	go m.reapLoop()
	return m
}

// Close cancels every active call and stops the reaper.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stopReaper)
		<-m.reaperDone

		m.mu.Lock()
		remaining := make([]*activeCall, 0, len(m.calls))
		for _, c := range m.calls {
			remaining = append(remaining, c)
		}
		m.mu.Unlock()
		for _, c := range remaining {
			c.markCanceled()
			m.closeCall(c)
		}
	})
}

// ActiveCount reports the number of registered calls.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// register installs a call under its id. Duplicate ids are rejected without
// side effects.
func (m *Manager) register(c *activeCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[c.id]; ok {
		return &duplicateStreamIDError{id: c.id}
	}
	m.calls[c.id] = c
	return nil
}

// closeCall is the only teardown path. Every exit, normal completion, error,
// caller cancel and reaping, funnels through it. Idempotent.
func (m *Manager) closeCall(c *activeCall) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	if c.cancel != nil {
		c.cancel()
	}
	if c.queue != nil {
		c.queue.stop()
	}
	if c.transport != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.transport.Close(ctx); err != nil {
			logger.Printf("failed to close the transport for call %s: %v", c.id, err)
		}
		cancel()
	}
	if c.scratchDir != "" {
		if err := os.RemoveAll(c.scratchDir); err != nil {
			logger.Printf("failed to remove the scratch directory %s: %v", c.scratchDir, err)
		}
	}

	m.mu.Lock()
	if registered, ok := m.calls[c.id]; ok && registered == c {
		delete(m.calls, c.id)
	}
	m.mu.Unlock()
}

func (m *Manager) reapLoop() {
	defer close(m.reaperDone)
	t := time.NewTicker(m.reapInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stopReaper:
			return
		case now := <-t.C:
			m.reapOnce(now)
		}
	}
}

// reapOnce force-cancels every call idle longer than the staleness threshold.
func (m *Manager) reapOnce(now time.Time) {
	m.mu.Lock()
	var stale []*activeCall
	for _, c := range m.calls {
		if now.Sub(c.idleSince()) >= m.staleAfter {
			stale = append(stale, c)
		}
	}
	m.mu.Unlock()

	for _, c := range stale {
		logger.Printf("reaping stale call %s (idle since %s)", c.id, c.idleSince().Format(time.RFC3339))
		c.markCanceled()
		m.closeCall(c)
	}
}

// newCall prepares an activeCall: id assignment, registration, the scratch
// directory holding the proto definition, and the transport. On any failure
// the partial state is rolled back.
func (m *Manager) newCall(ctx context.Context, req *Request, stream bool) (*activeCall, context.Context, error) {
	if req.ProtoSource == "" {
		return nil, nil, ErrMissingProtoSource
	}
	id := req.ID
	if stream && id == "" {
		return nil, nil, ErrStreamIDRequired
	}
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now()
	c := &activeCall{
		id:         id,
		kind:       req.MethodKind,
		createdAt:  now,
		lastActive: now,
		done:       make(chan struct{}),
	}
	if stream {
		c.queue = newMsgQueue()
		c.events = make(chan Event, 32)
	}
	if err := m.register(c); err != nil {
		return nil, nil, err
	}

	dir, err := os.MkdirTemp(m.scratchRoot, "grpcbridge-call-")
	if err != nil {
		m.closeCall(c)
		return nil, nil, errors.Wrap(err, "failed to create the scratch directory")
	}
	c.scratchDir = dir
	if err := os.WriteFile(filepath.Join(dir, protoFileName), []byte(req.ProtoSource), 0600); err != nil {
		m.closeCall(c)
		return nil, nil, errors.Wrap(err, "failed to write the proto definition")
	}

	timeout, err := requestTimeout(req)
	if err != nil {
		m.closeCall(c)
		return nil, nil, err
	}
	// Streams outlive the call that starts them, so they detach from the
	// caller's context.
	base := ctx
	if stream {
		base = context.Background()
	}
	var callCtx context.Context
	if timeout > 0 {
		callCtx, c.cancel = context.WithTimeout(base, timeout)
	} else {
		callCtx, c.cancel = context.WithCancel(base)
	}
	// The timeout is already resolved into the context; the reserved
	// grpc-timeout entry must not reach the transport's header validation
	// or the wire.
	md := stripTimeoutHeader(req.Metadata)
	if len(md) > 0 {
		callCtx = metadata.NewOutgoingContext(callCtx, md)
	}

	transport, err := m.dial(ctx, req.Address, md)
	if err != nil {
		m.closeCall(c)
		return nil, nil, errors.Wrapf(err, "failed to dial %s", req.Address)
	}
	c.transport = transport
	return c, callCtx, nil
}

// stripTimeoutHeader copies request metadata without the grpc-timeout entry.
func stripTimeoutHeader(headers map[string][]string) metadata.MD {
	md := make(metadata.MD, len(headers))
	for k, v := range headers {
		if strings.ToLower(k) == "grpc-timeout" {
			continue
		}
		md[k] = v
	}
	return md
}
