package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/apicove/grpcbridge/call"
	"github.com/apicove/grpcbridge/config"
	"github.com/apicove/grpcbridge/cui"
	"github.com/apicove/grpcbridge/discovery"
	"github.com/apicove/grpcbridge/format"
	fjson "github.com/apicove/grpcbridge/format/json"
	ggrpc "github.com/apicove/grpcbridge/grpc"
	"github.com/apicove/grpcbridge/grpc/grpcreflection"
	"github.com/apicove/grpcbridge/present"
	pjson "github.com/apicove/grpcbridge/present/json"
	"github.com/apicove/grpcbridge/present/name"
	"github.com/apicove/grpcbridge/present/table"
	"github.com/apicove/grpcbridge/schema"
)

// runner wires the discovery, schema and call layers together for one
// command invocation.
type runner struct {
	ui  cui.UI
	cfg *config.Config
	reg *schema.Registry
	mgr *call.Manager
}

func newRunner(ui cui.UI, cfg *config.Config) *runner {
	dial := func(ctx context.Context, addr string, headers map[string][]string) (call.Transport, error) {
		s := cfg.Server
		return ggrpc.NewClient(addr, s.ServerName, s.TLS, s.CACertFile, s.CertFile, s.CertKeyFile, headers)
	}
	return &runner{
		ui:  ui,
		cfg: cfg,
		reg: schema.NewSizedRegistry(cfg.Cache.FileSize, cfg.Cache.MessageSize, cfg.Cache.EnumSize),
		mgr: call.NewManager(
			call.WithDialFunc(dial),
			call.WithReapInterval(cfg.Call.ReapInterval),
			call.WithStaleAfter(cfg.Call.StaleAfter),
		),
	}
}

func (r *runner) close() {
	r.mgr.Close()
}

func (r *runner) dial() (ggrpc.Client, error) {
	s := r.cfg.Server
	return ggrpc.NewClient(s.Address(), s.ServerName, s.TLS, s.CACertFile, s.CertFile, s.CertKeyFile, r.cfg.Request.Metadata())
}

// discover runs one reflection pass against the configured server and fills
// the registry.
func (r *runner) discover(ctx context.Context) (*discovery.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Call.DialTimeout)
	defer cancel()

	conn, err := r.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	refl := grpcreflection.NewClient(conn.Conn(), conn.Header())
	defer refl.Reset()

	res, err := discovery.NewClient(refl, r.reg).DiscoverServices(ctx)
	if err != nil {
		return nil, err
	}
	for svc, reason := range res.Skipped {
		r.ui.Error(fmt.Sprintf("skipped %s: %s", svc, reason))
	}
	return res, nil
}

func presenterFor(out string) (present.Presenter, error) {
	switch out {
	case "name":
		return name.NewPresenter(), nil
	case "json":
		return pjson.NewPresenter("  "), nil
	case "table":
		return table.NewPresenter(), nil
	default:
		return nil, errors.Errorf("unknown output format %q", out)
	}
}

func (r *runner) listServices(ctx context.Context, out string) error {
	p, err := presenterFor(out)
	if err != nil {
		return err
	}
	res, err := r.discover(ctx)
	if err != nil {
		return err
	}
	var s string
	if out == "table" {
		s, err = format.ServiceDescriptions(p, res.Services)
	} else {
		s, err = format.ServiceNames(p, res.Services)
	}
	if err != nil {
		return err
	}
	r.ui.Output(s)
	return nil
}

func (r *runner) describe(ctx context.Context, symbol string) error {
	res, err := r.discover(ctx)
	if err != nil {
		return err
	}
	p := table.NewPresenter()
	if symbol == "" {
		s, err := format.ServiceDescriptions(p, res.Services)
		if err != nil {
			return err
		}
		r.ui.Output(s)
		return nil
	}
	for _, svc := range res.Services {
		if svc.FullName == symbol {
			s, err := format.ServiceDescriptions(p, []*schema.ServiceInfo{svc})
			if err != nil {
				return err
			}
			r.ui.Output(s)
			return nil
		}
	}
	if msg, ok := r.reg.Message(symbol); ok {
		s, err := format.MessageDescription(p, msg)
		if err != nil {
			return err
		}
		r.ui.Output(s)
		return nil
	}
	return errors.Errorf("no service or message type is named %q", symbol)
}

func (r *runner) template(ctx context.Context, symbol string) error {
	res, err := r.discover(ctx)
	if err != nil {
		return err
	}
	msg, ok := r.reg.Message(symbol)
	if !ok {
		if m := findMethod(res, symbol); m != nil {
			msg = m.Input
		}
	}
	if msg == nil {
		return errors.Errorf("no message type or method is named %q", symbol)
	}
	s, err := format.MessageTemplate(pjson.NewPresenter("  "), r.reg, msg)
	if err != nil {
		return err
	}
	r.ui.Output(s)
	return nil
}

func (r *runner) proto(ctx context.Context, svcName string) error {
	res, err := r.discover(ctx)
	if err != nil {
		return err
	}
	svc := findService(res, svcName)
	if svc == nil {
		return errors.Errorf("no service is named %q", svcName)
	}
	src, err := schema.GenerateProto(r.reg, svc)
	if err != nil {
		return err
	}
	r.ui.Output(src)
	return nil
}

func (r *runner) callMethod(ctx context.Context, methodFQN, file string, enrich bool) error {
	res, err := r.discover(ctx)
	if err != nil {
		return err
	}
	svc, m := splitMethod(res, methodFQN)
	if m == nil {
		return errors.Errorf("no method is named %q", methodFQN)
	}
	src, err := schema.GenerateProto(r.reg, svc)
	if err != nil {
		return err
	}

	in := io.Reader(os.Stdin)
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return errors.Wrapf(err, "failed to open %s", file)
		}
		defer f.Close()
		in = f
	}

	req := &call.Request{
		Address:     r.cfg.Server.Address(),
		ServiceName: svc.FullName,
		MethodName:  m.Name,
		Metadata:    r.cfg.Request.Metadata(),
		ProtoSource: src,
	}
	formatter := fjson.NewResponseFormatter(r.ui.Writer(), enrich)

	if m.ClientStreaming {
		req.ID = uuid.New().String()
		req.MethodKind = call.MethodKind(m.Kind())
		return r.streamCall(ctx, req, m, in, formatter)
	}

	payload, err := io.ReadAll(in)
	if err != nil {
		return errors.Wrap(err, "failed to read the request payload")
	}
	payload = []byte(strings.TrimSpace(string(payload)))
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := r.validatePayload(payload, m); err != nil {
		return err
	}
	req.Message = json.RawMessage(payload)
	resp, err := r.mgr.Invoke(ctx, req)
	if err != nil {
		return err
	}
	return formatter.FormatResponse(resp)
}

// streamCall drives a client or bidirectional stream: one JSON payload per
// input line, one rendered event per response.
func (r *runner) streamCall(ctx context.Context, req *call.Request, m *schema.MethodInfo, in io.Reader, formatter format.ResponseFormatter) error {
	h, err := r.mgr.StartStream(ctx, req)
	if err != nil {
		return err
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := r.validatePayload([]byte(line), m); err != nil {
			h.Cancel()
			return err
		}
		if err := h.Send(json.RawMessage(line)); err != nil {
			break
		}
	}
	if err := sc.Err(); err != nil {
		h.Cancel()
		return errors.Wrap(err, "failed to read the request payloads")
	}
	h.End()

	for ev := range h.Events() {
		if err := formatter.FormatEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// validatePayload checks the payload against the request schema when the
// schema is resolvable.
func (r *runner) validatePayload(payload []byte, m *schema.MethodInfo) error {
	msg, ok := r.reg.Message(m.InputType)
	if !ok {
		return nil
	}
	var v map[string]interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return errors.Wrap(err, "the request payload is not a JSON object")
	}
	res := schema.Validate(r.reg, v, msg)
	if res.Valid {
		return nil
	}
	for _, e := range res.Errors {
		r.ui.Error(e)
	}
	return errors.Errorf("the request payload does not conform to %s", m.InputType)
}

func findService(res *discovery.Result, name string) *schema.ServiceInfo {
	for _, svc := range res.Services {
		if svc.FullName == name {
			return svc
		}
	}
	return nil
}

func findMethod(res *discovery.Result, fqn string) *schema.MethodInfo {
	_, m := splitMethod(res, fqn)
	return m
}

// splitMethod resolves "pkg.Service.Method" (or "pkg.Service/Method") into
// the service and the method.
func splitMethod(res *discovery.Result, fqn string) (*schema.ServiceInfo, *schema.MethodInfo) {
	fqn = strings.ReplaceAll(fqn, "/", ".")
	i := strings.LastIndex(fqn, ".")
	if i < 0 {
		return nil, nil
	}
	svcName, methodName := fqn[:i], fqn[i+1:]
	svc := findService(res, svcName)
	if svc == nil {
		return nil, nil
	}
	for _, m := range svc.Methods {
		if m.Name == methodName {
			return svc, m
		}
	}
	return nil, nil
}
