// Package discovery orchestrates service discovery over gRPC server
// reflection: it fetches raw file descriptors, decodes them with the
// descriptor package, registers every transitively referenced type in a
// schema registry and projects each service into a schema.ServiceInfo.
package discovery

import (
	"context"

	"github.com/apicove/grpcbridge/descriptor"
	ggrpc "github.com/apicove/grpcbridge/grpc"
	"github.com/apicove/grpcbridge/grpc/grpcreflection"
	"github.com/apicove/grpcbridge/logger"
	"github.com/apicove/grpcbridge/schema"
	"github.com/pkg/errors"
)

// Result is the outcome of one discovery pass. Services that failed to
// resolve are omitted and listed in Skipped; a partial result is not an
// error.
type Result struct {
	Services []*schema.ServiceInfo
	// Skipped maps omitted service names to the reason they were skipped.
	Skipped map[string]string
}

// Client drives discovery against one server.
type Client struct {
	refl grpcreflection.Client
	reg  *schema.Registry
}

// NewClient returns a discovery client using refl as its reflection
// transport and reg as the schema sink.
func NewClient(refl grpcreflection.Client, reg *schema.Registry) *Client {
	return &Client{refl: refl, reg: reg}
}

// DiscoverServices dials addr without TLS and discovers every service the
// server exposes through reflection.
func DiscoverServices(ctx context.Context, addr string, reg *schema.Registry) (*Result, error) {
	conn, err := ggrpc.NewClient(addr, "", false, "", "", "", nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial '%s'", addr)
	}
	defer conn.Close(ctx)

	refl := grpcreflection.NewClient(conn.Conn(), conn.Header())
	defer refl.Reset()

	return NewClient(refl, reg).DiscoverServices(ctx)
}

// DiscoverServices lists services, fetches and decodes the descriptors for
// each one and projects them into ServiceInfos. A failure on one service is
// logged and that service is skipped; only a failure to list services at all
// aborts the pass.
func (c *Client) DiscoverServices(ctx context.Context) (*Result, error) {
	names, err := c.refl.ListServices(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list services from the reflection endpoint")
	}

	res := &Result{Skipped: map[string]string{}}
	for _, name := range names {
		if grpcreflection.IsReflectionService(name) {
			continue
		}
		svc, err := c.discoverService(ctx, name)
		if err != nil {
			logger.Printf("skipping service '%s': %s", name, err)
			res.Skipped[name] = err.Error()
			continue
		}
		res.Services = append(res.Services, svc)
	}
	return res, nil
}

func (c *Client) discoverService(ctx context.Context, name string) (*schema.ServiceInfo, error) {
	files, err := c.refl.FileContainingSymbol(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch the descriptor for '%s'", name)
	}

	var svcDesc *descriptor.ServiceDescriptor
	var svcFullName string
	for _, raw := range files {
		fd := descriptor.Parse(raw)
		c.registerFile(fd)
		for _, s := range fd.Services {
			if qualify(fd.Package, s.Name) == name {
				svcDesc = s
				svcFullName = qualify(fd.Package, s.Name)
			}
		}
	}
	if svcDesc == nil {
		return nil, errors.Errorf("no service descriptor named '%s' in the returned files", name)
	}

	info := &schema.ServiceInfo{
		Name:     svcDesc.Name,
		FullName: svcFullName,
		Methods:  make([]*schema.MethodInfo, 0, len(svcDesc.Methods)),
	}
	for _, m := range svcDesc.Methods {
		info.Methods = append(info.Methods, &schema.MethodInfo{
			Name:            m.Name,
			FullName:        svcFullName + "." + m.Name,
			InputType:       m.InputType,
			OutputType:      m.OutputType,
			ClientStreaming: m.ClientStreaming,
			ServerStreaming: m.ServerStreaming,
			Input:           c.resolve(m.InputType),
			Output:          c.resolve(m.OutputType),
		})
	}
	return info, nil
}

// resolve returns the cached schema for a type name, or a placeholder with
// an empty field list so one unresolved type never fails a whole discovery.
func (c *Client) resolve(typeName string) *schema.MessageSchema {
	if s, ok := c.reg.Message(typeName); ok {
		return s
	}
	logger.Printf("type '%s' is not in the registry, substituting a placeholder", typeName)
	return schema.Placeholder(typeName)
}

// registerFile caches the file descriptor and every message and enum type it
// declares, recursively qualifying nested types by their parents.
func (c *Client) registerFile(fd *descriptor.FileDescriptor) {
	c.reg.PutFile(fd)
	for _, m := range fd.MessageTypes {
		c.registerMessage(fd.Package, m)
	}
	for _, e := range fd.EnumTypes {
		c.registerEnum(fd.Package, e)
	}
}

func (c *Client) registerMessage(prefix string, md *descriptor.MessageDescriptor) {
	fullName := qualify(prefix, md.Name)

	// Nested types first so that map-entry lookups below can resolve.
	for _, nested := range md.NestedTypes {
		c.registerMessage(fullName, nested)
	}
	for _, e := range md.EnumTypes {
		c.registerEnum(fullName, e)
	}

	s := &schema.MessageSchema{
		Name:     md.Name,
		FullName: fullName,
		Fields:   make([]*schema.FieldSchema, 0, len(md.Fields)),
	}
	for _, f := range md.Fields {
		fs := &schema.FieldSchema{
			Name:       f.Name,
			JSONName:   f.JSONName,
			Number:     f.Number,
			Type:       schema.FieldType(f.Type),
			Label:      schema.Label(f.Label),
			TypeName:   f.TypeName,
			OneofIndex: f.OneofIndex,
		}
		if key, value, ok := c.mapEntry(fs); ok {
			fs.MapKey, fs.MapValue = key, value
		}
		s.Fields = append(s.Fields, fs)
	}
	c.reg.PutMessage(s)
}

// mapEntry detects protobuf map fields: a repeated message field whose type
// is a synthetic nested message named "<FieldName>Entry" with exactly a
// key=1 and a value=2 field.
func (c *Client) mapEntry(f *schema.FieldSchema) (key, value *schema.FieldSchema, ok bool) {
	if f.Type != schema.FieldTypeMessage || f.Label != schema.LabelRepeated {
		return nil, nil, false
	}
	entry, found := c.reg.Message(f.TypeName)
	if !found || len(entry.Fields) != 2 {
		return nil, nil, false
	}
	if len(entry.Name) < len("Entry") || entry.Name[len(entry.Name)-len("Entry"):] != "Entry" {
		return nil, nil, false
	}
	k, kok := entry.FieldByName("key")
	v, vok := entry.FieldByName("value")
	if !kok || !vok || k.Number != 1 || v.Number != 2 {
		return nil, nil, false
	}
	return k, v, true
}

func (c *Client) registerEnum(prefix string, ed *descriptor.EnumDescriptor) {
	s := &schema.EnumSchema{
		Name:     ed.Name,
		FullName: qualify(prefix, ed.Name),
		Values:   make([]schema.EnumValue, 0, len(ed.Values)),
	}
	for _, v := range ed.Values {
		s.Values = append(s.Values, schema.EnumValue{Name: v.Name, Number: v.Number})
	}
	c.reg.PutEnum(s)
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
