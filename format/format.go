// Package format renders discovery results and call responses for display.
package format

import (
	"github.com/apicove/grpcbridge/call"
	"github.com/apicove/grpcbridge/present"
	"github.com/apicove/grpcbridge/schema"
)

// ResponseFormatter renders call responses and stream events.
type ResponseFormatter interface {
	// FormatResponse renders the single envelope of a unary or
	// server-streaming call.
	FormatResponse(resp *call.Response) error
	// FormatEvent renders one stream event.
	FormatEvent(ev call.Event) error
}

// ServiceNames renders only the fully qualified names of svcs.
func ServiceNames(p present.Presenter, svcs []*schema.ServiceInfo) (string, error) {
	type service struct {
		Name string `json:"name"`
	}
	var v struct {
		Services []service `json:"services"`
	}
	for _, s := range svcs {
		v.Services = append(v.Services, service{Name: s.FullName})
	}
	return p.Format(&v)
}

// ServiceDescriptions renders one row per method of the discovered services.
func ServiceDescriptions(p present.Presenter, svcs []*schema.ServiceInfo) (string, error) {
	var v struct {
		Service  []string `json:"service" table:"service"`
		RPC      []string `json:"rpc" table:"rpc"`
		Kind     []string `json:"kind" table:"kind"`
		Request  []string `json:"request" table:"request type"`
		Response []string `json:"response" table:"response type"`
	}
	for _, s := range svcs {
		for _, m := range s.Methods {
			v.Service = append(v.Service, s.FullName)
			v.RPC = append(v.RPC, m.Name)
			v.Kind = append(v.Kind, m.Kind())
			v.Request = append(v.Request, m.InputType)
			v.Response = append(v.Response, m.OutputType)
		}
	}
	return p.Format(&v)
}

// MessageDescription renders one row per field of a message schema.
func MessageDescription(p present.Presenter, msg *schema.MessageSchema) (string, error) {
	var v struct {
		Field  []string `json:"field" table:"field"`
		Type   []string `json:"type" table:"type"`
		Label  []string `json:"label" table:"label"`
		Number []int32  `json:"number" table:"number"`
	}
	for _, f := range msg.Fields {
		typeName := f.Type.String()
		if f.IsMap() {
			typeName = "map<" + f.MapKey.Type.String() + ", " + mapValueType(f) + ">"
		} else if f.TypeName != "" {
			typeName = f.TypeName
		}
		v.Field = append(v.Field, f.Name)
		v.Type = append(v.Type, typeName)
		v.Label = append(v.Label, f.Label.String())
		v.Number = append(v.Number, f.Number)
	}
	return p.Format(&v)
}

func mapValueType(f *schema.FieldSchema) string {
	if f.MapValue.TypeName != "" {
		return f.MapValue.TypeName
	}
	return f.MapValue.Type.String()
}

// MessageTemplate renders the skeleton request payload for a message schema.
func MessageTemplate(p present.Presenter, reg *schema.Registry, msg *schema.MessageSchema) (string, error) {
	return p.Format(schema.Template(reg, msg))
}
