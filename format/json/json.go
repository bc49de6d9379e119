// Package json provides a JSON response formatter implementation.
package json

import (
	gojson "encoding/json"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/grpc/metadata"

	"github.com/apicove/grpcbridge/call"
	"github.com/apicove/grpcbridge/format"
	"github.com/apicove/grpcbridge/present"
	"github.com/apicove/grpcbridge/present/json"
)

type statusView struct {
	Code    uint32   `json:"code"`
	Name    string   `json:"name"`
	Message string   `json:"message,omitempty"`
	Details []string `json:"details,omitempty"`
}

type responseView struct {
	Status   statusView          `json:"status"`
	Header   *metadata.MD        `json:"header,omitempty"`
	Messages []gojson.RawMessage `json:"messages,omitempty"`
	Trailer  *metadata.MD        `json:"trailer,omitempty"`
}

type eventView struct {
	Type    string            `json:"type"`
	Message gojson.RawMessage `json:"message,omitempty"`
	Status  *statusView       `json:"status,omitempty"`
}

// responseFormatter renders call responses and stream events as JSON
// objects.
type responseFormatter struct {
	w io.Writer
	p present.Presenter

	// enrich includes headers and trailers in the output.
	enrich bool
}

// NewResponseFormatter instantiates a formatter writing to w. If enrich is
// false, only the messages and the status are rendered.
func NewResponseFormatter(w io.Writer, enrich bool) format.ResponseFormatter {
	return &responseFormatter{w: w, p: json.NewPresenter("  "), enrich: enrich}
}

func (f *responseFormatter) FormatResponse(resp *call.Response) error {
	v := responseView{
		Status: statusView{
			Code:    uint32(resp.StatusCode),
			Name:    resp.StatusName,
			Message: resp.Error,
			Details: resp.Details,
		},
	}
	if resp.Message != nil {
		v.Messages = []gojson.RawMessage{gojson.RawMessage(resp.Message)}
	}
	for _, m := range resp.Messages {
		v.Messages = append(v.Messages, gojson.RawMessage(m))
	}
	if f.enrich {
		if len(resp.Headers) != 0 {
			v.Header = &resp.Headers
		}
		if len(resp.Trailers) != 0 {
			v.Trailer = &resp.Trailers
		}
	}
	return f.write(v)
}

func (f *responseFormatter) FormatEvent(ev call.Event) error {
	v := eventView{Type: string(ev.Type)}
	switch ev.Type {
	case call.EventData:
		v.Message = gojson.RawMessage(ev.Message)
	case call.EventError, call.EventStatus:
		v.Status = &statusView{
			Code:    uint32(ev.Code),
			Name:    ev.StatusName,
			Message: ev.Details,
		}
	}
	return f.write(v)
}

func (f *responseFormatter) write(v interface{}) error {
	s, err := f.p.Format(v)
	if err != nil {
		return errors.Wrap(err, "failed to render the response")
	}
	_, err = io.WriteString(f.w, s+"\n")
	return err
}
