// Package json provides a JSON presenter.
package json

import (
	gojson "encoding/json"

	"github.com/pkg/errors"
)

// Presenter renders values as indented JSON.
type Presenter struct {
	indent string
}

// NewPresenter instantiates a Presenter. indent may be empty for compact
// output.
func NewPresenter(indent string) *Presenter {
	return &Presenter{indent: indent}
}

func (p *Presenter) Format(v interface{}) (string, error) {
	b, err := gojson.MarshalIndent(v, "", p.indent)
	if err != nil {
		return "", errors.Wrap(err, "failed to render the value as JSON")
	}
	return string(b), nil
}
