// Package name provides a presenter that lists only names.
package name

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// Presenter renders the first field of each element of the value's first
// slice field, one per line.
type Presenter struct{}

func NewPresenter() *Presenter {
	return &Presenter{}
}

func (p *Presenter) Format(v interface{}) (string, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		rv = reflect.Indirect(rv)
	}
	if rv.Kind() != reflect.Struct {
		return "", errors.New("the value must be a struct type")
	}

	var slice reflect.Value
	for i := 0; i < rv.NumField(); i++ {
		if rv.Field(i).Kind() == reflect.Slice {
			slice = rv.Field(i)
			break
		}
	}
	if !slice.IsValid() {
		return "", errors.New("the struct must have a slice field")
	}

	rows := make([]string, slice.Len())
	for i := 0; i < slice.Len(); i++ {
		e := slice.Index(i)
		if e.Kind() != reflect.Struct || e.NumField() == 0 {
			return "", errors.New("the slice elements must be structs with at least one field")
		}
		rows[i] = fmt.Sprint(e.Field(0))
	}
	return strings.Join(rows, "\n"), nil
}
