// Package table provides an aligned table presenter.
package table

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
)

// Presenter renders a struct of column slices as an aligned table. Column
// headers come from the "table" field tag; fields tagged "-" are skipped and
// untagged fields fall back to the lower-cased field name.
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
	rt := rv.Type()

	var headers []string
	var cols []reflect.Value
	for i := 0; i < rt.NumField(); i++ {
		tag := rt.Field(i).Tag.Get("table")
		if tag == "-" {
			continue
		}
		if tag == "" {
			tag = strings.ToLower(rt.Field(i).Name)
		}
		headers = append(headers, tag)
		cols = append(cols, rv.Field(i))
	}

	rows := 1
	for _, c := range cols {
		if c.Kind() == reflect.Slice && c.Len() > rows {
			rows = c.Len()
		}
	}
	vals := make([][]string, rows)
	for i := range vals {
		row := make([]string, len(cols))
		for j, c := range cols {
			if c.Kind() == reflect.Slice {
				if c.Len() > i {
					row[j] = fmt.Sprint(c.Index(i).Interface())
				}
				continue
			}
			row[j] = fmt.Sprint(c.Interface())
		}
		vals[i] = row
	}

	var buf bytes.Buffer
	w := tablewriter.NewWriter(&buf)
	w.SetHeader(headers)
	w.AppendBulk(vals)
	w.Render()
	return buf.String(), nil
}
