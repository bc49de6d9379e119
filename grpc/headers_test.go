package grpc_test

import (
	"testing"

	"github.com/apicove/grpcbridge/grpc"
	"github.com/google/go-cmp/cmp"
)

func TestHeaders_Add(t *testing.T) {
	cases := map[string]struct {
		k, v   string
		hasErr bool
	}{
		"normal":                  {k: "authorization", v: "bearer token"},
		"'/' is invalid char":     {k: "auth/", v: "x", hasErr: true},
		"reserved grpc- prefix":   {k: "grpc-timeout", v: "1S", hasErr: true},
		"binary suffix is valid":  {k: "trace-bin", v: "\x00\x01"},
		"dots and dashes allowed": {k: "x-request.id", v: "1"},
	}

	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			h := grpc.Headers{}
			err := h.Add(c.k, c.v)
			if c.hasErr {
				if err == nil {
					t.Errorf("Add must return an error, but got nil")
				}
			} else {
				if err != nil {
					t.Errorf("Add must not return an error, but got '%s'", err)
				}
			}
		})
	}
}

func TestHeaders_Add_distinct(t *testing.T) {
	h := grpc.Headers{}
	h.Add("env", "staging")
	h.Add("env", "staging")
	expected := []string{"staging"}
	if diff := cmp.Diff(expected, h["env"]); diff != "" {
		t.Errorf("-want, +got\n%s", diff)
	}
}

func TestIsBinary(t *testing.T) {
	if !grpc.IsBinary("trace-bin") {
		t.Errorf("trace-bin must be binary metadata")
	}
	if grpc.IsBinary("trace") {
		t.Errorf("trace must not be binary metadata")
	}
}
