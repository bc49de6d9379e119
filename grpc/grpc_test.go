package grpc

import (
	"testing"

	"google.golang.org/grpc/codes"
)

func Test_fqrnToEndpoint(t *testing.T) {
	fqrn := "helloworld.Greeter.SayHello"

	endpoint, err := fqrnToEndpoint(fqrn)
	if err != nil {
		t.Fatalf("must not return an error, but got '%s'", err)
	}
	if expected := "/helloworld.Greeter/SayHello"; expected != endpoint {
		t.Fatalf("expected endpoint: %s, but got '%s'", expected, endpoint)
	}

	if _, err := fqrnToEndpoint("nodots"); err == nil {
		t.Errorf("fqrnToEndpoint must return an error for a name without a service part")
	}
}

func Test_normalizeAddr(t *testing.T) {
	cases := map[string]struct {
		in       string
		expected string
	}{
		"bare host":     {in: "localhost:50051", expected: "localhost:50051"},
		"grpc scheme":   {in: "grpc://localhost:50051", expected: "localhost:50051"},
		"http scheme":   {in: "http://127.0.0.1:8080", expected: "127.0.0.1:8080"},
		"https scheme":  {in: "https://api.example.com:443", expected: "api.example.com:443"},
		"no double cut": {in: "https://http.example.com", expected: "http.example.com"},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			if got := normalizeAddr(c.in); got != c.expected {
				t.Errorf("expected '%s', but got '%s'", c.expected, got)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	cases := map[string]struct {
		addr    string
		useTLS  bool
		cacert  string
		cert    string
		certKey string

		hasErr bool
		err    error
	}{
		"certKey is missing":                      {useTLS: true, cert: "foo", err: ErrMutualAuthParamsAreNotEnough},
		"cert is missing":                         {useTLS: true, certKey: "bar", err: ErrMutualAuthParamsAreNotEnough},
		"certKey is missing, but useTLS is false": {cert: "foo"},
		"cert is missing, but useTLS is false":    {certKey: "foo"},
		"invalid cacert file path":                {useTLS: true, cacert: "fooCA.pem", hasErr: true},
		"invalid cert and key file path":          {useTLS: true, cert: "foo.pem", certKey: "foo-key.pem", hasErr: true},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			_, err := NewClient(c.addr, "", c.useTLS, c.cacert, c.cert, c.certKey, nil)
			if c.err != nil {
				if err == nil {
					t.Fatalf("NewClient must return an error, but got nil")
				}
				if c.err != err {
					t.Errorf("expected: '%s', but got '%s'", c.err, err)
				}
				return
			} else if c.hasErr {
				if err == nil {
					t.Fatalf("NewClient must return an error, but got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("NewClient must not return an error, but got '%s'", err)
			}
		})
	}
}

func TestCanonicalStatusName(t *testing.T) {
	cases := map[string]struct {
		code     codes.Code
		expected string
	}{
		"ok":              {code: codes.OK, expected: "OK"},
		"cancelled":       {code: codes.Canceled, expected: "CANCELLED"},
		"unauthenticated": {code: codes.Unauthenticated, expected: "UNAUTHENTICATED"},
		"out of range":    {code: codes.Code(999), expected: "UNKNOWN"},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			if got := CanonicalStatusName(c.code); got != c.expected {
				t.Errorf("expected '%s', but got '%s'", c.expected, got)
			}
		})
	}
}

func TestHTTPStatusToCode(t *testing.T) {
	cases := map[string]struct {
		httpStatus int
		expected   codes.Code
	}{
		"200": {200, codes.OK},
		"400": {400, codes.InvalidArgument},
		"401": {401, codes.Unauthenticated},
		"404": {404, codes.NotFound},
		"429": {429, codes.ResourceExhausted},
		"503": {503, codes.Unavailable},
		"504": {504, codes.DeadlineExceeded},
		"418": {418, codes.Unknown},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			if got := HTTPStatusToCode(c.httpStatus); got != c.expected {
				t.Errorf("expected %s, but got %s", c.expected, got)
			}
		})
	}
}
