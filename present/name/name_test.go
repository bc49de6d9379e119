package name

import "testing"

func TestPresenter_Format(t *testing.T) {
	type service struct {
		Name string
	}
	v := struct {
		Services []service
	}{
		Services: []service{{Name: "api.Greeter"}, {Name: "api.Health"}},
	}
	s, err := NewPresenter().Format(&v)
	if err != nil {
		t.Fatalf("Format must not return an error, but got '%s'", err)
	}
	if s != "api.Greeter\napi.Health" {
		t.Errorf("unexpected output: %q", s)
	}
}

func TestPresenter_Format_errors(t *testing.T) {
	cases := map[string]interface{}{
		"non-struct value":     "names",
		"struct without slice": struct{ N int }{},
		"slice of non-structs": struct{ S []string }{S: []string{"a"}},
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewPresenter().Format(v); err == nil {
				t.Error("expected an error, but got nil")
			}
		})
	}
}
