package grpc

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Headers represents gRPC request metadata. A key corresponds to one or
// more values.
type Headers map[string][]string

// Add appends a value v to a key k. Keys must consist of letters, digits,
// '-', '_' and '.', and must not use the reserved "grpc-" prefix. Keys with
// the "-bin" suffix carry binary values and are passed through untouched.
func (h Headers) Add(k, v string) error {
	// If k is already in h, k is a valid key name.
	if _, ok := h[k]; !ok {
		if strings.HasPrefix(strings.ToLower(k), "grpc-") {
			return errors.Errorf("header key '%s' uses the reserved 'grpc-' prefix", k)
		}
		for _, r := range k {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.' {
				return errors.Errorf("invalid char '%c' in key", r)
			}
		}
	}
	h[k] = distinct(append(h[k], v))
	return nil
}

// Remove deletes values corresponding to a key k.
func (h Headers) Remove(k string) {
	delete(h, k)
}

// IsBinary reports whether k names a binary-valued metadata entry.
func IsBinary(k string) bool {
	return strings.HasSuffix(strings.ToLower(k), "-bin")
}

// distinct removes duplicated elements.
func distinct(s []string) []string {
	newSlice := make([]string, 0, len(s))
	encountered := map[string]interface{}{}
	for _, v := range s {
		if _, found := encountered[v]; !found {
			newSlice = append(newSlice, v)
			encountered[v] = nil
		}
	}
	return newSlice
}
