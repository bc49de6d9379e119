package logger_test

import (
	"bytes"
	"testing"

	"github.com/apicove/grpcbridge/logger"
	"github.com/stretchr/testify/assert"
)

func TestScriptln(t *testing.T) {
	t.Run("logger must write the result of Scriptln to w", func(t *testing.T) {
		defer logger.Reset()
		w := new(bytes.Buffer)
		logger.SetOutput(w)
		logger.Scriptln(func() []interface{} {
			return []interface{}{"list", "services"}
		})
		assert.NotEmpty(t, w.String())
	})

	t.Run("logger must not write the result of Scriptln because SetOutput is not called", func(t *testing.T) {
		defer logger.Reset()
		w := new(bytes.Buffer)
		logger.Scriptln(func() []interface{} {
			return []interface{}{"file", "containing", "symbol"}
		})
		assert.Empty(t, w.String())
	})
}
