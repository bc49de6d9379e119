package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	assert.NotNil(t, Version)
	assert.Equal(t, "grpcbridge", AppName)
}
