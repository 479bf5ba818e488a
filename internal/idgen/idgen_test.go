package idgen

import (
	"testing"

	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsesConfiguredNode(t *testing.T) {
	node, err := New(config.Config{NodeID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(7), node.Generate().Node())
}

func TestNewRejectsOutOfRangeNode(t *testing.T) {
	_, err := New(config.Config{NodeID: 5000})
	assert.Error(t, err)
}
