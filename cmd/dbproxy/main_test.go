package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAddrAddsWildcardHost(t *testing.T) {
	re := require.New(t)
	re.Equal(":27017", normalizeAddr("27017"))
	re.Equal("localhost:27017", normalizeAddr("localhost:27017"))
	re.Equal("0.0.0.0:27017", normalizeAddr("0.0.0.0:27017"))
}
