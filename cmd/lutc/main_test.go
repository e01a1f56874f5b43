package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/canlut/codec"
)

func TestParseFormats(t *testing.T) {
	t.Parallel()
	got, err := parseFormats([]string{"lutb,hex", "mif", ""})
	require.NoError(t, err)
	assert.Equal(t, []codec.Format{codec.Bundle, codec.HexTable, codec.MIF}, got)

	_, err = parseFormats([]string{"pkl"})
	assert.Error(t, err)
}

func TestLabels(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0:3 1:2", labels(map[int]int{1: 2, 0: 3}))
	assert.Empty(t, labels(nil))
}
