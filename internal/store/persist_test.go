package store

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_RoundTrip(t *testing.T) {
	// Given a graph with live and tombstoned nodes
	vecs := randomVectors(60, 8, 4)
	g := buildGraph(t, vecs)
	g.Delete(5)
	g.Delete(6)

	// When written and read back
	var buf bytes.Buffer
	_, err := g.WriteTo(&buf)
	require.NoError(t, err)
	loaded, err := ReadGraph(&buf)
	require.NoError(t, err)

	// Then occupancy and search results are identical
	assert.Equal(t, g.Stats(), loaded.Stats())
	assert.Equal(t, g.Config(), loaded.Config())
	for _, q := range randomVectors(5, 8, 40) {
		want, err := g.Search(q, 7)
		require.NoError(t, err)
		got, err := loaded.Search(q, 7)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestGraph_RoundTripEmpty(t *testing.T) {
	g := NewGraph(GraphConfig{Dimensions: 4})

	var buf bytes.Buffer
	_, err := g.WriteTo(&buf)
	require.NoError(t, err)
	loaded, err := ReadGraph(&buf)

	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
	assert.Equal(t, 4, loaded.Dimensions())
}

func TestReadGraph_Truncated(t *testing.T) {
	g := buildGraph(t, randomVectors(30, 8, 8))
	var buf bytes.Buffer
	_, err := g.WriteTo(&buf)
	require.NoError(t, err)

	_, err = ReadGraph(bytes.NewReader(buf.Bytes()[:buf.Len()/2]))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestReadGraph_Garbage(t *testing.T) {
	_, err := ReadGraph(bytes.NewReader([]byte("not a graph at all")))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptIndex)
	assert.NotErrorIs(t, err, ErrNotIndexed)
}
