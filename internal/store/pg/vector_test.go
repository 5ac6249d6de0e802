package pg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

func TestVectorLiteralRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3, 0.0001}
	lit := vectorLiteral(in)
	assert.Equal(t, "[0.5,-1.25,3,0.0001]", lit)

	out, err := parseVector(lit)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestVectorLiteralEmpty(t *testing.T) {
	assert.Empty(t, vectorLiteral(nil))

	out, err := parseVector("")
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = parseVector("[]")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestParseVectorRejectsGarbage(t *testing.T) {
	_, err := parseVector("[1,two,3]")
	assert.Error(t, err)
}

func TestCheckDimensions(t *testing.T) {
	assert.NoError(t, checkDimensions(nil))
	assert.NoError(t, checkDimensions(make([]float32, store.EmbeddingDimensions)))
	assert.ErrorIs(t, checkDimensions(make([]float32, 10)), store.ErrBadEmbedding)
}
