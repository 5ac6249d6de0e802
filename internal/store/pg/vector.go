package pg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

// vectorLiteral renders a float slice as a pgvector text literal, to be
// bound through a $n::vector cast. Returns "" for an absent embedding.
func vectorLiteral(vec []float32) string {
	if len(vec) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector reads a pgvector text representation back into floats.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

// checkDimensions rejects vectors the column would refuse anyway, with a
// clearer error than the driver's.
func checkDimensions(vec []float32) error {
	if len(vec) != 0 && len(vec) != store.EmbeddingDimensions {
		return fmt.Errorf("%w: got %d, want %d", store.ErrBadEmbedding, len(vec), store.EmbeddingDimensions)
	}
	return nil
}
