package chat

import (
	"encoding/json"
	"math"

	"gorm.io/datatypes"
)

// EncodeEmbedding serializes a vector into the jsonb column format.
func EncodeEmbedding(vec []float32) datatypes.JSON {
	if len(vec) == 0 {
		return datatypes.JSON([]byte(`[]`))
	}
	b, err := json.Marshal(vec)
	if err != nil {
		return datatypes.JSON([]byte(`[]`))
	}
	return datatypes.JSON(b)
}

// ParseEmbeddingJSON decodes a stored embedding column. An empty or
// unparseable column yields a nil vector.
func ParseEmbeddingJSON(raw datatypes.JSON) ([]float32, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Cosine returns the cosine similarity of two equal-length vectors.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
