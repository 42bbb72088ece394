package strategy

import (
	"encoding/json"
	"fmt"
)

// PatternShape is the JSON blob stored in a success pattern's data column:
// the concrete niche, price point, and keywords that worked.
type PatternShape struct {
	Niche    string   `json:"niche,omitempty"`
	Price    float64  `json:"price,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// EncodePatternShape serializes a shape for persistence.
func EncodePatternShape(shape PatternShape) (string, error) {
	data, err := json.Marshal(shape)
	if err != nil {
		return "", fmt.Errorf("failed to encode pattern shape: %w", err)
	}
	return string(data), nil
}

// DecodePatternShape parses a stored shape. Empty data decodes to the zero
// shape rather than an error so older rows stay readable.
func DecodePatternShape(data string) (PatternShape, error) {
	var shape PatternShape
	if data == "" {
		return shape, nil
	}
	if err := json.Unmarshal([]byte(data), &shape); err != nil {
		return shape, fmt.Errorf("failed to decode pattern shape: %w", err)
	}
	return shape, nil
}
