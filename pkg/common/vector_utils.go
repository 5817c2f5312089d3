// Package common holds small utilities shared by the cache tiers and
// providers: pgvector text formatting and the binary vector codec used
// for blob archives.
package common

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// NormalizeVectorL2 normalizes a vector using L2 normalization (Euclidean norm)
func NormalizeVectorL2(vector []float32) []float32 {
	var sum float32
	for _, v := range vector {
		sum += v * v
	}
	norm := float32(math.Sqrt(float64(sum)))

	// Avoid division by zero
	if norm < 1e-10 {
		return vector
	}

	normalized := make([]float32, len(vector))
	for i, v := range vector {
		normalized[i] = v / norm
	}

	return normalized
}

// FormatVectorForPgVector formats a float32 array as a pgvector string
// Format: [0.1,0.2,0.3,...,0.n]
func FormatVectorForPgVector(vector []float32) string {
	if len(vector) == 0 {
		return "[]"
	}

	var result strings.Builder
	result.WriteString("[")

	for i, v := range vector {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(fmt.Sprintf("%f", v))
	}

	result.WriteString("]")
	return result.String()
}

// ParseVectorFromPgVector parses a pgvector string into a float32 array
// Handles both array formats: {0.1,0.2,0.3} and [0.1,0.2,0.3]
func ParseVectorFromPgVector(vectorStr string) ([]float32, error) {
	vectorStr = strings.TrimPrefix(vectorStr, "[")
	vectorStr = strings.TrimPrefix(vectorStr, "{")
	vectorStr = strings.TrimSuffix(vectorStr, "]")
	vectorStr = strings.TrimSuffix(vectorStr, "}")

	if vectorStr == "" {
		return []float32{}, nil
	}

	parts := strings.Split(vectorStr, ",")
	result := make([]float32, len(parts))

	for i, part := range parts {
		part = strings.TrimSpace(part)
		var f float64
		_, err := fmt.Sscanf(part, "%f", &f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse vector component '%s': %w", part, err)
		}
		result[i] = float32(f)
	}

	return result, nil
}

// EncodeVectorBinary serializes a vector as a little-endian blob:
// a uint32 dimension header followed by one float32 per component.
// This is the on-disk format for archived vectors in object storage.
func EncodeVectorBinary(vector []float32) []byte {
	buf := make([]byte, 4+4*len(vector))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(vector)))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeVectorBinary deserializes a blob written by EncodeVectorBinary.
// It validates that the payload length matches the dimension header.
func DecodeVectorBinary(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("vector blob too short: %d bytes", len(data))
	}
	dim := binary.LittleEndian.Uint32(data[0:4])
	expected := 4 + 4*int(dim)
	if len(data) != expected {
		return nil, fmt.Errorf("vector blob length mismatch: have %d bytes, header declares %d components", len(data), dim)
	}
	vector := make([]float32, dim)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(data[4+4*i:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector, nil
}
