package llm

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
)

// FakeChat returns canned completions, in call order.
type FakeChat struct {
	Responses []string
	Err       error
	Calls     [][]ChatMessage
}

// Complete records the call and returns the next canned response.
func (f *FakeChat) Complete(_ context.Context, messages []ChatMessage) (string, error) {
	f.Calls = append(f.Calls, messages)
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Responses) == 0 {
		return "fake response", nil
	}
	resp := f.Responses[0]
	if len(f.Responses) > 1 {
		f.Responses = f.Responses[1:]
	}
	return resp, nil
}

// FakeEmbedder derives deterministic unit vectors from text content, so
// identical texts embed identically and tests can assert on neighbors.
type FakeEmbedder struct {
	Dim   int
	Err   error
	Calls int
}

// Embed hashes each text into a deterministic pseudo-random unit vector.
func (f *FakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	dim := f.Dim
	if dim <= 0 {
		dim = 8
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashVector(text, dim)
	}
	return out, nil
}

func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	var norm float64
	for d := 0; d < dim; d++ {
		h := fnv.New64a()
		h.Write([]byte(text))
		var idx [4]byte
		binary.LittleEndian.PutUint32(idx[:], uint32(d))
		h.Write(idx[:])
		// Map the hash onto [-1, 1).
		v[d] = float32(int64(h.Sum64())%1000) / 1000
		norm += float64(v[d]) * float64(v[d])
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for d := range v {
			v[d] *= scale
		}
	}
	return v
}
