package embeddings

import "context"

// DefaultDummyDimensions is the vector size Dummy produces unless configured
// otherwise.
const DefaultDummyDimensions = 768

// Dummy is a deterministic, dependency-free embedder for tests and local
// development. Vectors are derived from byte content, so identical texts
// embed identically and similar texts land near each other only by accident.
type Dummy struct {
	dims int
}

// NewDummy creates a dummy embedder producing vectors of the given
// dimension. A non-positive dimension falls back to
// DefaultDummyDimensions.
func NewDummy(dims int) *Dummy {
	if dims <= 0 {
		dims = DefaultDummyDimensions
	}
	return &Dummy{dims: dims}
}

// Embed implements Embedder.
func (d *Dummy) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, d.dims)
	for i, ch := range []byte(text) {
		vec[i%d.dims] += float32(ch) / 255.0
	}
	return vec, nil
}

// EmbedBatch implements Embedder.
func (d *Dummy) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := d.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements Embedder.
func (d *Dummy) Dimensions() int { return d.dims }

// Close implements Embedder.
func (d *Dummy) Close() error { return nil }

var _ Embedder = (*Dummy)(nil)
