package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/placedotfun/server/internal/world"
)

// TestFixtures provides test data generators
type TestFixtures struct{}

// NewTestFixtures creates a new test fixtures helper
func NewTestFixtures() *TestFixtures {
	return &TestFixtures{}
}

// RandomString generates a random string of specified length
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	seed := time.Now().UnixNano()
	for i := range b {
		seed = seed*1103515245 + 12345 // Simple LCG
		idx := int(seed % int64(len(charset)))
		if idx < 0 {
			idx = -idx
		}
		b[i] = charset[idx]
	}
	return string(b)
}

// ModelPayload generates a deterministic fake binary model payload.
func ModelPayload(size int) []byte {
	b := make([]byte, size)
	seed := int64(size)
	for i := range b {
		seed = seed*1103515245 + 12345
		b[i] = byte(seed)
	}
	return b
}

// NewTestChunk builds a chunk record at the given position with plausible
// metadata, ready to pass to a repository.
func NewTestChunk(x, z int) *world.Chunk {
	pos := world.ChunkPosition{X: x, Z: z}
	return &world.Chunk{
		ID:       uuid.NewString(),
		Position: pos,
		ModelURL: "https://blobs.test/" + world.ModelObjectKey(pos),
		Metadata: world.ChunkMetadata{
			Vertices:    100,
			Faces:       50,
			SourceImage: "https://images.test/" + RandomString(8) + ".png",
			GeneratedBy: "test-pipeline",
		},
	}
}

// NewTestChunkWithCounts builds a chunk record with explicit vertex and
// face counts.
func NewTestChunkWithCounts(x, z, vertices, faces int) *world.Chunk {
	chunk := NewTestChunk(x, z)
	chunk.Metadata.Vertices = vertices
	chunk.Metadata.Faces = faces
	return chunk
}

func (f *TestFixtures) NewTestChunk(x, z int) *world.Chunk {
	return NewTestChunk(x, z)
}

func (f *TestFixtures) NewTestChunkWithCounts(x, z, vertices, faces int) *world.Chunk {
	return NewTestChunkWithCounts(x, z, vertices, faces)
}
