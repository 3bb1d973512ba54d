package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/placedotfun/server/internal/world"
)

// MemoryChunkRepository is an in-memory world.ChunkRepository for unit
// tests. It mirrors the Postgres store's semantics, including id and
// created_at preservation on update, both-sided neighbor linking, and
// reference clearing on delete. The Fail fields inject errors into the
// next matching call.
type MemoryChunkRepository struct {
	mu    sync.Mutex
	byID  map[string]*world.Chunk
	order []string // insertion order, oldest first
	clock time.Time

	FailUpsert error
	FailLink   error
	LinkCalls  int
}

// NewMemoryChunkRepository creates an empty in-memory repository.
func NewMemoryChunkRepository() *MemoryChunkRepository {
	return &MemoryChunkRepository{
		byID:  make(map[string]*world.Chunk),
		clock: time.Now().UTC(),
	}
}

// tick returns strictly increasing timestamps so creation order is always
// observable.
func (r *MemoryChunkRepository) tick() time.Time {
	r.clock = r.clock.Add(time.Millisecond)
	return r.clock
}

func cloneChunk(c *world.Chunk) *world.Chunk {
	copied := *c
	copied.Neighbors = world.ChunkNeighbors{}
	for _, dir := range world.Directions {
		if id := c.Neighbors.Get(dir); id != nil {
			v := *id
			copied.Neighbors.Set(dir, &v)
		}
	}
	return &copied
}

func (r *MemoryChunkRepository) findByPos(pos world.ChunkPosition) *world.Chunk {
	for _, id := range r.order {
		if c := r.byID[id]; c != nil && c.Position == pos {
			return c
		}
	}
	return nil
}

// UpsertChunk inserts or updates the record at the chunk's position.
func (r *MemoryChunkRepository) UpsertChunk(c *world.Chunk) (*world.Chunk, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailUpsert != nil {
		err := r.FailUpsert
		r.FailUpsert = nil
		return nil, false, err
	}

	if existing := r.findByPos(c.Position); existing != nil {
		existing.ModelURL = c.ModelURL
		existing.Metadata.Vertices = c.Metadata.Vertices
		existing.Metadata.Faces = c.Metadata.Faces
		existing.Metadata.SourceImage = c.Metadata.SourceImage
		existing.Metadata.GeneratedBy = c.Metadata.GeneratedBy
		existing.Metadata.UpdatedAt = r.tick()
		return cloneChunk(existing), false, nil
	}

	stored := cloneChunk(c)
	now := r.tick()
	stored.Metadata.CreatedAt = now
	stored.Metadata.UpdatedAt = now
	r.byID[stored.ID] = stored
	r.order = append(r.order, stored.ID)
	return cloneChunk(stored), true, nil
}

// GetChunk returns the chunk at pos, or nil when empty.
func (r *MemoryChunkRepository) GetChunk(pos world.ChunkPosition) (*world.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c := r.findByPos(pos); c != nil {
		return cloneChunk(c), nil
	}
	return nil, nil
}

// GetChunkByID returns the chunk with the given id, or nil when absent.
func (r *MemoryChunkRepository) GetChunkByID(id string) (*world.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.byID[id]; ok {
		return cloneChunk(c), nil
	}
	return nil, nil
}

// DeleteChunk removes the chunk and clears references to it held by its
// neighbors, like the store's ON DELETE SET NULL foreign keys.
func (r *MemoryChunkRepository) DeleteChunk(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return false, nil
	}

	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for _, c := range r.byID {
		for _, dir := range world.Directions {
			if ref := c.Neighbors.Get(dir); ref != nil && *ref == id {
				c.Neighbors.Set(dir, nil)
			}
		}
	}
	return true, nil
}

// LinkNeighbors writes both directions of every adjacency the chunk has.
func (r *MemoryChunkRepository) LinkNeighbors(id string, pos world.ChunkPosition) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.LinkCalls++
	if r.FailLink != nil {
		err := r.FailLink
		r.FailLink = nil
		return 0, err
	}

	own, ok := r.byID[id]
	if !ok {
		return 0, fmt.Errorf("chunk %s not found", id)
	}

	linked := 0
	for _, adj := range world.AdjacentPositions(pos) {
		neighbor := r.findByPos(adj.Pos)
		if neighbor == nil {
			continue
		}
		nid := neighbor.ID
		oid := own.ID
		own.Neighbors.Set(adj.Dir, &nid)
		neighbor.Neighbors.Set(world.Opposite(adj.Dir), &oid)
		linked++
	}
	return linked, nil
}

// ChunksInRadius returns chunks inside the inclusive square window.
func (r *MemoryChunkRepository) ChunksInRadius(center world.ChunkPosition, radius int) ([]*world.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunks := []*world.Chunk{}
	for _, id := range r.order {
		c := r.byID[id]
		if world.WindowContains(center, radius, c.Position) {
			chunks = append(chunks, cloneChunk(c))
		}
	}
	return chunks, nil
}

// RecentChunks returns up to limit chunks, newest first.
func (r *MemoryChunkRepository) RecentChunks(limit int) ([]*world.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunks := []*world.Chunk{}
	for i := len(r.order) - 1; i >= 0 && len(chunks) < limit; i-- {
		chunks = append(chunks, cloneChunk(r.byID[r.order[i]]))
	}
	return chunks, nil
}

// ChunkStats aggregates totals across stored chunks.
func (r *MemoryChunkRepository) ChunkStats() (*world.WorldStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &world.WorldStats{}
	for _, c := range r.byID {
		stats.TotalChunks++
		stats.TotalVertices += int64(c.Metadata.Vertices)
		stats.TotalFaces += int64(c.Metadata.Faces)
	}
	return stats, nil
}

// Len returns the number of stored chunks.
func (r *MemoryChunkRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// MemoryBlobStore is an in-memory world.BlobStore for unit tests.
type MemoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	BaseURL string
	FailPut error
	FailGet error
	Puts    int
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		objects: make(map[string][]byte),
		BaseURL: "https://blobs.test",
	}
}

// Put stores the payload and returns its public URL.
func (s *MemoryBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Puts++
	if s.FailPut != nil {
		err := s.FailPut
		s.FailPut = nil
		return "", err
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[key] = stored
	return s.BaseURL + "/" + key, nil
}

// Get returns the stored payload for key.
func (s *MemoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailGet != nil {
		err := s.FailGet
		s.FailGet = nil
		return nil, err
	}

	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Has reports whether an object exists under key.
func (s *MemoryBlobStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}
