package world

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// DefaultListLimit caps AllChunks when the caller does not supply a limit.
const DefaultListLimit = 100

// ChunkRepository is the durable record store behind the world. It must
// enforce a uniqueness constraint on position so that UpsertChunk is atomic
// with respect to concurrent writers targeting the same cell.
type ChunkRepository interface {
	// UpsertChunk inserts c or, when its position is already occupied,
	// updates the existing record in place (same id, createdAt preserved,
	// neighbors untouched). Returns the persisted record and whether it was
	// newly inserted.
	UpsertChunk(c *Chunk) (*Chunk, bool, error)
	GetChunk(pos ChunkPosition) (*Chunk, error)
	GetChunkByID(id string) (*Chunk, error)
	DeleteChunk(id string) (bool, error)
	// LinkNeighbors wires bidirectional adjacency between the chunk at pos
	// and any occupied cardinal-adjacent cells. Returns the number of
	// neighbors linked.
	LinkNeighbors(id string, pos ChunkPosition) (int, error)
	ChunksInRadius(center ChunkPosition, radius int) ([]*Chunk, error)
	RecentChunks(limit int) ([]*Chunk, error)
	ChunkStats() (*WorldStats, error)
}

// BlobStore persists opaque model payloads under deterministic keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// ChunkService orchestrates the chunk store, the neighbor linker, and the
// blob store. All methods are safe for concurrent use; the service holds no
// mutable state of its own.
type ChunkService struct {
	repo  ChunkRepository
	blobs BlobStore
}

// NewChunkService creates a new chunk service.
func NewChunkService(repo ChunkRepository, blobs BlobStore) *ChunkService {
	return &ChunkService{repo: repo, blobs: blobs}
}

// SaveChunkInput carries the caller-supplied fields for SaveChunk.
// Timestamps are owned by the store and deliberately absent.
type SaveChunkInput struct {
	Position    ChunkPosition
	ModelData   []byte
	Vertices    int
	Faces       int
	SourceImage string
	GeneratedBy string
}

// SaveChunk persists a mesh payload and upserts the chunk record at the given
// position. The blob write completes and yields a URL before any record write
// is attempted; a blob failure aborts the operation with no partial state. On
// first insertion the neighbor linker runs synchronously before returning;
// linker failures are logged as consistency warnings and never fail the save,
// since the chunk record is already durable at that point.
//
// Returns the persisted chunk and whether it was newly created.
func (s *ChunkService) SaveChunk(ctx context.Context, in SaveChunkInput) (*Chunk, bool, error) {
	if len(in.ModelData) == 0 {
		return nil, false, &ValidationError{Field: "model_data", Reason: "model payload is empty"}
	}
	if in.Vertices < 0 {
		return nil, false, &ValidationError{Field: "vertices", Reason: "must be non-negative"}
	}
	if in.Faces < 0 {
		return nil, false, &ValidationError{Field: "faces", Reason: "must be non-negative"}
	}

	key := ModelObjectKey(in.Position)
	url, err := s.blobs.Put(ctx, key, in.ModelData, ModelContentType)
	if err != nil {
		return nil, false, &UpstreamStorageError{Op: "put " + key, Err: err}
	}

	chunk := &Chunk{
		ID:       uuid.NewString(),
		Position: in.Position,
		ModelURL: url,
		Metadata: ChunkMetadata{
			Vertices:    in.Vertices,
			Faces:       in.Faces,
			SourceImage: in.SourceImage,
			GeneratedBy: in.GeneratedBy,
		},
	}

	saved, inserted, err := s.repo.UpsertChunk(chunk)
	if err != nil {
		return nil, false, &PersistenceError{Op: "upsert chunk", Err: err}
	}

	if inserted {
		linked, err := s.repo.LinkNeighbors(saved.ID, saved.Position)
		if err != nil {
			warn := &ConsistencyWarning{Position: saved.Position, Err: err}
			log.Printf("Warning: %v", warn)
			return saved, true, nil
		}
		if linked > 0 {
			// Pick up the neighbor fields the linker just wrote.
			fresh, err := s.repo.GetChunkByID(saved.ID)
			if err == nil && fresh != nil {
				saved = fresh
			}
		}
	}

	return saved, inserted, nil
}

// GetChunk looks up the chunk at an exact position. Absent is (nil, nil).
func (s *ChunkService) GetChunk(pos ChunkPosition) (*Chunk, error) {
	return s.repo.GetChunk(pos)
}

// GetChunkByID looks up a chunk by identifier. Absent is (nil, nil).
func (s *ChunkService) GetChunkByID(id string) (*Chunk, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, &ValidationError{Field: "id", Reason: "not a valid chunk id"}
	}
	return s.repo.GetChunkByID(id)
}

// DeleteChunk removes the record if present and reports whether a record was
// actually removed. Neighbor references held by adjacent chunks are cleared
// by the store as part of the delete.
func (s *ChunkService) DeleteChunk(id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, &ValidationError{Field: "id", Reason: "not a valid chunk id"}
	}
	deleted, err := s.repo.DeleteChunk(id)
	if err != nil {
		return false, &PersistenceError{Op: "delete chunk", Err: err}
	}
	return deleted, nil
}

// ChunksInRadius returns every chunk inside the inclusive square window of
// half-width radius centered on center.
func (s *ChunkService) ChunksInRadius(center ChunkPosition, radius int) ([]*Chunk, error) {
	if radius < 0 {
		return nil, &ValidationError{Field: "radius", Reason: "must be non-negative"}
	}
	return s.repo.ChunksInRadius(center, radius)
}

// AllChunks returns up to limit chunks, most recently created first. A
// non-positive limit falls back to DefaultListLimit. Truncation is silent.
func (s *ChunkService) AllChunks(limit int) ([]*Chunk, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.repo.RecentChunks(limit)
}

// ChunkStats aggregates chunk count and vertex/face sums over the full store.
func (s *ChunkService) ChunkStats() (*WorldStats, error) {
	return s.repo.ChunkStats()
}

// ChunkModel resolves a chunk id to its stored mesh bytes, ready to serve.
func (s *ChunkService) ChunkModel(ctx context.Context, id string) ([]byte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, &ValidationError{Field: "id", Reason: "not a valid chunk id"}
	}
	chunk, err := s.repo.GetChunkByID(id)
	if err != nil {
		return nil, &PersistenceError{Op: "get chunk", Err: err}
	}
	if chunk == nil {
		return nil, &NotFoundError{Resource: "chunk", Key: id}
	}
	data, err := s.blobs.Get(ctx, ModelObjectKey(chunk.Position))
	if err != nil {
		return nil, &UpstreamStorageError{Op: "get " + ModelObjectKey(chunk.Position), Err: err}
	}
	return data, nil
}
