package world

import (
	"fmt"
	"strconv"
	"time"
)

// ModelContentType is the MIME type for stored mesh payloads.
const ModelContentType = "model/gltf-binary"

// Direction identifies one of the four cardinal neighbor slots of a chunk.
type Direction string

const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
)

// Directions lists the cardinal directions in a stable order.
var Directions = [4]Direction{North, South, East, West}

// ChunkPosition identifies one cell in the unbounded 2D world lattice.
// Two positions are equal iff both coordinates match.
type ChunkPosition struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// Key returns the canonical string form of a position, e.g. "3_-2".
// Used for blob keys, stream window bookkeeping, and log messages.
func (p ChunkPosition) Key() string {
	return strconv.Itoa(p.X) + "_" + strconv.Itoa(p.Z)
}

// Neighbor returns the position one step away in the given direction.
// North is +Z, south is -Z, east is +X, west is -X.
func (p ChunkPosition) Neighbor(dir Direction) ChunkPosition {
	switch dir {
	case North:
		return ChunkPosition{X: p.X, Z: p.Z + 1}
	case South:
		return ChunkPosition{X: p.X, Z: p.Z - 1}
	case East:
		return ChunkPosition{X: p.X + 1, Z: p.Z}
	case West:
		return ChunkPosition{X: p.X - 1, Z: p.Z}
	}
	return p
}

// ModelObjectKey returns the deterministic blob-store key for a position's
// mesh payload. Re-saving a position overwrites the same object.
func ModelObjectKey(p ChunkPosition) string {
	return fmt.Sprintf("chunks/chunk_%d_%d.glb", p.X, p.Z)
}

// ChunkMetadata describes the stored mesh. It never affects identity or
// adjacency. CreatedAt is set once at first insertion; UpdatedAt is refreshed
// on every write.
type ChunkMetadata struct {
	Vertices    int       `json:"vertices"`
	Faces       int       `json:"faces"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	SourceImage string    `json:"source_image,omitempty"`
	GeneratedBy string    `json:"generated_by,omitempty"`
}

// ChunkNeighbors caches the ids of the chunks at the four cardinal-adjacent
// positions. A nil entry means the cell is vacant (or the link has not been
// recorded yet). The cache is derived data: the source of truth for adjacency
// is always the position index.
type ChunkNeighbors struct {
	North *string `json:"north"`
	South *string `json:"south"`
	East  *string `json:"east"`
	West  *string `json:"west"`
}

// Get returns the cached neighbor id for a direction.
func (n *ChunkNeighbors) Get(dir Direction) *string {
	switch dir {
	case North:
		return n.North
	case South:
		return n.South
	case East:
		return n.East
	case West:
		return n.West
	}
	return nil
}

// Set records the neighbor id for a direction.
func (n *ChunkNeighbors) Set(dir Direction, id *string) {
	switch dir {
	case North:
		n.North = id
	case South:
		n.South = id
	case East:
		n.East = id
	case West:
		n.West = id
	}
}

// Chunk is one persisted grid cell: the mesh reference, its metadata, and the
// adjacency cache. The id is assigned at creation and never changes; the
// position is immutable after creation.
type Chunk struct {
	ID        string         `json:"id"`
	Position  ChunkPosition  `json:"position"`
	ModelURL  string         `json:"model_url"`
	Metadata  ChunkMetadata  `json:"metadata"`
	Neighbors ChunkNeighbors `json:"neighbors"`
}

// WorldStats aggregates the whole store for monitoring.
type WorldStats struct {
	TotalChunks   int64 `json:"total_chunks"`
	TotalVertices int64 `json:"total_vertices"`
	TotalFaces    int64 `json:"total_faces"`
}
