package world

import "time"

// ModelPath returns the serving-layer indirection for a chunk's mesh bytes.
// Clients fetch models through this path rather than the raw blob URL so the
// serving layer can apply caching headers and avoid cross-origin issues.
func ModelPath(id string) string {
	return "/api/v1/chunks/" + id + "/model"
}

// ChunkMetadataDTO is ChunkMetadata with wire-safe timestamp strings.
type ChunkMetadataDTO struct {
	Vertices    int    `json:"vertices"`
	Faces       int    `json:"faces"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	SourceImage string `json:"source_image,omitempty"`
	GeneratedBy string `json:"generated_by,omitempty"`
}

// ChunkDTO is the externally-exposed projection of a Chunk: the direct blob
// URL is replaced with the serving path, timestamps become RFC 3339 strings,
// and position, metadata, and neighbors pass through unchanged.
type ChunkDTO struct {
	ID        string           `json:"id"`
	Position  ChunkPosition    `json:"position"`
	ModelURL  string           `json:"model_url"`
	Metadata  ChunkMetadataDTO `json:"metadata"`
	Neighbors ChunkNeighbors   `json:"neighbors"`
}

// ToDTO projects a stored chunk into its external form.
func ToDTO(c *Chunk) *ChunkDTO {
	if c == nil {
		return nil
	}
	return &ChunkDTO{
		ID:       c.ID,
		Position: c.Position,
		ModelURL: ModelPath(c.ID),
		Metadata: ChunkMetadataDTO{
			Vertices:    c.Metadata.Vertices,
			Faces:       c.Metadata.Faces,
			CreatedAt:   c.Metadata.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:   c.Metadata.UpdatedAt.UTC().Format(time.RFC3339),
			SourceImage: c.Metadata.SourceImage,
			GeneratedBy: c.Metadata.GeneratedBy,
		},
		Neighbors: c.Neighbors,
	}
}

// ToDTOs projects a slice of chunks, preserving order.
func ToDTOs(chunks []*Chunk) []*ChunkDTO {
	out := make([]*ChunkDTO, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, ToDTO(c))
	}
	return out
}
