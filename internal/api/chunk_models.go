package api

import "github.com/placedotfun/server/internal/world"

// SaveChunkRequest is the payload for POST /api/v1/chunks. Coordinates are
// pointers so that 0 is distinguishable from an absent field.
type SaveChunkRequest struct {
	X           *int   `json:"x" validate:"required"`
	Z           *int   `json:"z" validate:"required"`
	ModelData   string `json:"model_data" validate:"required,base64"`
	Vertices    int    `json:"vertices" validate:"gte=0"`
	Faces       int    `json:"faces" validate:"gte=0"`
	SourceImage string `json:"source_image"`
	GeneratedBy string `json:"generated_by"`
}

// ChunkListResponse wraps a set of chunk projections.
type ChunkListResponse struct {
	Chunks []*world.ChunkDTO `json:"chunks"`
	Count  int               `json:"count"`
}

// DeleteChunkResponse reports the outcome of a chunk deletion.
type DeleteChunkResponse struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}
