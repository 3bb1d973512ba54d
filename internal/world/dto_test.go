package world

import (
	"testing"
	"time"
)

func TestToDTO(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	updated := created.Add(5 * time.Minute)
	northID := "11111111-1111-1111-1111-111111111111"

	chunk := &Chunk{
		ID:       "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		Position: ChunkPosition{X: 2, Z: -3},
		ModelURL: "https://blobs.test/chunks/chunk_2_-3.glb",
		Metadata: ChunkMetadata{
			Vertices:    1200,
			Faces:       600,
			CreatedAt:   created,
			UpdatedAt:   updated,
			SourceImage: "https://images.test/in.png",
			GeneratedBy: "mesh-pipeline",
		},
		Neighbors: ChunkNeighbors{North: &northID},
	}

	dto := ToDTO(chunk)

	if dto.ID != chunk.ID {
		t.Errorf("id = %s, expected %s", dto.ID, chunk.ID)
	}
	if dto.Position != chunk.Position {
		t.Errorf("position = %v, expected %v", dto.Position, chunk.Position)
	}

	// The direct blob URL never leaves the server; clients get the serving
	// path instead.
	wantURL := "/api/v1/chunks/" + chunk.ID + "/model"
	if dto.ModelURL != wantURL {
		t.Errorf("model URL = %s, expected %s", dto.ModelURL, wantURL)
	}

	if dto.Metadata.CreatedAt != "2025-06-01T12:00:00Z" {
		t.Errorf("created_at = %s, expected 2025-06-01T12:00:00Z", dto.Metadata.CreatedAt)
	}
	if dto.Metadata.UpdatedAt != "2025-06-01T12:05:00Z" {
		t.Errorf("updated_at = %s, expected 2025-06-01T12:05:00Z", dto.Metadata.UpdatedAt)
	}
	if dto.Metadata.Vertices != 1200 || dto.Metadata.Faces != 600 {
		t.Errorf("counts = %d/%d, expected 1200/600", dto.Metadata.Vertices, dto.Metadata.Faces)
	}

	if dto.Neighbors.North == nil || *dto.Neighbors.North != northID {
		t.Errorf("north neighbor = %v, expected %s", dto.Neighbors.North, northID)
	}
	if dto.Neighbors.South != nil {
		t.Errorf("south neighbor = %v, expected nil", dto.Neighbors.South)
	}
}

func TestToDTONonUTCTimestamps(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	chunk := &Chunk{
		ID: "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb",
		Metadata: ChunkMetadata{
			CreatedAt: time.Date(2025, 6, 1, 14, 0, 0, 0, loc),
			UpdatedAt: time.Date(2025, 6, 1, 14, 0, 0, 0, loc),
		},
	}

	dto := ToDTO(chunk)
	if dto.Metadata.CreatedAt != "2025-06-01T12:00:00Z" {
		t.Errorf("created_at = %s, expected normalization to UTC", dto.Metadata.CreatedAt)
	}
}

func TestToDTONil(t *testing.T) {
	if dto := ToDTO(nil); dto != nil {
		t.Errorf("ToDTO(nil) = %v, expected nil", dto)
	}
}

func TestToDTOs(t *testing.T) {
	chunks := []*Chunk{
		{ID: "id-a", Position: ChunkPosition{X: 0, Z: 0}},
		{ID: "id-b", Position: ChunkPosition{X: 1, Z: 0}},
	}

	dtos := ToDTOs(chunks)
	if len(dtos) != 2 {
		t.Fatalf("ToDTOs returned %d entries, expected 2", len(dtos))
	}
	if dtos[0].ID != "id-a" || dtos[1].ID != "id-b" {
		t.Errorf("order not preserved: %s, %s", dtos[0].ID, dtos[1].ID)
	}

	if empty := ToDTOs(nil); len(empty) != 0 {
		t.Errorf("ToDTOs(nil) returned %d entries, expected 0", len(empty))
	}
}

func TestModelPath(t *testing.T) {
	got := ModelPath("abc-123")
	if got != "/api/v1/chunks/abc-123/model" {
		t.Errorf("ModelPath = %s", got)
	}
}
