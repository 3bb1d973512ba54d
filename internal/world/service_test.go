package world_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/placedotfun/server/internal/testutil"
	"github.com/placedotfun/server/internal/world"
)

func newTestService() (*world.ChunkService, *testutil.MemoryChunkRepository, *testutil.MemoryBlobStore) {
	repo := testutil.NewMemoryChunkRepository()
	blobs := testutil.NewMemoryBlobStore()
	return world.NewChunkService(repo, blobs), repo, blobs
}

func saveAt(t *testing.T, service *world.ChunkService, x, z int) *world.Chunk {
	t.Helper()
	chunk, _, err := service.SaveChunk(context.Background(), world.SaveChunkInput{
		Position:  world.ChunkPosition{X: x, Z: z},
		ModelData: testutil.ModelPayload(64),
		Vertices:  100,
		Faces:     50,
	})
	if err != nil {
		t.Fatalf("SaveChunk(%d, %d) failed: %v", x, z, err)
	}
	return chunk
}

func TestSaveChunkCreatesRecord(t *testing.T) {
	service, repo, blobs := newTestService()

	pos := world.ChunkPosition{X: 3, Z: -2}
	chunk, created, err := service.SaveChunk(context.Background(), world.SaveChunkInput{
		Position:    pos,
		ModelData:   testutil.ModelPayload(128),
		Vertices:    420,
		Faces:       210,
		SourceImage: "https://images.test/source.png",
		GeneratedBy: "mesh-pipeline",
	})
	if err != nil {
		t.Fatalf("SaveChunk failed: %v", err)
	}
	if !created {
		t.Error("created = false, expected true for a fresh position")
	}
	if chunk.ID == "" {
		t.Error("chunk ID is empty")
	}
	if chunk.Position != pos {
		t.Errorf("position = %v, expected %v", chunk.Position, pos)
	}

	wantURL := blobs.BaseURL + "/" + world.ModelObjectKey(pos)
	if chunk.ModelURL != wantURL {
		t.Errorf("model URL = %s, expected %s", chunk.ModelURL, wantURL)
	}
	if !blobs.Has(world.ModelObjectKey(pos)) {
		t.Error("model payload missing from blob store")
	}

	if chunk.Metadata.Vertices != 420 || chunk.Metadata.Faces != 210 {
		t.Errorf("metadata counts = %d/%d, expected 420/210", chunk.Metadata.Vertices, chunk.Metadata.Faces)
	}
	if chunk.Metadata.SourceImage != "https://images.test/source.png" {
		t.Errorf("source image = %s", chunk.Metadata.SourceImage)
	}
	if chunk.Metadata.CreatedAt.IsZero() || chunk.Metadata.UpdatedAt.IsZero() {
		t.Error("timestamps not set on insert")
	}
	if repo.Len() != 1 {
		t.Errorf("repo holds %d chunks, expected 1", repo.Len())
	}
}

func TestSaveChunkUpsertSamePosition(t *testing.T) {
	service, _, blobs := newTestService()

	pos := world.ChunkPosition{X: 0, Z: 0}
	first, created, err := service.SaveChunk(context.Background(), world.SaveChunkInput{
		Position:  pos,
		ModelData: testutil.ModelPayload(64),
		Vertices:  100,
		Faces:     50,
	})
	if err != nil {
		t.Fatalf("first SaveChunk failed: %v", err)
	}
	if !created {
		t.Fatal("first save: created = false, expected true")
	}

	second, created, err := service.SaveChunk(context.Background(), world.SaveChunkInput{
		Position:  pos,
		ModelData: testutil.ModelPayload(96),
		Vertices:  200,
		Faces:     80,
	})
	if err != nil {
		t.Fatalf("second SaveChunk failed: %v", err)
	}
	if created {
		t.Error("second save: created = true, expected false for an occupied position")
	}
	if second.ID != first.ID {
		t.Errorf("re-save changed chunk id: %s → %s", first.ID, second.ID)
	}
	if !second.Metadata.CreatedAt.Equal(first.Metadata.CreatedAt) {
		t.Errorf("re-save changed created_at: %v → %v", first.Metadata.CreatedAt, second.Metadata.CreatedAt)
	}
	if !second.Metadata.UpdatedAt.After(first.Metadata.UpdatedAt) {
		t.Errorf("updated_at not advanced: %v → %v", first.Metadata.UpdatedAt, second.Metadata.UpdatedAt)
	}
	if second.Metadata.Vertices != 200 || second.Metadata.Faces != 80 {
		t.Errorf("metadata counts = %d/%d, expected 200/80", second.Metadata.Vertices, second.Metadata.Faces)
	}
	if blobs.Puts != 2 {
		t.Errorf("blob store saw %d puts, expected 2", blobs.Puts)
	}
}

func TestSaveChunkLinksNeighbors(t *testing.T) {
	service, _, _ := newTestService()

	center := saveAt(t, service, 0, 0)
	north := saveAt(t, service, 0, 1)
	east := saveAt(t, service, 1, 0)

	got, err := service.GetChunk(world.ChunkPosition{X: 0, Z: 0})
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if got.Neighbors.North == nil || *got.Neighbors.North != north.ID {
		t.Errorf("center north ref = %v, expected %s", got.Neighbors.North, north.ID)
	}
	if got.Neighbors.East == nil || *got.Neighbors.East != east.ID {
		t.Errorf("center east ref = %v, expected %s", got.Neighbors.East, east.ID)
	}
	if got.Neighbors.South != nil || got.Neighbors.West != nil {
		t.Errorf("center has refs to vacant cells: south=%v west=%v", got.Neighbors.South, got.Neighbors.West)
	}

	// Links are reciprocal.
	if north.Neighbors.South == nil || *north.Neighbors.South != center.ID {
		t.Errorf("north chunk south ref = %v, expected %s", north.Neighbors.South, center.ID)
	}
	if east.Neighbors.West == nil || *east.Neighbors.West != center.ID {
		t.Errorf("east chunk west ref = %v, expected %s", east.Neighbors.West, center.ID)
	}

	// (0,1) and (1,0) are diagonal, never linked.
	if north.Neighbors.East != nil || east.Neighbors.North != nil {
		t.Error("diagonal chunks were linked")
	}
}

func TestSaveChunkUpdateDoesNotRelink(t *testing.T) {
	service, repo, _ := newTestService()

	saveAt(t, service, 0, 0)
	if repo.LinkCalls != 1 {
		t.Fatalf("link calls after insert = %d, expected 1", repo.LinkCalls)
	}

	saveAt(t, service, 0, 0)
	if repo.LinkCalls != 1 {
		t.Errorf("link calls after update = %d, expected 1 (updates must not relink)", repo.LinkCalls)
	}
}

func TestSaveChunkValidation(t *testing.T) {
	service, repo, _ := newTestService()

	testCases := []struct {
		name  string
		input world.SaveChunkInput
	}{
		{"empty model", world.SaveChunkInput{Position: world.ChunkPosition{X: 0, Z: 0}}},
		{"negative vertices", world.SaveChunkInput{
			Position:  world.ChunkPosition{X: 0, Z: 0},
			ModelData: testutil.ModelPayload(16),
			Vertices:  -1,
		}},
		{"negative faces", world.SaveChunkInput{
			Position:  world.ChunkPosition{X: 0, Z: 0},
			ModelData: testutil.ModelPayload(16),
			Faces:     -1,
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := service.SaveChunk(context.Background(), tc.input)
			var verr *world.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("error = %v, expected *ValidationError", err)
			}
		})
	}

	if repo.Len() != 0 {
		t.Errorf("repo holds %d chunks after rejected saves, expected 0", repo.Len())
	}
}

func TestSaveChunkBlobFailure(t *testing.T) {
	service, repo, blobs := newTestService()
	blobs.FailPut = fmt.Errorf("connection refused")

	_, _, err := service.SaveChunk(context.Background(), world.SaveChunkInput{
		Position:  world.ChunkPosition{X: 0, Z: 0},
		ModelData: testutil.ModelPayload(64),
	})

	var serr *world.UpstreamStorageError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, expected *UpstreamStorageError", err)
	}
	if repo.Len() != 0 {
		t.Errorf("repo holds %d chunks after blob failure, expected 0 (no partial state)", repo.Len())
	}
}

func TestSaveChunkLinkFailureStillSucceeds(t *testing.T) {
	service, repo, _ := newTestService()
	repo.FailLink = fmt.Errorf("deadlock detected")

	chunk, created, err := service.SaveChunk(context.Background(), world.SaveChunkInput{
		Position:  world.ChunkPosition{X: 0, Z: 0},
		ModelData: testutil.ModelPayload(64),
	})
	if err != nil {
		t.Fatalf("SaveChunk failed on link error: %v (record is durable, save must succeed)", err)
	}
	if !created {
		t.Error("created = false, expected true")
	}

	got, err := service.GetChunkByID(chunk.ID)
	if err != nil || got == nil {
		t.Fatalf("chunk not persisted after link failure: chunk=%v err=%v", got, err)
	}
}

func TestGetChunkAbsent(t *testing.T) {
	service, _, _ := newTestService()

	chunk, err := service.GetChunk(world.ChunkPosition{X: 99, Z: 99})
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if chunk != nil {
		t.Errorf("chunk = %v, expected nil for vacant position", chunk)
	}
}

func TestGetChunkByIDInvalid(t *testing.T) {
	service, _, _ := newTestService()

	_, err := service.GetChunkByID("not-a-uuid")
	var verr *world.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("error = %v, expected *ValidationError", err)
	}
}

func TestDeleteChunkClearsNeighborRefs(t *testing.T) {
	service, _, _ := newTestService()

	saveAt(t, service, 0, 0)
	north := saveAt(t, service, 0, 1)

	deleted, err := service.DeleteChunk(north.ID)
	if err != nil {
		t.Fatalf("DeleteChunk failed: %v", err)
	}
	if !deleted {
		t.Fatal("deleted = false, expected true")
	}

	center, err := service.GetChunk(world.ChunkPosition{X: 0, Z: 0})
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if center.Neighbors.North != nil {
		t.Errorf("center still references deleted chunk: %v", *center.Neighbors.North)
	}

	// Deleting again reports no record removed.
	deleted, err = service.DeleteChunk(north.ID)
	if err != nil {
		t.Fatalf("second DeleteChunk failed: %v", err)
	}
	if deleted {
		t.Error("second delete reported deleted = true")
	}
}

func TestChunksInRadius(t *testing.T) {
	service, _, _ := newTestService()

	saveAt(t, service, 0, 0)
	saveAt(t, service, 1, 1)
	saveAt(t, service, -1, -1)
	saveAt(t, service, 2, 0) // outside radius 1

	chunks, err := service.ChunksInRadius(world.ChunkPosition{X: 0, Z: 0}, 1)
	if err != nil {
		t.Fatalf("ChunksInRadius failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Errorf("ChunksInRadius returned %d chunks, expected 3", len(chunks))
	}
	for _, chunk := range chunks {
		if !world.WindowContains(world.ChunkPosition{X: 0, Z: 0}, 1, chunk.Position) {
			t.Errorf("chunk at %v outside the queried window", chunk.Position)
		}
	}

	_, err = service.ChunksInRadius(world.ChunkPosition{}, -1)
	var verr *world.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("negative radius error = %v, expected *ValidationError", err)
	}
}

func TestAllChunksRecentFirst(t *testing.T) {
	service, _, _ := newTestService()

	saveAt(t, service, 0, 0)
	saveAt(t, service, 1, 0)
	newest := saveAt(t, service, 2, 0)

	chunks, err := service.AllChunks(2)
	if err != nil {
		t.Fatalf("AllChunks failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("AllChunks(2) returned %d chunks, expected 2", len(chunks))
	}
	if chunks[0].ID != newest.ID {
		t.Errorf("first chunk = %s, expected most recent %s", chunks[0].ID, newest.ID)
	}

	// Non-positive limits fall back to the default.
	all, err := service.AllChunks(0)
	if err != nil {
		t.Fatalf("AllChunks(0) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("AllChunks(0) returned %d chunks, expected 3", len(all))
	}
}

func TestChunkStats(t *testing.T) {
	service, _, _ := newTestService()

	for i := 0; i < 3; i++ {
		saveAt(t, service, i, 0)
	}

	stats, err := service.ChunkStats()
	if err != nil {
		t.Fatalf("ChunkStats failed: %v", err)
	}
	if stats.TotalChunks != 3 {
		t.Errorf("total chunks = %d, expected 3", stats.TotalChunks)
	}
	if stats.TotalVertices != 300 || stats.TotalFaces != 150 {
		t.Errorf("totals = %d vertices / %d faces, expected 300/150", stats.TotalVertices, stats.TotalFaces)
	}
}

func TestChunkModel(t *testing.T) {
	service, _, _ := newTestService()

	payload := testutil.ModelPayload(256)
	chunk, _, err := service.SaveChunk(context.Background(), world.SaveChunkInput{
		Position:  world.ChunkPosition{X: 4, Z: 4},
		ModelData: payload,
	})
	if err != nil {
		t.Fatalf("SaveChunk failed: %v", err)
	}

	data, err := service.ChunkModel(context.Background(), chunk.ID)
	if err != nil {
		t.Fatalf("ChunkModel failed: %v", err)
	}
	if len(data) != len(payload) {
		t.Fatalf("model payload = %d bytes, expected %d", len(data), len(payload))
	}
	for i := range data {
		if data[i] != payload[i] {
			t.Fatalf("model payload differs at byte %d", i)
		}
	}
}

func TestChunkModelNotFound(t *testing.T) {
	service, _, _ := newTestService()

	_, err := service.ChunkModel(context.Background(), "0191d8a1-0000-7000-8000-000000000000")
	var nerr *world.NotFoundError
	if !errors.As(err, &nerr) {
		t.Errorf("error = %v, expected *NotFoundError", err)
	}

	_, err = service.ChunkModel(context.Background(), "garbage")
	var verr *world.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("error = %v, expected *ValidationError for malformed id", err)
	}
}

func TestChunkModelBlobFailure(t *testing.T) {
	service, _, blobs := newTestService()

	chunk := saveAt(t, service, 7, 7)
	blobs.FailGet = fmt.Errorf("read timeout")

	_, err := service.ChunkModel(context.Background(), chunk.ID)
	var serr *world.UpstreamStorageError
	if !errors.As(err, &serr) {
		t.Errorf("error = %v, expected *UpstreamStorageError", err)
	}
}
