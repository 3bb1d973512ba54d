package database

import (
	"database/sql"
	"fmt"

	"github.com/placedotfun/server/internal/world"
)

// chunkColumns is the canonical column list for scanning a full chunk row.
const chunkColumns = `id, x, z, model_url, vertices, faces, source_image, generated_by,
	neighbor_north, neighbor_south, neighbor_east, neighbor_west, created_at, updated_at`

// ChunkStore handles chunk persistence in Postgres. The UNIQUE(x, z)
// constraint is the source of truth for chunk identity; the neighbor
// columns are a derived adjacency cache maintained by LinkNeighbors.
type ChunkStore struct {
	db          *sql.DB
	linkLocking bool
}

// NewChunkStore creates a new chunk store. When linkLocking is true, each
// linking pass takes transaction-scoped advisory locks on the chunk's own
// position and its four neighbor positions, so concurrent passes over
// adjacent chunks serialize instead of interleaving.
func NewChunkStore(db *sql.DB, linkLocking bool) *ChunkStore {
	return &ChunkStore{db: db, linkLocking: linkLocking}
}

// UpsertChunk inserts the chunk, or updates the existing row at the same
// (x, z) position. On update the stored id and created_at are preserved and
// only the model fields change; the returned chunk always reflects the row
// as stored, including neighbor links written by earlier passes. The second
// return value reports whether a new row was created.
func (s *ChunkStore) UpsertChunk(c *world.Chunk) (*world.Chunk, bool, error) {
	// xmax = 0 holds only for rows created by this statement, which is how
	// we tell an insert from a conflict update.
	query := `
		INSERT INTO chunks (id, x, z, model_url, vertices, faces, source_image, generated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (x, z)
		DO UPDATE SET
			model_url = EXCLUDED.model_url,
			vertices = EXCLUDED.vertices,
			faces = EXCLUDED.faces,
			source_image = EXCLUDED.source_image,
			generated_by = EXCLUDED.generated_by,
			updated_at = CURRENT_TIMESTAMP
		RETURNING ` + chunkColumns + `, (xmax = 0) AS inserted`

	var (
		stored      world.Chunk
		inserted    bool
		src, gen    sql.NullString
		n, so, e, w sql.NullString
	)
	err := s.db.QueryRow(query,
		c.ID, c.Position.X, c.Position.Z, c.ModelURL,
		c.Metadata.Vertices, c.Metadata.Faces,
		nullString(c.Metadata.SourceImage), nullString(c.Metadata.GeneratedBy),
	).Scan(
		&stored.ID, &stored.Position.X, &stored.Position.Z, &stored.ModelURL,
		&stored.Metadata.Vertices, &stored.Metadata.Faces, &src, &gen,
		&n, &so, &e, &w,
		&stored.Metadata.CreatedAt, &stored.Metadata.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert chunk at %s: %w", c.Position.Key(), err)
	}

	stored.Metadata.SourceImage = src.String
	stored.Metadata.GeneratedBy = gen.String
	stored.Neighbors = nullNeighbors(n, so, e, w)
	return &stored, inserted, nil
}

// GetChunk retrieves the chunk at the given position. Returns nil when no
// chunk exists there.
func (s *ChunkStore) GetChunk(pos world.ChunkPosition) (*world.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE x = $1 AND z = $2`
	c, err := scanChunk(s.db.QueryRow(query, pos.X, pos.Z))
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk at %s: %w", pos.Key(), err)
	}
	return c, nil
}

// GetChunkByID retrieves the chunk with the given id. Returns nil when no
// chunk has that id.
func (s *ChunkStore) GetChunkByID(id string) (*world.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE id = $1`
	c, err := scanChunk(s.db.QueryRow(query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk %s: %w", id, err)
	}
	return c, nil
}

// DeleteChunk removes the chunk with the given id and reports whether a row
// was deleted. Neighbor references held by adjacent chunks are cleared by
// the ON DELETE SET NULL foreign keys, so no linking pass runs here.
func (s *ChunkStore) DeleteChunk(id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM chunks WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete chunk %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete chunk %s: %w", id, err)
	}
	return rows > 0, nil
}

// LinkNeighbors connects the chunk with the given id to every chunk stored
// at one of the four adjacent positions, writing both directions of each
// link inside a single transaction. It returns the number of neighbors
// found and linked.
//
// Linking runs after the chunk's own row is committed. A concurrent insert
// at an adjacent position therefore either commits before this lookup and
// is seen here, or looks up after this chunk committed and sees it there;
// either way one of the two passes writes both sides of the shared link.
func (s *ChunkStore) LinkNeighbors(id string, pos world.ChunkPosition) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin linking transaction: %w", err)
	}
	defer tx.Rollback()

	if s.linkLocking {
		// Keys are sorted, so concurrent passes acquire them in the same
		// order and cannot deadlock.
		for _, key := range world.LockKeys(pos) {
			if _, err := tx.Exec(`SELECT pg_advisory_xact_lock($1)`, key); err != nil {
				return 0, fmt.Errorf("failed to lock positions around %s: %w", pos.Key(), err)
			}
		}
	}

	adjacent := world.AdjacentPositions(pos)
	query := `
		SELECT id, x, z FROM chunks
		WHERE (x = $1 AND z = $2) OR (x = $3 AND z = $4)
		   OR (x = $5 AND z = $6) OR (x = $7 AND z = $8)`
	rows, err := tx.Query(query,
		adjacent[0].Pos.X, adjacent[0].Pos.Z,
		adjacent[1].Pos.X, adjacent[1].Pos.Z,
		adjacent[2].Pos.X, adjacent[2].Pos.Z,
		adjacent[3].Pos.X, adjacent[3].Pos.Z,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to look up neighbors of %s: %w", pos.Key(), err)
	}

	type neighbor struct {
		id  string
		dir world.Direction
	}
	var neighbors []neighbor
	for rows.Next() {
		var (
			nid  string
			npos world.ChunkPosition
		)
		if err := rows.Scan(&nid, &npos.X, &npos.Z); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan neighbor of %s: %w", pos.Key(), err)
		}
		for _, adj := range adjacent {
			if adj.Pos == npos {
				neighbors = append(neighbors, neighbor{id: nid, dir: adj.Dir})
				break
			}
		}
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("failed to look up neighbors of %s: %w", pos.Key(), err)
	}

	for _, nb := range neighbors {
		own := fmt.Sprintf(`UPDATE chunks SET %s = $1 WHERE id = $2`, neighborColumn(nb.dir))
		if _, err := tx.Exec(own, nb.id, id); err != nil {
			return 0, fmt.Errorf("failed to link %s neighbor of %s: %w", nb.dir, pos.Key(), err)
		}
		reciprocal := fmt.Sprintf(`UPDATE chunks SET %s = $1 WHERE id = $2`, neighborColumn(world.Opposite(nb.dir)))
		if _, err := tx.Exec(reciprocal, id, nb.id); err != nil {
			return 0, fmt.Errorf("failed to backlink %s neighbor of %s: %w", nb.dir, pos.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit linking for %s: %w", pos.Key(), err)
	}

	return len(neighbors), nil
}

// ChunksInRadius returns every chunk whose position lies within the square
// window of the given radius centered on the given position, boundary
// included. Radius zero returns at most the center chunk.
func (s *ChunkStore) ChunksInRadius(center world.ChunkPosition, radius int) ([]*world.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks
		WHERE x BETWEEN $1 AND $2 AND z BETWEEN $3 AND $4
		ORDER BY x, z`
	rows, err := s.db.Query(query, center.X-radius, center.X+radius, center.Z-radius, center.Z+radius)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks around %s: %w", center.Key(), err)
	}
	return collectChunks(rows)
}

// RecentChunks returns up to limit chunks, newest first.
func (s *ChunkStore) RecentChunks(limit int) ([]*world.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks ORDER BY created_at DESC LIMIT $1`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent chunks: %w", err)
	}
	return collectChunks(rows)
}

// ChunkStats returns aggregate totals across all stored chunks.
func (s *ChunkStore) ChunkStats() (*world.WorldStats, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(vertices), 0), COALESCE(SUM(faces), 0) FROM chunks`
	var stats world.WorldStats
	if err := s.db.QueryRow(query).Scan(&stats.TotalChunks, &stats.TotalVertices, &stats.TotalFaces); err != nil {
		return nil, fmt.Errorf("failed to query chunk stats: %w", err)
	}
	return &stats, nil
}

// RelinkAll replays the linking pass over every stored chunk, oldest first.
// It repairs adjacency gaps left by linking failures or by imports that
// bypassed the save path. Returns the number of chunks visited, the number
// of neighbor links written, and the number of chunks whose pass failed.
func (s *ChunkStore) RelinkAll() (visited, linked, failed int, err error) {
	rows, err := s.db.Query(`SELECT id, x, z FROM chunks ORDER BY created_at ASC`)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to list chunks for relink: %w", err)
	}

	type entry struct {
		id  string
		pos world.ChunkPosition
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.pos.X, &e.pos.Z); err != nil {
			rows.Close()
			return 0, 0, 0, fmt.Errorf("failed to scan chunk for relink: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Close(); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to list chunks for relink: %w", err)
	}

	for _, e := range entries {
		visited++
		n, linkErr := s.LinkNeighbors(e.id, e.pos)
		if linkErr != nil {
			failed++
			continue
		}
		linked += n
	}
	return visited, linked, failed, nil
}

// DeleteAllChunks removes every chunk and returns the number deleted.
func (s *ChunkStore) DeleteAllChunks() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM chunks`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete all chunks: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete all chunks: %w", err)
	}
	return rows, nil
}

// neighborColumn maps a direction to its chunks table column. The columns
// are fixed by the schema, so an unknown direction is a programming error.
func neighborColumn(dir world.Direction) string {
	switch dir {
	case world.North:
		return "neighbor_north"
	case world.South:
		return "neighbor_south"
	case world.East:
		return "neighbor_east"
	case world.West:
		return "neighbor_west"
	}
	panic(fmt.Sprintf("unknown direction %q", dir))
}

// scanChunk reads one full chunk row. Returns nil without error when the
// row does not exist.
func scanChunk(row *sql.Row) (*world.Chunk, error) {
	var (
		c           world.Chunk
		src, gen    sql.NullString
		n, so, e, w sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.Position.X, &c.Position.Z, &c.ModelURL,
		&c.Metadata.Vertices, &c.Metadata.Faces, &src, &gen,
		&n, &so, &e, &w,
		&c.Metadata.CreatedAt, &c.Metadata.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Metadata.SourceImage = src.String
	c.Metadata.GeneratedBy = gen.String
	c.Neighbors = nullNeighbors(n, so, e, w)
	return &c, nil
}

// collectChunks drains a multi-row chunk query.
func collectChunks(rows *sql.Rows) ([]*world.Chunk, error) {
	defer rows.Close()

	chunks := []*world.Chunk{}
	for rows.Next() {
		var (
			c           world.Chunk
			src, gen    sql.NullString
			n, so, e, w sql.NullString
		)
		err := rows.Scan(
			&c.ID, &c.Position.X, &c.Position.Z, &c.ModelURL,
			&c.Metadata.Vertices, &c.Metadata.Faces, &src, &gen,
			&n, &so, &e, &w,
			&c.Metadata.CreatedAt, &c.Metadata.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		c.Metadata.SourceImage = src.String
		c.Metadata.GeneratedBy = gen.String
		c.Neighbors = nullNeighbors(n, so, e, w)
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunk rows: %w", err)
	}
	return chunks, nil
}

// nullNeighbors converts scanned neighbor columns into the adjacency cache.
func nullNeighbors(north, south, east, west sql.NullString) world.ChunkNeighbors {
	toPtr := func(v sql.NullString) *string {
		if !v.Valid {
			return nil
		}
		s := v.String
		return &s
	}
	return world.ChunkNeighbors{
		North: toPtr(north),
		South: toPtr(south),
		East:  toPtr(east),
		West:  toPtr(west),
	}
}

// nullString wraps an optional text column value, storing NULL for the
// empty string.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
