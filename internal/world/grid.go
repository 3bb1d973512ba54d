package world

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Adjacent pairs a cardinal direction with the position it points at.
type Adjacent struct {
	Dir Direction
	Pos ChunkPosition
}

// AdjacentPositions returns the four cardinal-adjacent positions around p in
// the stable Directions order.
func AdjacentPositions(p ChunkPosition) [4]Adjacent {
	var out [4]Adjacent
	for i, dir := range Directions {
		out[i] = Adjacent{Dir: dir, Pos: p.Neighbor(dir)}
	}
	return out
}

// Opposite returns the reciprocal direction: if B lies to A's north, A lies
// to B's south.
func Opposite(dir Direction) Direction {
	switch dir {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	case West:
		return East
	}
	return dir
}

// ParsePositionKey parses the canonical "x_z" form produced by
// ChunkPosition.Key.
func ParsePositionKey(key string) (ChunkPosition, error) {
	parts := strings.Split(key, "_")
	if len(parts) != 2 {
		return ChunkPosition{}, fmt.Errorf("invalid position key format: %s", key)
	}
	x, err := strconv.Atoi(parts[0])
	if err != nil {
		return ChunkPosition{}, fmt.Errorf("invalid x in position key %s: %w", key, err)
	}
	z, err := strconv.Atoi(parts[1])
	if err != nil {
		return ChunkPosition{}, fmt.Errorf("invalid z in position key %s: %w", key, err)
	}
	return ChunkPosition{X: x, Z: z}, nil
}

// WindowContains reports whether pos lies in the axis-aligned square of
// half-width radius centered on center, bounds inclusive on both axes.
func WindowContains(center ChunkPosition, radius int, pos ChunkPosition) bool {
	if radius < 0 {
		return false
	}
	return pos.X >= center.X-radius && pos.X <= center.X+radius &&
		pos.Z >= center.Z-radius && pos.Z <= center.Z+radius
}

// WindowPositions enumerates every cell of the inclusive square window around
// center. The result has (2*radius+1)^2 entries.
func WindowPositions(center ChunkPosition, radius int) []ChunkPosition {
	if radius < 0 {
		return nil
	}
	out := make([]ChunkPosition, 0, (2*radius+1)*(2*radius+1))
	for x := center.X - radius; x <= center.X+radius; x++ {
		for z := center.Z - radius; z <= center.Z+radius; z++ {
			out = append(out, ChunkPosition{X: x, Z: z})
		}
	}
	return out
}

// PositionLockKey maps a position to a 64-bit advisory lock key. The packing
// is collision-free for coordinates that fit in 32 bits, which covers any
// world a viewer can reach.
func PositionLockKey(p ChunkPosition) int64 {
	return int64(uint64(uint32(p.X))<<32 | uint64(uint32(p.Z)))
}

// LockKeys returns the advisory lock keys for p and its four cardinal
// neighbors in ascending order. Taking the keys in sorted order keeps
// concurrent linking passes over overlapping coordinate sets deadlock-free.
func LockKeys(p ChunkPosition) []int64 {
	keys := make([]int64, 0, 5)
	keys = append(keys, PositionLockKey(p))
	for _, dir := range Directions {
		keys = append(keys, PositionLockKey(p.Neighbor(dir)))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
