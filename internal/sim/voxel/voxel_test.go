package voxel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	seen := map[uint64]Cell{}
	for i := 0; i < 2000; i++ {
		c := Cell{X: r.Intn(2000) - 1000, Y: r.Intn(512) - 256, Z: r.Intn(2000) - 1000}
		k := Pack(c)
		require.Equal(t, c, Unpack(k))
		if prev, ok := seen[k]; ok {
			require.Equal(t, prev, c, "pack collision")
		}
		seen[k] = c
	}
}

func TestChunkStoreNegativeCoords(t *testing.T) {
	palette := []Block{Air, Solid}
	s := NewChunkStore(Bounds{Min: Cell{X: -40, Y: -8, Z: -40}, Max: Cell{X: 40, Y: 40, Z: 40}}, palette)

	c := Cell{X: -17, Y: -1, Z: 5}
	require.Equal(t, uint16(0), s.Get(c))
	s.Set(c, 1)
	require.Equal(t, uint16(1), s.Get(c))
	require.True(t, s.BlockAt(c).HasCollision())
	require.False(t, s.BlockAt(c.Up(1)).HasCollision())
}

func TestChunkStoreOutOfBoundsIsSolid(t *testing.T) {
	s := NewChunkStore(Bounds{Min: Cell{}, Max: Cell{X: 3, Y: 3, Z: 3}}, []Block{Air})
	require.True(t, s.BlockAt(Cell{X: 4}).HasCollision())
	require.False(t, s.BlockAt(Cell{X: 3}).HasCollision())
	s.Set(Cell{X: 9}, 1)
	require.Empty(t, s.LoadedChunkKeys())
}

func TestChunkStoreFillAndDigest(t *testing.T) {
	s := NewChunkStore(Bounds{Min: Cell{X: -20, Y: -20, Z: -20}, Max: Cell{X: 20, Y: 20, Z: 20}}, []Block{Air, Solid})
	before := s.Digest()
	s.Fill(Cell{X: 2, Y: 0, Z: 2}, Cell{X: -2, Y: 0, Z: -2}, 1)
	after := s.Digest()
	require.NotEqual(t, before, after)
	for x := -2; x <= 2; x++ {
		for z := -2; z <= 2; z++ {
			require.Equal(t, uint16(1), s.Get(Cell{X: x, Z: z}))
		}
	}
	require.True(t, s.Swap(Cell{}, 1, 0))
	require.False(t, s.Swap(Cell{}, 1, 0))
}

func TestDoorCollision(t *testing.T) {
	door := Block{MinY: 0, MaxY: 1, Door: true}
	require.True(t, door.HasCollision())
	door.DoorOpen = true
	require.False(t, door.HasCollision())
}
