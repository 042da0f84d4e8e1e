package voxel

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"voxelpath.ai/internal/sim/mathx"
)

const ChunkSize = 16

type ChunkKey struct {
	CX int
	CY int
	CZ int
}

type Chunk struct {
	CX, CY, CZ int
	Blocks     []uint16 // len = 16*16*16

	dirty bool
	hash  [32]byte
}

func (c *Chunk) index(x, y, z int) int {
	// x fastest, then z, then y
	return x + z*ChunkSize + y*ChunkSize*ChunkSize
}

func (c *Chunk) Get(x, y, z int) uint16 {
	return c.Blocks[c.index(x, y, z)]
}

func (c *Chunk) Set(x, y, z int, b uint16) {
	i := c.index(x, y, z)
	if c.Blocks[i] == b {
		return
	}
	c.Blocks[i] = b
	c.dirty = true
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range c.Blocks {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

// Bounds is an inclusive cell box.
type Bounds struct {
	Min Cell
	Max Cell
}

func (b Bounds) Contains(c Cell) bool {
	return c.X >= b.Min.X && c.X <= b.Max.X &&
		c.Y >= b.Min.Y && c.Y <= b.Max.Y &&
		c.Z >= b.Min.Z && c.Z <= b.Max.Z
}

// ChunkStore is the in-memory voxel world. Palette id 0 must be air.
type ChunkStore struct {
	bounds  Bounds
	palette []Block
	// Accessed only from the simulation goroutine.
	chunks map[ChunkKey]*Chunk
}

func NewChunkStore(bounds Bounds, palette []Block) *ChunkStore {
	if len(palette) == 0 {
		palette = []Block{Air}
	}
	return &ChunkStore{
		bounds:  bounds,
		palette: palette,
		chunks:  map[ChunkKey]*Chunk{},
	}
}

func (s *ChunkStore) Bounds() Bounds { return s.bounds }

func (s *ChunkStore) InBounds(c Cell) bool { return s.bounds.Contains(c) }

// BlockAt reports the block at c; cells outside the world bounds are solid.
func (s *ChunkStore) BlockAt(c Cell) Block {
	if !s.bounds.Contains(c) {
		return Solid
	}
	id := s.Get(c)
	if int(id) >= len(s.palette) {
		return Solid
	}
	return s.palette[id]
}

func (s *ChunkStore) Get(c Cell) uint16 {
	if !s.bounds.Contains(c) {
		return 0
	}
	ch, ok := s.chunks[chunkKeyOf(c)]
	if !ok {
		return 0
	}
	return ch.Get(mathx.Mod(c.X, ChunkSize), mathx.Mod(c.Y, ChunkSize), mathx.Mod(c.Z, ChunkSize))
}

func (s *ChunkStore) Set(c Cell, id uint16) {
	if !s.bounds.Contains(c) {
		return
	}
	ch := s.getOrCreate(chunkKeyOf(c))
	ch.Set(mathx.Mod(c.X, ChunkSize), mathx.Mod(c.Y, ChunkSize), mathx.Mod(c.Z, ChunkSize), id)
}

// Fill sets every cell of the inclusive box spanned by a and b.
func (s *ChunkStore) Fill(a, b Cell, id uint16) {
	lo, hi := sortedCorners(a, b)
	for y := lo.Y; y <= hi.Y; y++ {
		for z := lo.Z; z <= hi.Z; z++ {
			for x := lo.X; x <= hi.X; x++ {
				s.Set(Cell{X: x, Y: y, Z: z}, id)
			}
		}
	}
}

// Swap replaces the palette id at c if it currently equals from. Used for doors.
func (s *ChunkStore) Swap(c Cell, from, to uint16) bool {
	if s.Get(c) != from {
		return false
	}
	s.Set(c, to)
	return true
}

func (s *ChunkStore) Palette() []Block {
	out := make([]Block, len(s.palette))
	copy(out, s.palette)
	return out
}

func (s *ChunkStore) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CY != keys[j].CY {
			return keys[i].CY < keys[j].CY
		}
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

// Digest hashes every loaded chunk in key order.
func (s *ChunkStore) Digest() string {
	h := sha256.New()
	var tmp [12]byte
	for _, k := range s.LoadedChunkKeys() {
		binary.LittleEndian.PutUint32(tmp[0:4], uint32(int32(k.CX)))
		binary.LittleEndian.PutUint32(tmp[4:8], uint32(int32(k.CY)))
		binary.LittleEndian.PutUint32(tmp[8:12], uint32(int32(k.CZ)))
		h.Write(tmp[:])
		d := s.chunks[k].Digest()
		h.Write(d[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *ChunkStore) getOrCreate(k ChunkKey) *Chunk {
	if ch, ok := s.chunks[k]; ok {
		return ch
	}
	ch := &Chunk{
		CX:     k.CX,
		CY:     k.CY,
		CZ:     k.CZ,
		Blocks: make([]uint16, ChunkSize*ChunkSize*ChunkSize),
		dirty:  true,
	}
	s.chunks[k] = ch
	return ch
}

func chunkKeyOf(c Cell) ChunkKey {
	return ChunkKey{
		CX: mathx.FloorDiv(c.X, ChunkSize),
		CY: mathx.FloorDiv(c.Y, ChunkSize),
		CZ: mathx.FloorDiv(c.Z, ChunkSize),
	}
}

func sortedCorners(a, b Cell) (Cell, Cell) {
	lo := Cell{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)}
	hi := Cell{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)}
	return lo, hi
}
