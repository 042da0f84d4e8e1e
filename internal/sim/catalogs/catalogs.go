package catalogs

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelpath.ai/internal/sim/voxel"
)

//go:embed defaults/blocks.json defaults/blocks.schema.json
var defaults embed.FS

const schemaURL = "mem://blocks.schema.json"

type BlockCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]BlockDef
	PaletteDigest string
	DefsDigest    string
}

type BlockDef struct {
	ID        string     `json:"id"`
	Collision []float64  `json:"collision,omitempty"` // [min_y, max_y]
	Fluid     string     `json:"fluid,omitempty"`
	Climbable bool       `json:"climbable,omitempty"`
	Door      *DoorState `json:"door,omitempty"`
}

type DoorState struct {
	Open   bool   `json:"open"`
	Toggle string `json:"toggle"`
}

// Block converts the definition to the per-cell state the pathing stack reads.
func (d BlockDef) Block() voxel.Block {
	var b voxel.Block
	if len(d.Collision) == 2 {
		b.MinY, b.MaxY = d.Collision[0], d.Collision[1]
	}
	switch d.Fluid {
	case "water":
		b.Fluid = voxel.FluidWater
	case "lava":
		b.Fluid = voxel.FluidLava
	}
	b.Climbable = d.Climbable
	if d.Door != nil {
		b.Door = true
		b.DoorOpen = d.Door.Open
	}
	return b
}

// Default returns the embedded catalog.
func Default() (*BlockCatalog, error) {
	raw, err := defaults.ReadFile("defaults/blocks.json")
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Load reads blocks.json from configDir, falling back to the embedded catalog
// when the directory has none.
func Load(configDir string) (*BlockCatalog, error) {
	if configDir == "" {
		return Default()
	}
	raw, err := os.ReadFile(filepath.Join(configDir, "blocks.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Default()
		}
		return nil, err
	}
	return Parse(raw)
}

// Parse validates raw against the block schema and builds the palette. AIR is
// always palette id 0; the rest are sorted by id.
func Parse(raw []byte) (*BlockCatalog, error) {
	if err := validate(raw); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	out := &BlockCatalog{DefsDigest: sha256Hex(raw)}

	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	out.Defs = map[string]BlockDef{}
	for _, d := range defs {
		if _, dup := out.Defs[d.ID]; dup {
			return nil, fmt.Errorf("blocks.json: duplicate id %s", d.ID)
		}
		if len(d.Collision) == 2 && d.Collision[1] < d.Collision[0] {
			return nil, fmt.Errorf("blocks.json: %s: collision max below min", d.ID)
		}
		out.Defs[d.ID] = d
	}
	for _, d := range out.Defs {
		if d.Door == nil {
			continue
		}
		if _, ok := out.Defs[d.Door.Toggle]; !ok {
			return nil, fmt.Errorf("blocks.json: %s: unknown toggle %s", d.ID, d.Door.Toggle)
		}
	}

	if _, ok := out.Defs["AIR"]; !ok {
		return nil, fmt.Errorf("blocks.json: missing AIR")
	}
	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		if id != "AIR" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	ids = append([]string{"AIR"}, ids...)

	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return out, nil
}

// Blocks returns the palette as voxel blocks, indexed by palette id.
func (c *BlockCatalog) Blocks() []voxel.Block {
	out := make([]voxel.Block, len(c.Palette))
	for i, id := range c.Palette {
		out[i] = c.Defs[id].Block()
	}
	return out
}

// ID looks up a palette id by block name.
func (c *BlockCatalog) ID(name string) (uint16, bool) {
	id, ok := c.Index[name]
	return id, ok
}

// MustID is ID for names the caller knows are in the catalog.
func (c *BlockCatalog) MustID(name string) uint16 {
	id, ok := c.Index[name]
	if !ok {
		panic("catalogs: unknown block " + name)
	}
	return id
}

// DoorToggle returns the palette ids of a door block and its toggled state.
func (c *BlockCatalog) DoorToggle(id uint16) (to uint16, ok bool) {
	if int(id) >= len(c.Palette) {
		return 0, false
	}
	d := c.Defs[c.Palette[id]]
	if d.Door == nil {
		return 0, false
	}
	return c.Index[d.Door.Toggle], true
}

func validate(raw []byte) error {
	schemaRaw, err := defaults.ReadFile("defaults/blocks.schema.json")
	if err != nil {
		return err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaRaw)); err != nil {
		return err
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
