package compositor

import (
	"encoding/json"
	"fmt"
)

// Tile is the assignment of one grid cell. A tile takes its shader either
// from a slot of the shader library or from inline code; with neither it is
// empty.
type Tile struct {
	GridSlot   *int   `json:"gridSlotIndex,omitempty"`
	ShaderCode string `json:"shaderCode,omitempty"`
	Overrides
	Visible bool `json:"visible"`
}

// NewTile returns a visible empty tile.
func NewTile() Tile { return Tile{Visible: true} }

// SlotTile returns a visible tile showing library slot i.
func SlotTile(i int) Tile { return Tile{GridSlot: &i, Visible: true} }

// Empty reports whether the tile has no shader assigned.
func (t Tile) Empty() bool { return t.GridSlot == nil && t.ShaderCode == "" }

// UnmarshalJSON defaults visible to true when the field is absent.
func (t *Tile) UnmarshalJSON(data []byte) error {
	type plain Tile
	p := plain{Visible: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Tile(p)
	return nil
}

// TileConfig is a layout and one Tile per cell in row major order.
type TileConfig struct {
	Layout Layout `json:"layout"`
	Tiles  []Tile `json:"tiles"`
}

// NewTileConfig returns a layout of empty visible tiles.
func NewTileConfig(rows, cols, gap int) TileConfig {
	l := Layout{Rows: rows, Cols: cols, Gap: gap}
	tiles := make([]Tile, l.Cells())
	for i := range tiles {
		tiles[i] = NewTile()
	}
	return TileConfig{Layout: l, Tiles: tiles}
}

// Tile returns the tile at (row, col).
func (c *TileConfig) Tile(row, col int) *Tile {
	if row < 0 || col < 0 || row >= c.Layout.Rows || col >= c.Layout.Cols {
		return nil
	}
	return &c.Tiles[row*c.Layout.Cols+col]
}

// Resize changes the grid to rows x cols. A tile keeps its assignment when
// its (row, col) still exists; new cells are empty.
func (c TileConfig) Resize(rows, cols int) TileConfig {
	out := NewTileConfig(rows, cols, c.Layout.Gap)
	oldCols := c.Layout.Cols
	if oldCols <= 0 {
		return out
	}
	for i, t := range c.Tiles {
		row, col := i/oldCols, i%oldCols
		if row < rows && col < cols {
			out.Tiles[row*cols+col] = t
		}
	}
	return out
}

// Normalize pads or truncates Tiles to the layout's cell count.
func (c *TileConfig) Normalize() {
	n := c.Layout.Cells()
	if len(c.Tiles) > n {
		c.Tiles = c.Tiles[:n]
	}
	for len(c.Tiles) < n {
		c.Tiles = append(c.Tiles, NewTile())
	}
}

// ParseTileConfig decodes the JSON form of a tile configuration and
// normalizes its tile list.
func ParseTileConfig(data []byte) (TileConfig, error) {
	var c TileConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return TileConfig{}, fmt.Errorf("invalid tile config: %w", err)
	}
	if c.Layout.Rows <= 0 || c.Layout.Cols <= 0 {
		return TileConfig{}, fmt.Errorf("invalid tile layout %dx%d", c.Layout.Rows, c.Layout.Cols)
	}
	if c.Layout.Gap < 0 {
		c.Layout.Gap = 0
	}
	c.Normalize()
	return c, nil
}
