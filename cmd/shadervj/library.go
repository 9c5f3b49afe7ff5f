package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/golang/glog"
	"github.com/richinsley/shadervj/compositor"
)

// loadLibrary reads every .glsl file in dir, sorted by name, as the slot
// library tiles and mixer channels refer to by index. An empty dir yields
// an empty library.
func loadLibrary(dir string) (compositor.Slots, []string, error) {
	if dir == "" {
		return nil, nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read shader library: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".glsl") {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)

	slots := make(compositor.Slots, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read shader library: %w", err)
		}
		slots = append(slots, string(data))
	}
	glog.Infof("shader library %s: %d shaders", dir, len(slots))
	return slots, names, nil
}

// defaultTileConfig fills a rows x cols grid with library slots in order,
// wrapping around when the library is smaller than the grid.
func defaultTileConfig(rows, cols, gap, librarySize int) compositor.TileConfig {
	c := compositor.NewTileConfig(rows, cols, gap)
	if librarySize == 0 {
		return c
	}
	for i := range c.Tiles {
		c.Tiles[i] = compositor.SlotTile(i % librarySize)
	}
	return c
}
