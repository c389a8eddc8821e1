// Package terrain is the default block-type oracle used for chunk voxel
// generation. It is a pure function of the seed and world coordinates.
package terrain

import (
	"voxelmesh.ai/internal/sim/mathx"
)

type Blocks struct {
	Stone   uint16 `yaml:"stone"`
	Dirt    uint16 `yaml:"dirt"`
	Grass   uint16 `yaml:"grass"`
	Sand    uint16 `yaml:"sand"`
	Water   uint16 `yaml:"water"`
	Gravel  uint16 `yaml:"gravel"`
	CoalOre uint16 `yaml:"coal_ore"`
	IronOre uint16 `yaml:"iron_ore"`
}

func DefaultBlocks() Blocks {
	return Blocks{Stone: 1, Dirt: 2, Grass: 3, Sand: 4, Water: 5, Gravel: 6, CoalOre: 7, IronOre: 8}
}

type Biome string

const (
	BiomePlains    Biome = "PLAINS"
	BiomeDesert    Biome = "DESERT"
	BiomeMountains Biome = "MOUNTAINS"
)

type Config struct {
	Seed            int64  `yaml:"-"`
	BaseHeight      int    `yaml:"base_height"`
	Amplitude       int    `yaml:"amplitude"`
	NoiseScale      int    `yaml:"noise_scale"`
	SeaLevel        int    `yaml:"sea_level"`
	BiomeRegionSize int    `yaml:"biome_region_size"`
	OrePermille     int    `yaml:"ore_permille"`
	Blocks          Blocks `yaml:"blocks"`
}

func (c *Config) applyDefaults() {
	if c.Amplitude <= 0 {
		c.Amplitude = 12
	}
	if c.NoiseScale <= 0 {
		c.NoiseScale = 48
	}
	if c.BiomeRegionSize <= 0 {
		c.BiomeRegionSize = 256
	}
	if c.OrePermille < 0 {
		c.OrePermille = 0
	}
	if c.OrePermille > 1000 {
		c.OrePermille = 1000
	}
	if c.Blocks == (Blocks{}) {
		c.Blocks = DefaultBlocks()
	}
}

// Generator implements voxel.Oracle.
type Generator struct {
	cfg Config
}

func New(cfg Config) *Generator {
	cfg.applyDefaults()
	return &Generator{cfg: cfg}
}

func (g *Generator) Config() Config { return g.cfg }

func (g *Generator) BiomeAt(x, z int) Biome {
	rx := mathx.FloorDiv(x, g.cfg.BiomeRegionSize)
	rz := mathx.FloorDiv(z, g.cfg.BiomeRegionSize)
	switch mathx.Hash2(g.cfg.Seed+7, rx, rz) % 3 {
	case 0:
		return BiomePlains
	case 1:
		return BiomeDesert
	default:
		return BiomeMountains
	}
}

// noise is bilinear value noise on a grid of the given cell size, in [0,1).
func (g *Generator) noise(seed int64, x, z, cell int) float64 {
	gx, gz := mathx.FloorDiv(x, cell), mathx.FloorDiv(z, cell)
	fx := mathx.Smooth(float64(mathx.Mod(x, cell)) / float64(cell))
	fz := mathx.Smooth(float64(mathx.Mod(z, cell)) / float64(cell))
	c00 := mathx.Unit(mathx.Hash2(seed, gx, gz))
	c10 := mathx.Unit(mathx.Hash2(seed, gx+1, gz))
	c01 := mathx.Unit(mathx.Hash2(seed, gx, gz+1))
	c11 := mathx.Unit(mathx.Hash2(seed, gx+1, gz+1))
	return mathx.Lerp(mathx.Lerp(c00, c10, fx), mathx.Lerp(c01, c11, fx), fz)
}

// HeightAt returns the y of the top solid block of column (x, z).
func (g *Generator) HeightAt(x, z int) int {
	cell := g.cfg.NoiseScale
	n := g.noise(g.cfg.Seed, x, z, cell)
	if cell >= 4 {
		n = (2*n + g.noise(g.cfg.Seed+1, x, z, cell/4)) / 3
	}
	amp := float64(g.cfg.Amplitude)
	switch g.BiomeAt(x, z) {
	case BiomeMountains:
		amp *= 2.5
	case BiomeDesert:
		amp *= 0.5
	}
	return g.cfg.BaseHeight + int(amp*(2*n-1))
}

func (g *Generator) BlockAt(x, y, z int) uint16 {
	b := g.cfg.Blocks
	h := g.HeightAt(x, z)
	if y > h {
		if y <= g.cfg.SeaLevel {
			return b.Water
		}
		return 0
	}

	biome := g.BiomeAt(x, z)
	beach := h <= g.cfg.SeaLevel+1
	switch {
	case y == h:
		if biome == BiomeDesert || beach {
			return b.Sand
		}
		if biome == BiomeMountains && h > g.cfg.BaseHeight+g.cfg.Amplitude*2 {
			return b.Stone
		}
		return b.Grass
	case y >= h-3:
		if biome == BiomeDesert || beach {
			return b.Sand
		}
		return b.Dirt
	}

	if g.cfg.OrePermille > 0 {
		roll := mathx.Hash3(g.cfg.Seed+101, x, y, z) % 1000
		switch {
		case roll < uint64(g.cfg.OrePermille)/3 && y < g.cfg.BaseHeight-16:
			return b.IronOre
		case roll < uint64(g.cfg.OrePermille):
			return b.CoalOre
		case roll < uint64(g.cfg.OrePermille)+20:
			return b.Gravel
		}
	}
	return b.Stone
}
