package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"voxelmesh.ai/internal/sim/terrain"
	"voxelmesh.ai/internal/sim/voxel"
)

type Tuning struct {
	ChunkSize          int   `yaml:"chunk_size"`
	Seed               int64 `yaml:"seed"`
	Workers            int   `yaml:"workers"`
	DispatchIntervalMs int   `yaml:"dispatch_interval_ms"`
	ViewRadius         int   `yaml:"view_radius"`
	VerticalRadius     int   `yaml:"vertical_radius"`
	LODStride          int   `yaml:"lod_stride"`
	MaxRetries         int   `yaml:"max_retries"`

	Terrain terrain.Config `yaml:"terrain"`
}

func Defaults() Tuning {
	return Tuning{
		ChunkSize:          32,
		Seed:               1337,
		Workers:            4,
		DispatchIntervalMs: 5,
		ViewRadius:         4,
		VerticalRadius:     1,
		LODStride:          1,
		MaxRetries:         2,
		Terrain: terrain.Config{
			BaseHeight:      16,
			Amplitude:       12,
			NoiseScale:      48,
			SeaLevel:        10,
			BiomeRegionSize: 256,
			OrePermille:     12,
			Blocks:          terrain.DefaultBlocks(),
		},
	}
}

// Load reads a YAML file over Defaults and normalizes the result. Missing
// keys keep their default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values with defaults. It never touches values that
// Validate rejects, so bad input still fails loudly.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.ChunkSize == 0 {
		t.ChunkSize = d.ChunkSize
	}
	if t.Workers == 0 {
		t.Workers = d.Workers
	}
	if t.DispatchIntervalMs == 0 {
		t.DispatchIntervalMs = d.DispatchIntervalMs
	}
	if t.LODStride == 0 {
		t.LODStride = 1
	}
	if t.Terrain.Blocks == (terrain.Blocks{}) {
		t.Terrain.Blocks = d.Terrain.Blocks
	}
	t.Terrain.Seed = t.Seed
}

func (t Tuning) Validate() error {
	var errs []error
	if err := voxel.CheckSize(t.ChunkSize); err != nil {
		errs = append(errs, fmt.Errorf("chunk_size: %w", err))
	}
	if t.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", t.Workers))
	}
	if t.DispatchIntervalMs < 1 {
		errs = append(errs, fmt.Errorf("dispatch_interval_ms must be >= 1, got %d", t.DispatchIntervalMs))
	}
	if t.ViewRadius < 0 || t.VerticalRadius < 0 {
		errs = append(errs, fmt.Errorf("view radii must be >= 0, got %d/%d", t.ViewRadius, t.VerticalRadius))
	}
	if t.LODStride < 1 || t.LODStride > t.ChunkSize {
		errs = append(errs, fmt.Errorf("lod_stride must be in 1..chunk_size, got %d", t.LODStride))
	}
	if t.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 0, got %d", t.MaxRetries))
	}
	if t.Terrain.OrePermille < 0 || t.Terrain.OrePermille > 1000 {
		errs = append(errs, fmt.Errorf("terrain.ore_permille must be in 0..1000, got %d", t.Terrain.OrePermille))
	}
	return errors.Join(errs...)
}

func (t Tuning) DispatchInterval() time.Duration {
	return time.Duration(t.DispatchIntervalMs) * time.Millisecond
}
