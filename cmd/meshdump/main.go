package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/fatih/color"

	"voxelmesh.ai/internal/persistence/snapshot"
	"voxelmesh.ai/internal/sim/terrain"
	"voxelmesh.ai/internal/sim/tuning"
)

func main() {
	var (
		dumpPath   = flag.String("dump", "", "path to a .dump.zst written by meshd")
		n          = flag.Int("n", 0, "generate and mesh n chunks around the origin instead of reading a dump")
		seed       = flag.Int64("seed", 0, "terrain seed for -n (0: use tuning.yaml)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (used with -n)")
		workers    = flag.Int("workers", runtime.NumCPU(), "parallel meshing workers")
		quiet      = flag.Bool("quiet", false, "print totals only")
		headerOnly = flag.Bool("header", false, "with -dump: print the dump header as JSON and exit")
	)
	flag.Parse()

	var (
		work []chunkWork
		size int
	)
	switch {
	case *dumpPath != "" && *headerOnly:
		h, err := snapshot.ReadHeader(*dumpPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read header:", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(h)
		return
	case *dumpPath != "":
		d, err := snapshot.ReadDump(*dumpPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read dump:", err)
			os.Exit(1)
		}
		h := d.Header
		color.New(color.FgCyan, color.Bold).Printf("dump v%d run=%s chunk_size=%d seed=%d lod=%d chunks=%d\n",
			h.Version, h.RunID, h.ChunkSize, h.Seed, h.LODStride, h.Chunks)
		size = h.ChunkSize
		work = fromDump(d)
	case *n > 0:
		tune, err := tuning.Load(*tuningPath)
		if err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintln(os.Stderr, "load tuning:", err)
				os.Exit(1)
			}
			tune = tuning.Defaults()
		}
		if *seed != 0 {
			tune.Seed = *seed
			tune.Normalize()
		}
		size = tune.ChunkSize
		color.New(color.FgCyan, color.Bold).Printf("generate chunk_size=%d seed=%d lod=%d chunks=%d\n",
			tune.ChunkSize, tune.Seed, tune.LODStride, *n)
		work = generated(spiralKeys(*n), terrain.New(tune.Terrain), tune.LODStride)
	default:
		fmt.Fprintln(os.Stderr, "missing -dump or -n")
		os.Exit(2)
	}

	reports := meshAll(size, work, *workers)
	t := summarize(reports)
	if !*quiet {
		for _, r := range reports {
			printReport(r)
		}
	}
	printTotals(t)
	if !*quiet && t.Chunks > 1 {
		fmt.Println("slowest:")
		for _, r := range slowest(reports, 5) {
			fmt.Printf("  %-14s %s quads=%d\n", r.Key, r.Elapsed, r.Quads)
		}
	}
	if t.Failed > 0 {
		os.Exit(1)
	}
}

func printReport(r report) {
	switch {
	case r.Err != nil:
		color.Red("%-14s error: %v", r.Key, r.Err)
	case r.Quads == 0:
		color.Yellow("%-14s voxels=%-6d empty", r.Key, r.Voxels)
	default:
		color.Green("%-14s voxels=%-6d quads=%-5d vertices=%-6d %s", r.Key, r.Voxels, r.Quads, r.Vertices, r.Elapsed)
	}
}

func printTotals(t totals) {
	c := color.New(color.FgGreen, color.Bold)
	if t.Failed > 0 {
		c = color.New(color.FgRed, color.Bold)
	}
	c.Printf("chunks=%d failed=%d empty=%d voxels=%d quads=%d vertices=%d mesh_time=%s\n",
		t.Chunks, t.Failed, t.Empty, t.Voxels, t.Quads, t.Vertices, t.Elapsed)
}
