package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelmesh.ai/internal/sim/lifecycle"
)

func readLines(t *testing.T, path string) []lifecycle.JobLogEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()
	var out []lifecycle.JobLogEntry
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e lifecycle.JobLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestJobLogger_WritesAndRotates(t *testing.T) {
	dir := t.TempDir()
	l := NewJobLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	if err := l.WriteJob(lifecycle.JobLogEntry{JobID: "genVoxelData:0,0,0", Outcome: lifecycle.OutcomeOK}); err != nil {
		t.Fatalf("WriteJob: %v", err)
	}
	if err := l.WriteJob(lifecycle.JobLogEntry{JobID: "genMeshData:0,0,0", Outcome: lifecycle.OutcomeOK, Quads: 6}); err != nil {
		t.Fatalf("WriteJob: %v", err)
	}
	first := l.w.Path(clock)

	clock = clock.Add(2 * time.Minute)
	if err := l.WriteJob(lifecycle.JobLogEntry{JobID: "genMeshData:1,0,0", Outcome: lifecycle.OutcomeError, Error: "boom"}); err != nil {
		t.Fatalf("WriteJob: %v", err)
	}
	second := l.w.Path(clock)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if filepath.Base(first) != "jobs-2026-03-01-10.jsonl.zst" || filepath.Base(second) != "jobs-2026-03-01-11.jsonl.zst" {
		t.Fatalf("paths: %s %s", first, second)
	}
	a := readLines(t, first)
	if len(a) != 2 || a[1].Quads != 6 {
		t.Fatalf("first file: %+v", a)
	}
	b := readLines(t, second)
	if len(b) != 1 || b[0].Error != "boom" {
		t.Fatalf("second file: %+v", b)
	}
}
