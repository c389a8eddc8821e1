package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"voxelmesh.ai/internal/sim/encoding"
	"voxelmesh.ai/internal/sim/voxel"
)

const Version = 1

var ErrVersion = errors.New("unsupported dump version")

// Header is written as a JSON line ahead of the gob body so tools can list a
// dump without decoding it.
type Header struct {
	Version     int    `json:"version"`
	RunID       string `json:"run_id"`
	CreatedAtMs int64  `json:"created_at_ms"`
	ChunkSize   int    `json:"chunk_size"`
	Seed        int64  `json:"seed"`
	LODStride   int    `json:"lod_stride"`
	Chunks      int    `json:"chunks"`
}

type DumpV1 struct {
	Header Header
	Chunks []ChunkV1
}

type ChunkV1 struct {
	X, Y, Z int
	Runs    []byte // encoding.EncodeRuns of the voxel buffer
	Digest  string
	Diffs   []voxel.Diff
}

func (c ChunkV1) Key() voxel.ChunkKey { return voxel.ChunkKey{X: c.X, Y: c.Y, Z: c.Z} }

func EncodeChunk(key voxel.ChunkKey, f *voxel.Field, diffs []voxel.Diff) ChunkV1 {
	d := f.Digest()
	return ChunkV1{
		X:      key.X,
		Y:      key.Y,
		Z:      key.Z,
		Runs:   encoding.EncodeRuns(nil, f.Voxels),
		Digest: hex.EncodeToString(d[:]),
		Diffs:  diffs,
	}
}

// Field rebuilds the chunk's voxels and occupancy and checks the digest.
func (c ChunkV1) Field(size int) (*voxel.Field, error) {
	if err := voxel.CheckSize(size); err != nil {
		return nil, err
	}
	voxels, err := encoding.DecodeRuns(c.Runs, size*size*size)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", c.Key(), err)
	}
	f, err := voxel.FromVoxels(size, voxels)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", c.Key(), err)
	}
	if c.Digest != "" {
		d := f.Digest()
		if got := hex.EncodeToString(d[:]); got != c.Digest {
			return nil, fmt.Errorf("chunk %s: digest mismatch", c.Key())
		}
	}
	return f, nil
}

func Encode(w io.Writer, d DumpV1) error {
	d.Header.Version = Version
	d.Header.Chunks = len(d.Chunks)

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(d.Header)
	if err != nil {
		_ = enc.Close()
		return err
	}
	hb = append(hb, '\n')
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&d); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func Decode(r io.Reader) (DumpV1, error) {
	var d DumpV1
	dec, err := zstd.NewReader(r)
	if err != nil {
		return d, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	h, err := readHeader(br)
	if err != nil {
		return d, err
	}
	if err := gob.NewDecoder(br).Decode(&d); err != nil {
		return d, fmt.Errorf("gob decode: %w", err)
	}
	if d.Header != h {
		return d, errors.New("dump header disagrees with body")
	}
	return d, nil
}

func readHeader(br *bufio.Reader) (Header, error) {
	var h Header
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("parse header: %w", err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	return h, nil
}

// WriteDump writes d to path through a temporary file so readers never see
// a partial dump.
func WriteDump(path string, d DumpV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := Encode(f, d); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func ReadDump(path string) (DumpV1, error) {
	f, err := os.Open(path)
	if err != nil {
		return DumpV1{}, err
	}
	defer f.Close()
	return Decode(f)
}

// ReadHeader decodes only the leading header line of a dump file.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, err
	}
	defer dec.Close()
	return readHeader(bufio.NewReader(dec))
}
