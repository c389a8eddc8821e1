package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
	// Resend cached meshes for the current view after WELCOME.
	WantSnapshot bool `json:"want_snapshot,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	Params          MeshParams `json:"params"`
	InfoLayout      InfoLayout `json:"info_layout"`
}

type MeshParams struct {
	ChunkSize      int   `json:"chunk_size"`
	Seed           int64 `json:"seed"`
	LODStride      int   `json:"lod_stride"`
	ViewRadius     int   `json:"view_radius"`
	VerticalRadius int   `json:"vertical_radius"`
}

// InfoLayout describes how the two per-vertex info words are packed so
// clients can check it against their shader.
type InfoLayout struct {
	UVBits     int `json:"uv_bits"`
	NormalBits int `json:"normal_bits"`
	ExtentBits int `json:"extent_bits"`
	TypeBits   int `json:"type_bits"`
}

// MESH (server -> client)
type MeshMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Chunk           string    `json:"chunk"`
	Version         uint64    `json:"version"`
	VoxelCount      uint32    `json:"voxel_count"`
	Digest          string    `json:"digest"`
	Vertices        []float32 `json:"vertices"`
	Indices         []uint32  `json:"indices"`
	VoxelInfo       []uint32  `json:"voxel_info"`
}

// EVICT (server -> client)
type EvictMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Chunk           string `json:"chunk"`
}

// VIEW (client -> server): move the visible set to center (chunk coordinates).
type ViewMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Center          [3]int `json:"center"`
}

// EDIT (client -> server): set one voxel at a world coordinate. Voxel 0
// removes it.
type EditMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Pos             [3]int `json:"pos"`
	Voxel           uint16 `json:"voxel"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
