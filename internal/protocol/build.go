package protocol

import (
	"voxelmesh.ai/internal/sim/lifecycle"
	"voxelmesh.ai/internal/sim/mesh"
)

func CurrentInfoLayout() InfoLayout {
	return InfoLayout{
		UVBits:     mesh.UVBits,
		NormalBits: mesh.NormalBits,
		ExtentBits: mesh.ExtentBits,
		TypeBits:   mesh.TypeBits,
	}
}

func NewWelcome(sessionID string, p MeshParams) WelcomeMsg {
	return WelcomeMsg{
		Type:            TypeWelcome,
		ProtocolVersion: Version,
		SessionID:       sessionID,
		Params:          p,
		InfoLayout:      CurrentInfoLayout(),
	}
}

func NewMesh(m lifecycle.ChunkMesh) MeshMsg {
	return MeshMsg{
		Type:            TypeMesh,
		ProtocolVersion: Version,
		Chunk:           m.Key.String(),
		Version:         m.Version,
		VoxelCount:      m.VoxelCount,
		Digest:          m.Digest,
		Vertices:        m.Mesh.Vertices,
		Indices:         m.Mesh.Indices,
		VoxelInfo:       m.Mesh.VoxelInfo,
	}
}

func NewEvict(chunk string) EvictMsg {
	return EvictMsg{Type: TypeEvict, ProtocolVersion: Version, Chunk: chunk}
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
