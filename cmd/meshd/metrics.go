package main

import (
	"fmt"
	"io"

	"voxelmesh.ai/internal/persistence/indexdb"
	"voxelmesh.ai/internal/sim/jobs"
	"voxelmesh.ai/internal/sim/lifecycle"
	"voxelmesh.ai/internal/transport/ws"
)

type metricsSnapshot struct {
	Queue  jobs.QueueStats
	Pool   jobs.PoolStats
	Hub    ws.Stats
	Chunks *lifecycle.Stats // nil when the manager did not answer
	Index  *indexdb.Stats   // nil with -disable_db
}

// writeMetrics renders m in the Prometheus text exposition format.
func writeMetrics(w io.Writer, runID string, m metricsSnapshot) {
	fmt.Fprintf(w, "# HELP voxelmesh_queue_jobs Job queue counters.\n")
	fmt.Fprintf(w, "# TYPE voxelmesh_queue_jobs counter\n")
	for _, kv := range []struct {
		name string
		v    uint64
	}{
		{"enqueued", m.Queue.Enqueued},
		{"duplicates", m.Queue.Duplicates},
		{"malformed", m.Queue.Malformed},
		{"removed", m.Queue.Removed},
		{"dispatched", m.Queue.Dispatched},
		{"completed", m.Queue.Completed},
		{"failed", m.Queue.Failed},
		{"stale", m.Queue.Stale},
	} {
		fmt.Fprintf(w, "voxelmesh_queue_jobs{run=%q,event=%q} %d\n", runID, kv.name, kv.v)
	}

	fmt.Fprintf(w, "# HELP voxelmesh_queue_depth Jobs waiting or running.\n")
	fmt.Fprintf(w, "# TYPE voxelmesh_queue_depth gauge\n")
	fmt.Fprintf(w, "voxelmesh_queue_depth{run=%q,state=%q} %d\n", runID, "pending", m.Queue.Pending)
	fmt.Fprintf(w, "voxelmesh_queue_depth{run=%q,state=%q} %d\n", runID, "inflight", m.Queue.InFlight)

	fmt.Fprintf(w, "# HELP voxelmesh_pool_workers Worker pool size and busy workers.\n")
	fmt.Fprintf(w, "# TYPE voxelmesh_pool_workers gauge\n")
	fmt.Fprintf(w, "voxelmesh_pool_workers{run=%q,state=%q} %d\n", runID, "total", m.Pool.Workers)
	fmt.Fprintf(w, "voxelmesh_pool_workers{run=%q,state=%q} %d\n", runID, "busy", m.Pool.Busy)

	fmt.Fprintf(w, "# HELP voxelmesh_pool_jobs_total Jobs run by the worker pool.\n")
	fmt.Fprintf(w, "# TYPE voxelmesh_pool_jobs_total counter\n")
	fmt.Fprintf(w, "voxelmesh_pool_jobs_total{run=%q,result=%q} %d\n", runID, "executed", m.Pool.Executed)
	fmt.Fprintf(w, "voxelmesh_pool_jobs_total{run=%q,result=%q} %d\n", runID, "failed", m.Pool.Failed)

	if c := m.Chunks; c != nil {
		fmt.Fprintf(w, "# HELP voxelmesh_chunks Chunk counts by state.\n")
		fmt.Fprintf(w, "# TYPE voxelmesh_chunks gauge\n")
		fmt.Fprintf(w, "voxelmesh_chunks{run=%q,state=%q} %d\n", runID, "visible", c.Visible)
		fmt.Fprintf(w, "voxelmesh_chunks{run=%q,state=%q} %d\n", runID, "loaded", c.Loaded)
		fmt.Fprintf(w, "voxelmesh_chunks{run=%q,state=%q} %d\n", runID, "meshed", c.Meshed)
		fmt.Fprintf(w, "voxelmesh_chunks{run=%q,state=%q} %d\n", runID, "edited", c.Edited)

		fmt.Fprintf(w, "# HELP voxelmesh_lifecycle_total Lifecycle events since start.\n")
		fmt.Fprintf(w, "# TYPE voxelmesh_lifecycle_total counter\n")
		fmt.Fprintf(w, "voxelmesh_lifecycle_total{run=%q,event=%q} %d\n", runID, "published", c.Published)
		fmt.Fprintf(w, "voxelmesh_lifecycle_total{run=%q,event=%q} %d\n", runID, "retries", c.Retries)
		fmt.Fprintf(w, "voxelmesh_lifecycle_total{run=%q,event=%q} %d\n", runID, "evictions", c.Evictions)
		fmt.Fprintf(w, "voxelmesh_lifecycle_total{run=%q,event=%q} %d\n", runID, "stale", c.Stale)
	}

	fmt.Fprintf(w, "# HELP voxelmesh_ws_clients Connected websocket clients.\n")
	fmt.Fprintf(w, "# TYPE voxelmesh_ws_clients gauge\n")
	fmt.Fprintf(w, "voxelmesh_ws_clients{run=%q} %d\n", runID, m.Hub.Clients)
	fmt.Fprintf(w, "# HELP voxelmesh_ws_cached_meshes Meshes cached for late joiners.\n")
	fmt.Fprintf(w, "# TYPE voxelmesh_ws_cached_meshes gauge\n")
	fmt.Fprintf(w, "voxelmesh_ws_cached_meshes{run=%q} %d\n", runID, m.Hub.Cached)
	fmt.Fprintf(w, "# HELP voxelmesh_ws_messages_total Websocket messages queued or dropped.\n")
	fmt.Fprintf(w, "# TYPE voxelmesh_ws_messages_total counter\n")
	fmt.Fprintf(w, "voxelmesh_ws_messages_total{run=%q,result=%q} %d\n", runID, "sent", m.Hub.Sent)
	fmt.Fprintf(w, "voxelmesh_ws_messages_total{run=%q,result=%q} %d\n", runID, "dropped", m.Hub.Dropped)

	if s := m.Index; s != nil {
		fmt.Fprintf(w, "# HELP voxelmesh_index_queue Index writer queue depth and capacity.\n")
		fmt.Fprintf(w, "# TYPE voxelmesh_index_queue gauge\n")
		fmt.Fprintf(w, "voxelmesh_index_queue{run=%q,kind=%q} %d\n", runID, "depth", s.QueueDepth)
		fmt.Fprintf(w, "voxelmesh_index_queue{run=%q,kind=%q} %d\n", runID, "capacity", s.QueueCapacity)
		fmt.Fprintf(w, "# HELP voxelmesh_index_drops_total Index records dropped on a full queue.\n")
		fmt.Fprintf(w, "# TYPE voxelmesh_index_drops_total counter\n")
		fmt.Fprintf(w, "voxelmesh_index_drops_total{run=%q,table=%q} %d\n", runID, "meshes", s.DropMeshTotal)
		fmt.Fprintf(w, "voxelmesh_index_drops_total{run=%q,table=%q} %d\n", runID, "evictions", s.DropEvictTotal)
		fmt.Fprintf(w, "voxelmesh_index_drops_total{run=%q,table=%q} %d\n", runID, "job_failures", s.DropFailTotal)
		fmt.Fprintf(w, "voxelmesh_index_drops_total{run=%q,table=%q} %d\n", runID, "dumps", s.DropDumpTotal)
		fmt.Fprintf(w, "# HELP voxelmesh_index_write_errors_total Failed index writes.\n")
		fmt.Fprintf(w, "# TYPE voxelmesh_index_write_errors_total counter\n")
		fmt.Fprintf(w, "voxelmesh_index_write_errors_total{run=%q} %d\n", runID, s.WriteErrors)
	}
}
