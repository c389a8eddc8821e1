package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"voxelmesh.ai/internal/persistence/indexdb"
	persistlog "voxelmesh.ai/internal/persistence/log"
	"voxelmesh.ai/internal/persistence/snapshot"
	"voxelmesh.ai/internal/protocol"
	"voxelmesh.ai/internal/sim/jobs"
	"voxelmesh.ai/internal/sim/lifecycle"
	"voxelmesh.ai/internal/sim/terrain"
	"voxelmesh.ai/internal/sim/tuning"
	"voxelmesh.ai/internal/sim/voxel"
	"voxelmesh.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite mesh/job index")
		center     = flag.String("center", "0,0,0", "initial view center chunk (x,y,z)")

		seed    = flag.Int64("seed", 0, "terrain seed (0: use tuning.yaml)")
		workers = flag.Int("workers", 0, "mesher worker count (0: use tuning.yaml)")
		radius  = flag.Int("view_radius", -1, "horizontal view radius in chunks (-1: use tuning.yaml)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[meshd] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	if *workers > 0 {
		tune.Workers = *workers
	}
	if *radius >= 0 {
		tune.ViewRadius = *radius
	}
	tune.Normalize()
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}
	centerKey, err := voxel.ParseChunkKey(*center)
	if err != nil {
		logger.Fatalf("center: %v", err)
	}

	runID := uuid.NewString()
	params := jobs.Params{ChunkSize: tune.ChunkSize, Seed: tune.Seed, LODStride: tune.LODStride}
	oracle := terrain.New(tune.Terrain)

	mgr, err := lifecycle.New(lifecycle.Config{
		Params:           params,
		Workers:          tune.Workers,
		DispatchInterval: tune.DispatchInterval(),
		MaxRetries:       tune.MaxRetries,
	}, jobs.PipelineExecutor{Oracle: oracle}, log.New(os.Stdout, "[lifecycle] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("lifecycle: %v", err)
	}

	hub := ws.NewHub(mgr, protocol.MeshParams{
		ChunkSize:      tune.ChunkSize,
		Seed:           tune.Seed,
		LODStride:      tune.LODStride,
		ViewRadius:     tune.ViewRadius,
		VerticalRadius: tune.VerticalRadius,
	}, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))
	mgr.AddSink(hub)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "meshd.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.SetMeta(context.Background(), "run_id", runID); err != nil {
			logger.Printf("index: set run_id: %v", err)
		}
		mgr.AddSink(idx)
		mgr.AddJobLogger(idx)
	}

	jobLog := persistlog.NewJobLogger(*dataDir)
	defer jobLog.Close()
	mgr.AddJobLogger(jobLog)

	ctx, cancel := signalContext()
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := mgr.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("lifecycle stopped: %v", err)
		}
	}()

	initial := lifecycle.VisibleAround(centerKey, tune.ViewRadius, tune.VerticalRadius)
	if err := mgr.SetVisible(ctx, initial); err != nil {
		logger.Printf("initial view: %v", err)
	}
	logger.Printf("run=%s chunk_size=%d seed=%d workers=%d visible=%d", runID, tune.ChunkSize, tune.Seed, tune.Workers, len(initial))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		ctx2, cancel2 := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel2()
		m := metricsSnapshot{
			Queue: mgr.QueueStats(),
			Pool:  mgr.PoolStats(),
			Hub:   hub.Stats(),
		}
		if st, err := mgr.Stats(ctx2); err == nil {
			m.Chunks = &st
		}
		if idx != nil {
			st := idx.Stats()
			m.Index = &st
		}
		writeMetrics(rw, runID, m)
	})
	mux.HandleFunc("/admin/v1/dump", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !ws.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel2()
		rw.Header().Set("Content-Type", "application/json")

		copies, err := mgr.Chunks(ctx2)
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		d := buildDump(runID, params, copies, time.Now())
		path := filepath.Join(*dataDir, "dumps", dumpName(d.Header))
		if err := snapshot.WriteDump(path, d); err != nil {
			logger.Printf("dump write: %v", err)
			rw.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		if idx != nil {
			idx.RecordDump(path, d.Header)
		}
		logger.Printf("dump: %s (%d chunks)", path, d.Header.Chunks)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "path": path, "chunks": d.Header.Chunks})
	})
	if idx != nil {
		mux.HandleFunc("/admin/v1/chunk", func(rw http.ResponseWriter, r *http.Request) {
			if !ws.IsLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			key, err := voxel.ParseChunkKey(r.URL.Query().Get("key"))
			if err != nil {
				http.Error(rw, err.Error(), http.StatusBadRequest)
				return
			}
			if err := idx.Sync(r.Context()); err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			rec, ok, err := idx.Mesh(r.Context(), key.String())
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(rw, "not indexed", http.StatusNotFound)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(rec)
		})
		mux.HandleFunc("/admin/v1/failures", func(rw http.ResponseWriter, r *http.Request) {
			if !ws.IsLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			if err := idx.Sync(r.Context()); err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			recs, err := idx.Failures(r.Context(), limit)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			dumps, err := idx.DumpCount(r.Context())
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"failures": recs, "dumps": dumps})
		})
	}
	mux.HandleFunc("/v1/ws", hub.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
	}
	cancel()
	<-runDone
	if idx != nil {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		if err := idx.Sync(ctx2); err != nil {
			logger.Printf("index sync: %v", err)
		}
		cancel2()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// buildDump packs the copied chunks into a dump, in the order given.
func buildDump(runID string, p jobs.Params, copies []lifecycle.ChunkCopy, now time.Time) snapshot.DumpV1 {
	d := snapshot.DumpV1{
		Header: snapshot.Header{
			RunID:       runID,
			CreatedAtMs: now.UnixMilli(),
			ChunkSize:   p.ChunkSize,
			Seed:        p.Seed,
			LODStride:   p.LODStride,
			Chunks:      len(copies),
		},
		Chunks: make([]snapshot.ChunkV1, 0, len(copies)),
	}
	for _, c := range copies {
		d.Chunks = append(d.Chunks, snapshot.EncodeChunk(c.Key, c.Field, c.Diffs))
	}
	return d
}

func dumpName(h snapshot.Header) string {
	run := h.RunID
	if i := strings.IndexByte(run, '-'); i > 0 {
		run = run[:i]
	}
	return fmt.Sprintf("%d-%s.dump.zst", h.CreatedAtMs, run)
}
