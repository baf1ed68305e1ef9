package services

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"concurseiro-backend/internal/metrics"
	"concurseiro-backend/internal/models"
	"concurseiro-backend/internal/repository"
	"concurseiro-backend/internal/simulation"
)

const snapshotSaveTimeout = 10 * time.Second

type snapshotStore interface {
	SaveSimulationSnapshot(ctx context.Context, id, userID uuid.UUID, snap models.SimulationResult) (bool, error)
}

type updatePublisher interface {
	PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage)
}

type snapshotWrite struct {
	userID uuid.UUID
	examID uuid.UUID
	snap   models.SimulationResult
}

func (j snapshotWrite) key() string {
	return j.examID.String() + "/" + j.snap.ID
}

// snapshotShard holds at most one pending write per simulation. A newer
// snapshot replaces the pending one of the same simulation in place.
type snapshotShard struct {
	mu      sync.Mutex
	pending map[string]snapshotWrite
	order   []string
	ready   chan struct{}
}

func newSnapshotShard() *snapshotShard {
	return &snapshotShard{pending: make(map[string]snapshotWrite), ready: make(chan struct{}, 1)}
}

// put reports whether a pending write of the same simulation was replaced.
func (sh *snapshotShard) put(job snapshotWrite) bool {
	k := job.key()
	sh.mu.Lock()
	_, replaced := sh.pending[k]
	if !replaced {
		sh.order = append(sh.order, k)
	}
	sh.pending[k] = job
	sh.mu.Unlock()

	select {
	case sh.ready <- struct{}{}:
	default:
	}
	return replaced
}

func (sh *snapshotShard) take() (snapshotWrite, bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if len(sh.order) == 0 {
		return snapshotWrite{}, false
	}
	k := sh.order[0]
	sh.order = sh.order[1:]
	job := sh.pending[k]
	delete(sh.pending, k)
	return job, true
}

func (sh *snapshotShard) size() int {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.order)
}

// SnapshotWriter persists session snapshots in the background. Snapshots of
// one simulation always go to the same shard and one goroutine writes each
// shard, so they reach the store in emission order; the store also drops
// anything older than what it holds.
type SnapshotWriter struct {
	store     snapshotStore
	publisher updatePublisher
	log       *zap.Logger
	shards    []*snapshotShard
	settled   func(userID uuid.UUID, snap models.SimulationResult)
	wg        sync.WaitGroup
}

func NewSnapshotWriter(store *repository.ExamRepo, publisher *Publisher, shards int, log *zap.Logger) *SnapshotWriter {
	return newSnapshotWriter(store, publisher, shards, log)
}

func newSnapshotWriter(store snapshotStore, publisher updatePublisher, shards int, log *zap.Logger) *SnapshotWriter {
	if shards < 1 {
		shards = 1
	}
	w := &SnapshotWriter{store: store, publisher: publisher, log: log}
	for i := 0; i < shards; i++ {
		w.shards = append(w.shards, newSnapshotShard())
	}
	return w
}

// OnSettled registers fn to be told when a snapshot no longer needs to be
// kept by the caller: it was stored, or the store already holds a newer one.
// Call it before Start.
func (w *SnapshotWriter) OnSettled(fn func(userID uuid.UUID, snap models.SimulationResult)) {
	w.settled = fn
}

// Start runs the shard loops until ctx is cancelled. Snapshots still pending
// at that point are written before the loops return.
func (w *SnapshotWriter) Start(ctx context.Context) {
	for _, sh := range w.shards {
		w.wg.Add(1)
		go func(sh *snapshotShard) {
			defer w.wg.Done()
			w.run(ctx, sh)
		}(sh)
	}
	w.log.Info("snapshot writer started", zap.Int("shards", len(w.shards)))
}

// Wait blocks until every shard loop has drained and returned.
func (w *SnapshotWriter) Wait() {
	w.wg.Wait()
}

func (w *SnapshotWriter) run(ctx context.Context, sh *snapshotShard) {
	for {
		w.drain(sh)
		select {
		case <-sh.ready:
		case <-ctx.Done():
			w.drain(sh)
			return
		}
	}
}

func (w *SnapshotWriter) drain(sh *snapshotShard) {
	for job, ok := sh.take(); ok; job, ok = sh.take() {
		w.save(job)
	}
}

// For returns the saver a session of userID on examID writes through.
func (w *SnapshotWriter) For(userID, examID uuid.UUID) simulation.Saver {
	return simulation.SaverFunc(func(snap models.SimulationResult) {
		w.enqueue(snapshotWrite{userID: userID, examID: examID, snap: snap})
	})
}

// enqueue never blocks. Pending memory is bounded by the number of open
// simulations, never by how fast they emit.
func (w *SnapshotWriter) enqueue(job snapshotWrite) {
	sh := w.shards[shardFor(job.snap.ID, len(w.shards))]
	if sh.put(job) {
		metrics.SnapshotSaves.WithLabelValues(string(job.snap.Status), "superseded").Inc()
	}
}

func shardFor(simulationID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(simulationID))
	return int(h.Sum32() % uint32(n))
}

func (w *SnapshotWriter) save(job snapshotWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotSaveTimeout)
	defer cancel()

	snap := job.snap
	status := string(snap.Status)
	applied, err := w.store.SaveSimulationSnapshot(ctx, job.examID, job.userID, snap)
	switch {
	case err != nil:
		metrics.SnapshotSaves.WithLabelValues(status, "error").Inc()
		w.log.Error("failed to save simulation snapshot",
			zap.String("exam_id", job.examID.String()),
			zap.String("simulation_id", snap.ID),
			zap.Error(err))
		return
	case !applied:
		metrics.SnapshotSaves.WithLabelValues(status, "stale").Inc()
		w.settle(job)
		return
	}
	metrics.SnapshotSaves.WithLabelValues(status, "ok").Inc()
	w.settle(job)

	if w.publisher != nil {
		w.publisher.PublishUpdate(ctx, job.userID, models.WSMessage{
			Type: models.WSSnapshotSaved,
			Payload: models.SnapshotSavedEvent{
				ExamID:       job.examID,
				SimulationID: snap.ID,
				Status:       snap.Status,
				Score:        snap.Score,
				Answered:     len(snap.UserAnswers),
			},
		})
	}
}

func (w *SnapshotWriter) settle(job snapshotWrite) {
	if w.settled != nil {
		w.settled(job.userID, job.snap)
	}
}
