package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/ticket-payments/pkg/metrics"
)

type ReconcileJob struct {
	PaymentID uuid.UUID
	Reference string
}

type Worker struct {
	ID         int
	WorkerPool chan chan ReconcileJob
	JobChannel chan ReconcileJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan ReconcileJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan ReconcileJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(ReconcileJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.WorkerPool <- w.JobChannel

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing job", "worker_id", w.ID, "reference", job.Reference)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type Verifier interface {
	VerifyAndComplete(ctx context.Context, reference string) (*Payment, error)
}

type StaleLister interface {
	ListStale(ctx context.Context, initiatedBefore time.Time, limit int) ([]Payment, error)
}

type ReconcilerConfig struct {
	StaleAfter time.Duration
	Workers    int
	BatchSize  int
}

// ReconcileResult tallies one sweep.
type ReconcileResult struct {
	Scanned   int
	Succeeded int
	Failed    int
	Errored   int
}

// Reconciler re-verifies pending payments that have waited longer than
// StaleAfter, for checkouts whose webhook and callback never arrived.
type Reconciler struct {
	verifier Verifier
	payments StaleLister
	metrics  *metrics.PaymentMetrics
	logger   *slog.Logger
	cfg      ReconcilerConfig
	now      func() time.Time
}

func NewReconciler(cfg ReconcilerConfig, verifier Verifier, payments StaleLister, m *metrics.PaymentMetrics, logger *slog.Logger) *Reconciler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	return &Reconciler{
		verifier: verifier,
		payments: payments,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run sweeps one batch of stale payments through a bounded worker pool and
// waits for every dispatched job to finish.
func (r *Reconciler) Run(ctx context.Context) (ReconcileResult, error) {
	cutoff := r.now().UTC().Add(-r.cfg.StaleAfter)
	stale, err := r.payments.ListStale(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list stale payments: %w", err)
	}

	result := ReconcileResult{Scanned: len(stale)}
	if len(stale) == 0 {
		r.logger.Info("no stale payments to reconcile", "cutoff", cutoff)
		return result, nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		workers sync.WaitGroup
		pending sync.WaitGroup
	)
	workerPool := make(chan chan ReconcileJob, r.cfg.Workers)

	process := func(job ReconcileJob) {
		defer pending.Done()
		outcome := r.reconcile(workerCtx, job)
		r.metrics.IncReconciled(outcome)

		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case "success":
			result.Succeeded++
		case "failed":
			result.Failed++
		default:
			result.Errored++
		}
	}

	for i := 0; i < r.cfg.Workers; i++ {
		NewWorker(i, workerPool, r.logger).Start(workerCtx, &workers, process)
	}

	r.logger.Info("reconcile sweep started",
		"stale", len(stale),
		"workers", r.cfg.Workers,
		"cutoff", cutoff)

dispatch:
	for _, p := range stale {
		job := ReconcileJob{PaymentID: p.ID, Reference: p.Reference}
		select {
		case jobChannel := <-workerPool:
			pending.Add(1)
			select {
			case jobChannel <- job:
			case <-ctx.Done():
				pending.Done()
				break dispatch
			}
		case <-ctx.Done():
			r.logger.Info("dispatcher shutting down")
			break dispatch
		}
	}

	pending.Wait()
	cancel()
	workers.Wait()

	r.logger.Info("reconcile sweep finished",
		"scanned", result.Scanned,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"errored", result.Errored)

	return result, ctx.Err()
}

func (r *Reconciler) reconcile(ctx context.Context, job ReconcileJob) string {
	p, err := r.verifier.VerifyAndComplete(ctx, job.Reference)
	var notSuccessful *NotSuccessfulError
	switch {
	case err == nil && p != nil && p.Status == payment.StatusSuccess:
		r.logger.Info("stale payment completed", "reference", job.Reference)
		return "success"
	case errors.As(err, &notSuccessful):
		r.logger.Info("stale payment not successful", "reference", job.Reference, "status", notSuccessful.Status, "gateway_status", notSuccessful.GatewayStatus)
		return "failed"
	default:
		r.logger.Error("stale payment verification failed", "reference", job.Reference, "error", err)
		return "error"
	}
}
