// SPDX-License-Identifier: MPL-2.0

package wps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/c3s-magic/magicwps/internal/catalog"
	"github.com/c3s-magic/magicwps/internal/jobstore"
	"github.com/c3s-magic/magicwps/internal/process"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// restartMessage marks jobs a previous server instance left unfinished.
const restartMessage = "exception occured: server stopped before the job finished"

type (
	// Executor runs a bound process. *process.Executor implements it.
	Executor interface {
		Execute(ctx context.Context, req process.Request) ([]process.Value, error)
	}

	// jobManager persists jobs and runs them with bounded parallelism.
	jobManager struct {
		store   *jobstore.Store
		exec    Executor
		sem     *semaphore.Weighted
		workdir string
		logger  *log.Logger
		now     func() time.Time

		// outputsURL is the base of output hrefs. It is relative until
		// the server knows its address.
		outputsURL string

		ctx    context.Context
		cancel context.CancelFunc
		wg     sync.WaitGroup
	}

	// storeReporter writes progress into the job record.
	storeReporter struct {
		ctx    context.Context
		store  *jobstore.Store
		id     string
		logger *log.Logger

		mu      sync.Mutex
		message string
	}
)

func newJobManager(store *jobstore.Store, exec Executor, workdir string, parallel int, logger *log.Logger) *jobManager {
	if parallel < 1 {
		parallel = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &jobManager{
		store:   store,
		exec:    exec,
		sem:     semaphore.NewWeighted(int64(parallel)),
		workdir: workdir,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,

		outputsURL: outputsPath,
	}
}

// create records an accepted job and makes its working directory.
func (m *jobManager) create(ctx context.Context, p *catalog.Process) (jobstore.Job, error) {
	j := jobstore.Job{
		ID:         uuid.NewString(),
		Identifier: p.Identifier,
		Status:     jobstore.StatusAccepted,
		Message:    "Process " + p.Identifier + " accepted",
		Started:    m.now(),
	}
	if err := os.MkdirAll(m.jobDir(j.ID), 0o755); err != nil {
		return jobstore.Job{}, fmt.Errorf("failed to create job directory: %w", err)
	}
	if err := m.store.Create(ctx, j); err != nil {
		return jobstore.Job{}, err
	}
	return j, nil
}

// submit runs the job in the background.
func (m *jobManager) submit(j jobstore.Job, p *catalog.Process, inputs map[string][]string) {
	m.wg.Go(func() {
		m.run(m.ctx, j, p, inputs)
	})
}

// run executes the job, waiting for a free slot first. The final state is
// always written, even when ctx is cancelled.
func (m *jobManager) run(ctx context.Context, j jobstore.Job, p *catalog.Process, inputs map[string][]string) jobstore.Job {
	logger := m.logger.With("job", j.ID, "process", p.Identifier)
	persist := context.WithoutCancel(ctx)

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return m.finish(persist, logger, j, nil, err, "")
	}
	defer m.sem.Release(1)

	rep := &storeReporter{ctx: persist, store: m.store, id: j.ID, logger: logger}
	rep.Update(0, process.MsgStarting)
	logger.Info("job started")

	values, err := m.exec.Execute(ctx, process.Request{
		Process:  p,
		Inputs:   inputs,
		Workdir:  m.jobDir(j.ID),
		Reporter: rep,
	})
	return m.finish(persist, logger, j, values, err, rep.last())
}

func (m *jobManager) finish(ctx context.Context, logger *log.Logger, j jobstore.Job, values []process.Value, runErr error, message string) jobstore.Job {
	j.Status = jobstore.StatusSucceeded
	j.Message = message
	if runErr != nil {
		j.Status = jobstore.StatusFailed
		j.Message = process.ExceptionMessage(runErr)
	}
	j.Percent = 100
	j.Finished = m.now()
	j.Outputs = m.outputs(j.ID, values, logger)

	if err := m.store.Finish(ctx, j.ID, j.Status, j.Message, j.Outputs, j.Finished); err != nil {
		logger.Error("failed to store job result", "error", err)
	}
	logger.Info("job finished", "status", j.Status, "duration", j.Finished.Sub(j.Started).Round(time.Millisecond))
	return j
}

// outputs converts process values to stored outputs; files become hrefs
// below the outputs URL.
func (m *jobManager) outputs(id string, values []process.Value, logger *log.Logger) []jobstore.Output {
	out := make([]jobstore.Output, 0, len(values))
	for _, v := range values {
		o := jobstore.Output{
			Identifier: v.Output.Identifier,
			Title:      v.Output.Title,
			Abstract:   v.Output.Abstract,
			MimeType:   v.Output.MimeType(),
			Complex:    v.Output.Complex(),
			Data:       v.Data,
		}
		if v.File != "" {
			href, err := m.href(id, v.File)
			if err != nil {
				logger.Warn("output not published", "output", o.Identifier, "error", err)
				continue
			}
			o.Href = href
		}
		out = append(out, o)
	}
	return out
}

func (m *jobManager) href(id, file string) (string, error) {
	rel, err := filepath.Rel(m.jobDir(id), file)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside the job directory", file)
	}
	return m.outputsURL + "/" + path.Join(id, rel), nil
}

func (m *jobManager) jobDir(id string) string {
	return filepath.Join(m.workdir, id)
}

// shutdown waits for background jobs. When ctx expires first the jobs are
// cancelled and awaited.
func (m *jobManager) shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.logger.Warn("cancelling running jobs")
		m.cancel()
		<-done
		return fmt.Errorf("jobs cancelled: %w", ctx.Err())
	}
}

func (r *storeReporter) Update(percent int, message string) {
	r.mu.Lock()
	r.message = message
	r.mu.Unlock()

	r.logger.Debug("progress", "percent", percent, "message", message)
	if err := r.store.Update(r.ctx, r.id, jobstore.StatusStarted, percent, message); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("failed to store progress", "error", err)
	}
}

func (r *storeReporter) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.message
}
