// SPDX-License-Identifier: MPL-2.0

package wps

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/c3s-magic/magicwps/internal/catalog"
	"github.com/c3s-magic/magicwps/internal/config"
	"github.com/c3s-magic/magicwps/internal/issue"
	"github.com/c3s-magic/magicwps/internal/jobstore"
	"github.com/c3s-magic/magicwps/internal/logging"
	"github.com/c3s-magic/magicwps/internal/process"

	"github.com/charmbracelet/log"
)

const (
	startupTimeout    = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	contentTypeXML    = "text/xml; charset=utf-8"
	outputsPath       = "/outputs"
)

type (
	// Options wires a Server.
	Options struct {
		Server config.ServerConfig
		// Workdir holds one directory per job.
		Workdir  string
		Catalog  *catalog.Catalog
		Data     process.DataSource
		Executor Executor
		Store    *jobstore.Store
		// Logger defaults to the "wps" prefixed default logger.
		Logger *log.Logger
	}

	// Server is a single-use WPS HTTP server.
	Server struct {
		opts   Options
		binder process.Binder
		jobs   *jobManager
		logger *log.Logger
		life   *lifecycle

		mu       sync.RWMutex
		listener net.Listener
		http     *http.Server
		baseURL  string
	}
)

// New validates opts and builds a server in the created state.
func New(opts Options) (*Server, error) {
	if opts.Catalog == nil {
		return nil, errors.New("wps: catalog is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("wps: executor is required")
	}
	if opts.Store == nil {
		return nil, errors.New("wps: job store is required")
	}
	if opts.Workdir == "" {
		return nil, errors.New("wps: jobs workdir is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.For("wps")
	}
	return &Server{
		opts:   opts,
		binder: process.Binder{Data: opts.Data},
		jobs:   newJobManager(opts.Store, opts.Executor, opts.Workdir, opts.Server.MaxParallelJobs, logger.WithPrefix("jobs")),
		logger: logger,
		life:   newLifecycle(),
	}, nil
}

// State returns the lifecycle state.
func (s *Server) State() State {
	return s.life.current()
}

// IsRunning reports whether the server accepts requests.
func (s *Server) IsRunning() bool {
	return s.State() == StateRunning
}

// Err delivers asynchronous serve failures.
func (s *Server) Err() <-chan error {
	return s.life.errCh
}

// Start listens on the configured address and returns once requests are
// being served.
func (s *Server) Start(ctx context.Context) error {
	if err := s.life.starting(ctx); err != nil {
		return err
	}

	if n, err := s.opts.Store.FailUnfinished(ctx, restartMessage, time.Now()); err != nil {
		s.logger.Warn("failed to close stale jobs", "error", err)
	} else if n > 0 {
		s.logger.Info("closed stale jobs", "count", n)
	}

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	addr := net.JoinHostPort(s.opts.Server.Host, strconv.Itoa(s.opts.Server.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(startupCtx, "tcp", addr)
	if err != nil {
		err = issue.NewErrorContext().
			WithOperation("start WPS server").
			WithResource(addr).
			WithSuggestion("Check that no other service listens on this port").
			WithSuggestion("Change server.port or pass --port").
			WithIssue(issue.ServerStartFailedId).
			Wrap(err).
			BuildError()
		s.life.fail(err)
		return err
	}

	baseURL := strings.TrimRight(s.opts.Server.URL, "/")
	if baseURL == "" {
		baseURL = "http://" + ln.Addr().String()
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.mu.Lock()
	s.listener = ln
	s.http = srv
	s.baseURL = baseURL
	s.jobs.outputsURL = baseURL + outputsPath
	s.mu.Unlock()

	s.life.wg.Go(func() { s.serve(srv, ln) })

	select {
	case <-s.life.startedCh:
		s.logger.Info("WPS server listening", "url", baseURL+"/wps")
		return nil
	case err := <-s.life.errCh:
		return err
	case <-startupCtx.Done():
		s.life.fail(fmt.Errorf("server start timeout: %w", startupCtx.Err()))
		_ = ln.Close()
		s.life.wg.Wait()
		return s.life.err()
	}
}

func (s *Server) serve(srv *http.Server, ln net.Listener) {
	s.life.running()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		s.life.fail(fmt.Errorf("serve: %w", err))
	}
}

// Stop drains requests and waits for background jobs up to the configured
// shutdown timeout, after which running jobs are cancelled. Calling Stop
// again is a no-op; on a server that never started or failed it only
// cancels the jobs.
func (s *Server) Stop() error {
	if !s.life.stopping() {
		if s.State() != StateStopping {
			s.jobs.cancel()
			s.jobs.wg.Wait()
		}
		s.life.wg.Wait()
		return nil
	}

	timeout := s.opts.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.mu.RLock()
	srv := s.http
	s.mu.RUnlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.jobs.shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.life.wg.Wait()
	s.life.stopped()
	s.logger.Info("WPS server stopped")
	return errors.Join(errs...)
}

// Wait blocks until ctx is done or the server fails, then stops it.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case err := <-s.life.errCh:
		_ = s.Stop()
		return err
	}
	return s.Stop()
}

// URL returns the base URL once started.
func (s *Server) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL
}

// Address returns the listen address once started.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler returns the routed, logging handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /wps", s.handleWPS)
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.Handle("GET "+outputsPath+"/", http.StripPrefix(outputsPath+"/", http.FileServer(http.Dir(s.opts.Workdir))))
	mux.HandleFunc("GET /health", handleHealth)
	return logRequests(s.logger, mux)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleWPS(w http.ResponseWriter, r *http.Request) {
	req, err := parseKVP(r.URL.RawQuery)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch req.Operation {
	case opGetCapabilities:
		s.writeXML(w, http.StatusOK, capabilities(s.opts.Catalog, s.wpsURL()))
	case opDescribeProcess:
		ps, err := s.lookup(req.Identifiers)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeXML(w, http.StatusOK, descriptions(ps, s.binder.Allowed))
	case opExecute:
		s.execute(w, r, req)
	}
}

func (s *Server) lookup(ids []string) ([]*catalog.Process, error) {
	if len(ids) == 1 && strings.EqualFold(ids[0], allProcesses) {
		return s.opts.Catalog.Processes(), nil
	}
	ps := make([]*catalog.Process, 0, len(ids))
	for _, id := range ids {
		p, ok := s.opts.Catalog.Get(id)
		if !ok {
			return nil, invalidParameter("identifier", "unknown process %q", id)
		}
		ps = append(ps, p)
	}
	return ps, nil
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, req kvpRequest) {
	p, ok := s.opts.Catalog.Get(req.Identifiers[0])
	if !ok {
		s.writeError(w, invalidParameter("identifier", "unknown process %q", req.Identifiers[0]))
		return
	}

	inputs, err := s.binder.Bind(p, req.Inputs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.jobs.create(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	logger := s.logger.With("job", job.ID, "process", p.Identifier)

	if req.Store && req.Status {
		logger.Info("job accepted")
		s.jobs.submit(job, p, inputs)
		s.writeXML(w, http.StatusOK, executeResponse(p, job, s.wpsURL(), s.statusURL(job.ID)))
		return
	}

	logger.Info("running job synchronously")
	job = s.jobs.run(r.Context(), job, p, inputs)
	statusURL := ""
	if req.Store {
		statusURL = s.statusURL(job.ID)
	}
	s.writeXML(w, http.StatusOK, executeResponse(p, job, s.wpsURL(), statusURL))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.opts.Store.Get(r.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		s.writeError(w, &RequestError{
			Code:    CodeInvalidParameterValue,
			Locator: "id",
			Text:    "unknown job " + id,
			Status:  http.StatusNotFound,
		})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	p, ok := s.opts.Catalog.Get(job.Identifier)
	if !ok {
		p = &catalog.Process{Identifier: job.Identifier, Title: job.Identifier}
	}
	s.writeXML(w, http.StatusOK, executeResponse(p, job, s.wpsURL(), s.statusURL(id)))
}

func (s *Server) wpsURL() string {
	return s.URL() + "/wps"
}

func (s *Server) statusURL(id string) string {
	return s.URL() + "/status/" + id
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	re := asRequestError(err)
	if re.Code == CodeNoApplicableCode {
		s.logger.Error("request failed", "error", err)
	}
	s.writeXML(w, re.HTTPStatus(), re.report())
}

func (s *Server) writeXML(w http.ResponseWriter, status int, doc any) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		s.logger.Error("failed to encode response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeXML)
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
