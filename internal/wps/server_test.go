// SPDX-License-Identifier: MPL-2.0

package wps

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/c3s-magic/magicwps/internal/catalog"
	"github.com/c3s-magic/magicwps/internal/config"
	"github.com/c3s-magic/magicwps/internal/datafinder"
	"github.com/c3s-magic/magicwps/internal/jobstore"
	"github.com/c3s-magic/magicwps/internal/process"
	"github.com/c3s-magic/magicwps/internal/testutil"

	"github.com/charmbracelet/log"
	"go.uber.org/goleak"
	"golang.org/x/exp/slices"
)

// Documents decoded by local name; namespaces are ignored.
type (
	testCapabilities struct {
		Processes []struct {
			Identifier string `xml:"Identifier"`
		} `xml:"ProcessOfferings>Process"`
	}

	testDescriptions struct {
		Processes []struct {
			Identifier string `xml:"Identifier"`
			Inputs     []struct {
				Identifier string `xml:"Identifier"`
				MinOccurs  int    `xml:"minOccurs,attr"`
				MaxOccurs  int    `xml:"maxOccurs,attr"`
				DataType   string `xml:"LiteralData>DataType"`
				Allowed    *struct {
					Values  []string `xml:"Value"`
					Minimum string   `xml:"Range>MinimumValue"`
				} `xml:"LiteralData>AllowedValues"`
				Any     *struct{} `xml:"LiteralData>AnyValue"`
				Default string    `xml:"LiteralData>DefaultValue"`
			} `xml:"DataInputs>Input"`
			Outputs []struct {
				Identifier string `xml:"Identifier"`
				MimeType   string `xml:"ComplexOutput>Default>Format>MimeType"`
				DataType   string `xml:"LiteralOutput>DataType"`
			} `xml:"ProcessOutputs>Output"`
		} `xml:"ProcessDescription"`
	}

	testExecuteResponse struct {
		StatusLocation string `xml:"statusLocation,attr"`
		Identifier     string `xml:"Process>Identifier"`
		Status         struct {
			Accepted  *string `xml:"ProcessAccepted"`
			Started   *string `xml:"ProcessStarted"`
			Succeeded *string `xml:"ProcessSucceeded"`
			Failed    *struct {
				Text string `xml:"ExceptionReport>Exception>ExceptionText"`
			} `xml:"ProcessFailed"`
		} `xml:"Status"`
		Outputs []testOutput `xml:"ProcessOutputs>Output"`
	}

	testOutput struct {
		Identifier string `xml:"Identifier"`
		Literal    string `xml:"Data>LiteralData"`
		Complex    struct {
			MimeType string `xml:"mimeType,attr"`
			Text     string `xml:",chardata"`
		} `xml:"Data>ComplexData"`
		Reference struct {
			Href string `xml:"href,attr"`
		} `xml:"Reference"`
	}

	testExceptionReport struct {
		Exception struct {
			Code    string `xml:"exceptionCode,attr"`
			Locator string `xml:"locator,attr"`
			Text    string `xml:"ExceptionText"`
		} `xml:"Exception"`
	}

	// fileExecutor writes a file into the workdir and reports it.
	fileExecutor struct{}

	// slowExecutor advances a fake clock while it runs.
	slowExecutor struct {
		clock *testutil.FakeClock
		took  time.Duration
	}
)

func (e slowExecutor) Execute(_ context.Context, req process.Request) ([]process.Value, error) {
	e.clock.Advance(e.took)
	req.Reporter.Update(100, process.MsgDone)
	return nil, nil
}

func (fileExecutor) Execute(_ context.Context, req process.Request) ([]process.Value, error) {
	file := filepath.Join(req.Workdir, "output", "plot.png")
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(file, []byte("png"), 0o644); err != nil {
		return nil, err
	}
	req.Reporter.Update(100, process.MsgDone)
	return []process.Value{{
		Output: catalog.Output{Identifier: "plot", Title: "Plot", Kind: catalog.OutputReference, Format: "png"},
		File:   file,
	}}, nil
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func newTestServer(t *testing.T, exec Executor, mutate func(*Options)) *Server {
	t.Helper()

	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("catalog.Load() error = %v", err)
	}
	store, err := jobstore.Open("")
	if err != nil {
		t.Fatalf("jobstore.Open() error = %v", err)
	}
	t.Cleanup(func() { testutil.MustClose(t, store) })

	if exec == nil {
		exec = &process.Executor{Catalog: cat, Logger: quietLogger()}
	}
	opts := Options{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			MaxParallelJobs: 2,
			ShutdownTimeout: 5 * time.Second,
		},
		Workdir:  t.TempDir(),
		Catalog:  cat,
		Executor: exec,
		Store:    store,
		Logger:   quietLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { testutil.MustStop(t, s) })
	return s
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := xml.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("xml.Unmarshal() error = %v\n%s", err, rec.Body.String())
	}
}

func TestGetCapabilities(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	rec := serve(t, s, "/wps?service=WPS&request=GetCapabilities")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body:\n%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("Content-Type = %q", ct)
	}

	var doc testCapabilities
	decode(t, rec, &doc)
	var ids []string
	for _, p := range doc.Processes {
		ids = append(ids, p.Identifier)
	}
	if len(ids) != len(s.opts.Catalog.Processes()) {
		t.Errorf("offered %d processes, want %d", len(ids), len(s.opts.Catalog.Processes()))
	}
	for _, want := range []string{"sleep", "meta", "perfmetrics"} {
		if !slices.Contains(ids, want) {
			t.Errorf("process %q not offered", want)
		}
	}
}

func TestDescribeProcess(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	rec := serve(t, s, "/wps?service=WPS&request=DescribeProcess&version=1.0.0&identifier=sleep,meta")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body:\n%s", rec.Code, rec.Body.String())
	}
	var doc testDescriptions
	decode(t, rec, &doc)
	if len(doc.Processes) != 2 {
		t.Fatalf("described %d processes, want 2", len(doc.Processes))
	}

	sleep := doc.Processes[0]
	if sleep.Identifier != "sleep" || len(sleep.Inputs) != 1 {
		t.Fatalf("sleep description = %+v", sleep)
	}
	delay := sleep.Inputs[0]
	if delay.Identifier != "delay" || delay.DataType != "float" || delay.Allowed == nil || delay.Allowed.Minimum != "0" || delay.Default != "10" {
		t.Errorf("delay input = %+v", delay)
	}
	if delay.MinOccurs != 1 || delay.MaxOccurs != 1 {
		t.Errorf("delay occurs = %d..%d, want 1..1", delay.MinOccurs, delay.MaxOccurs)
	}
	if len(sleep.Outputs) != 1 || sleep.Outputs[0].DataType != "string" {
		t.Errorf("sleep outputs = %+v", sleep.Outputs)
	}

	meta := doc.Processes[1]
	if len(meta.Inputs) != 1 || meta.Inputs[0].Allowed == nil || !slices.Contains(meta.Inputs[0].Allowed.Values, "perfmetrics") {
		t.Errorf("meta process input = %+v", meta.Inputs)
	}
	if len(meta.Outputs) != 1 || meta.Outputs[0].MimeType != "application/json" {
		t.Errorf("meta outputs = %+v", meta.Outputs)
	}
}

func TestDescribeProcess_All(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	rec := serve(t, s, "/wps?service=WPS&request=DescribeProcess&identifier=all")
	var doc testDescriptions
	decode(t, rec, &doc)
	if len(doc.Processes) != len(s.opts.Catalog.Processes()) {
		t.Errorf("described %d processes, want %d", len(doc.Processes), len(s.opts.Catalog.Processes()))
	}
}

func TestDescribeProcess_NothingQualifies(t *testing.T) {
	t.Parallel()

	finder, err := datafinder.New(t.Context(), datafinder.Options{
		ArchiveRoot: testutil.MustArchive(t, "BCC/bcc-csm1-1-m/historical/day/atmos/day/r1i1p1/v1/zzz"),
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("datafinder.New() error = %v", err)
	}
	s := newTestServer(t, nil, func(o *Options) { o.Data = finder })

	var doc testDescriptions
	decode(t, serve(t, s, "/wps?service=WPS&request=DescribeProcess&identifier=consecdrydays"), &doc)
	if len(doc.Processes) != 1 {
		t.Fatalf("described %d processes, want 1", len(doc.Processes))
	}
	for _, in := range doc.Processes[0].Inputs {
		if in.Identifier != "model" {
			continue
		}
		if in.Any != nil || in.Allowed == nil || len(in.Allowed.Values) != 0 {
			t.Errorf("model input = %+v, want an empty allowed list", in)
		}
		if in.Default != "" {
			t.Errorf("model default = %q, want none", in.Default)
		}
	}

	rec := serve(t, s, "/wps?service=WPS&request=Execute&identifier=consecdrydays")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Execute status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestWPS_Exceptions(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	tests := []struct {
		name    string
		target  string
		status  int
		code    string
		locator string
	}{
		{"missing service", "/wps?request=GetCapabilities", 400, CodeMissingParameterValue, "service"},
		{"unsupported operation", "/wps?service=WPS&request=Transaction", 501, CodeOperationNotSupported, "request"},
		{"unknown process", "/wps?service=WPS&request=DescribeProcess&identifier=nope", 400, CodeInvalidParameterValue, "identifier"},
		{"execute unknown process", "/wps?service=WPS&request=Execute&identifier=nope", 400, CodeInvalidParameterValue, "identifier"},
		{"execute all", "/wps?service=WPS&request=Execute&identifier=all", 400, CodeInvalidParameterValue, "identifier"},
		{"unknown input", "/wps?service=WPS&request=Execute&identifier=sleep&DataInputs=speed=1", 400, CodeInvalidParameterValue, "speed"},
		{"out of range", "/wps?service=WPS&request=Execute&identifier=sleep&DataInputs=delay=-1", 400, CodeInvalidParameterValue, "delay"},
		{"unknown job", "/status/does-not-exist", 404, CodeInvalidParameterValue, "id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, s, tt.target)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var report testExceptionReport
			decode(t, rec, &report)
			got := report.Exception
			if got.Code != tt.code || got.Locator != tt.locator {
				t.Errorf("exception = %s/%s, want %s/%s", got.Code, got.Locator, tt.code, tt.locator)
			}
			if got.Text == "" {
				t.Error("exception text is empty")
			}
		})
	}
}

func TestExecute_Sync(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	rec := serve(t, s, "/wps?service=WPS&request=Execute&version=1.0.0&identifier=sleep&DataInputs=delay=0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body:\n%s", rec.Code, rec.Body.String())
	}
	var doc testExecuteResponse
	decode(t, rec, &doc)
	if doc.Status.Succeeded == nil || *doc.Status.Succeeded != process.MsgDone {
		t.Fatalf("status = %+v, want succeeded", doc.Status)
	}
	if doc.StatusLocation != "" {
		t.Errorf("statusLocation = %q, want none", doc.StatusLocation)
	}
	if len(doc.Outputs) != 1 || doc.Outputs[0].Identifier != "sleep_output" || doc.Outputs[0].Literal != "done sleeping" {
		t.Errorf("outputs = %+v", doc.Outputs)
	}
}

func TestExecute_Meta(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	rec := serve(t, s, "/wps?service=WPS&request=Execute&identifier=meta&DataInputs=process=perfmetrics")
	var doc testExecuteResponse
	decode(t, rec, &doc)
	if doc.Status.Succeeded == nil {
		t.Fatalf("status = %+v, want succeeded", doc.Status)
	}
	if len(doc.Outputs) != 1 {
		t.Fatalf("outputs = %+v", doc.Outputs)
	}
	drs := doc.Outputs[0]
	if drs.Complex.MimeType != "application/json" || !strings.Contains(drs.Complex.Text, `"root"`) {
		t.Errorf("drs output = %+v", drs)
	}
}

func TestExecute_AsyncAndStatus(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	rec := serve(t, s, "/wps?service=WPS&request=Execute&identifier=sleep&storeExecuteResponse=true&status=true&DataInputs=delay=0.02")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body:\n%s", rec.Code, rec.Body.String())
	}
	var accepted testExecuteResponse
	decode(t, rec, &accepted)
	if accepted.Status.Accepted == nil {
		t.Fatalf("status = %+v, want accepted", accepted.Status)
	}
	_, id, ok := strings.Cut(accepted.StatusLocation, "/status/")
	if !ok || id == "" {
		t.Fatalf("statusLocation = %q", accepted.StatusLocation)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		var doc testExecuteResponse
		decode(t, serve(t, s, "/status/"+id), &doc)
		if doc.Status.Succeeded != nil {
			if len(doc.Outputs) != 1 || doc.Outputs[0].Literal != "done sleeping" {
				t.Errorf("outputs = %+v", doc.Outputs)
			}
			break
		}
		if doc.Status.Failed != nil {
			t.Fatalf("job failed: %s", doc.Status.Failed.Text)
		}
		if time.Now().After(deadline) {
			t.Fatal("job did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExecute_OutputsServed(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, fileExecutor{}, nil)
	rec := serve(t, s, "/wps?service=WPS&request=Execute&identifier=sleep")
	var doc testExecuteResponse
	decode(t, rec, &doc)
	if len(doc.Outputs) != 1 {
		t.Fatalf("outputs = %+v", doc.Outputs)
	}
	href := doc.Outputs[0].Reference.Href
	// Relative until the server is started.
	path, ok := strings.CutPrefix(href, "/outputs/")
	if !ok || !strings.HasSuffix(path, "/output/plot.png") {
		t.Fatalf("href = %q", href)
	}

	got := serve(t, s, "/outputs/"+path)
	if got.Code != http.StatusOK || got.Body.String() != "png" {
		t.Errorf("GET %s = %d %q", href, got.Code, got.Body.String())
	}
}

func TestHealth_RequestID(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	rec := serve(t, s, "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("GET /health = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("response has no request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want abc-123", got)
	}
}

func TestServer_Lifecycle(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	if s.State() != StateCreated {
		t.Fatalf("State() = %s, want created", s.State())
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Fatalf("State() = %s, want running", s.State())
	}
	if !strings.HasPrefix(s.URL(), "http://127.0.0.1:") || s.Address() == "" {
		t.Errorf("URL() = %q, Address() = %q", s.URL(), s.Address())
	}

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	resp, err := client.Get(s.URL() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d", resp.StatusCode)
	}

	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", s.State())
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestServer_StartCancelled(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() error = %v, want context.Canceled", err)
	}
	if s.State() != StateFailed {
		t.Errorf("State() = %s, want failed", s.State())
	}
}

func TestServer_StopCancelsJobs(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, func(o *Options) {
		o.Server.ShutdownTimeout = 50 * time.Millisecond
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	rec := serve(t, s, "/wps?service=WPS&request=Execute&identifier=sleep&storeExecuteResponse=true&status=true&DataInputs=delay=30")
	var accepted testExecuteResponse
	decode(t, rec, &accepted)
	_, id, _ := strings.Cut(accepted.StatusLocation, "/status/")

	if err := s.Stop(); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() error = %v, want deadline exceeded", err)
	}
	job, err := s.opts.Store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != jobstore.StatusFailed || !strings.HasPrefix(job.Message, "exception occured: ") {
		t.Errorf("job = %s %q, want failed", job.Status, job.Message)
	}
}

func TestServer_StartFailsStaleJobs(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	stale := jobstore.Job{ID: "stale", Identifier: "sleep", Status: jobstore.StatusStarted, Started: time.Now()}
	if err := s.opts.Store.Create(context.Background(), stale); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	job, err := s.opts.Store.Get(context.Background(), "stale")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != jobstore.StatusFailed || job.Message != restartMessage {
		t.Errorf("job = %s %q", job.Status, job.Message)
	}
}

func TestJobManager_Href(t *testing.T) {
	t.Parallel()

	m := newJobManager(nil, fileExecutor{}, "/jobs", 1, quietLogger())
	defer m.cancel()
	m.outputsURL = "http://host/outputs"

	got, err := m.href("42", "/jobs/42/output/plots/a b.png")
	if err != nil {
		t.Fatalf("href() error = %v", err)
	}
	if want := "http://host/outputs/42/output/plots/a b.png"; got != want {
		t.Errorf("href() = %q, want %q", got, want)
	}
	if _, err := m.href("42", "/jobs/43/secret.txt"); err == nil {
		t.Error("href() outside the job directory succeeded")
	}
}

func TestJobManager_RunTimestamps(t *testing.T) {
	t.Parallel()

	store, err := jobstore.Open("")
	if err != nil {
		t.Fatalf("jobstore.Open() error = %v", err)
	}
	defer testutil.MustClose(t, store)

	clock := testutil.NewFakeClock(time.Date(2017, 3, 1, 9, 0, 0, 0, time.UTC))
	m := newJobManager(store, slowExecutor{clock: clock, took: 3 * time.Minute}, t.TempDir(), 1, quietLogger())
	defer m.cancel()
	m.now = clock.Now

	p := &catalog.Process{Identifier: "sleep", Kind: catalog.KindSleep}
	job, err := m.create(context.Background(), p)
	if err != nil {
		t.Fatalf("create() error = %v", err)
	}
	done := m.run(context.Background(), job, p, nil)
	if done.Status != jobstore.StatusSucceeded || done.Message != process.MsgDone {
		t.Fatalf("run() = %s %q", done.Status, done.Message)
	}

	stored, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !stored.Started.Equal(clock.Now().Add(-3 * time.Minute)) {
		t.Errorf("Started = %v", stored.Started)
	}
	if got := stored.Finished.Sub(stored.Started); got != 3*time.Minute {
		t.Errorf("Finished - Started = %v, want 3m", got)
	}
}
