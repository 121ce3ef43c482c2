// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/c3s-magic/magicwps/internal/catalog"
	"github.com/c3s-magic/magicwps/internal/config"
	"github.com/c3s-magic/magicwps/internal/issue"
	"github.com/c3s-magic/magicwps/internal/process"
	"github.com/c3s-magic/magicwps/internal/testutil"

	"github.com/google/go-cmp/cmp"
)

// staticProvider returns a fixed configuration without touching the disk.
type staticProvider struct {
	cfg *config.Config
}

func (p staticProvider) Load(_ context.Context, _ config.LoadOptions) (*config.Config, error) {
	return p.cfg, nil
}

func (p staticProvider) LoadWithPath(_ context.Context, _ config.LoadOptions) (*config.Config, string, error) {
	return p.cfg, "", nil
}

func runCLI(t *testing.T, cfg *config.Config, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	var out, errOut bytes.Buffer
	app := NewApp(Dependencies{Config: staticProvider{cfg: cfg}, Stdout: &out, Stderr: &errOut})
	root := NewRootCommand(app)
	root.SetArgs(args)
	err = root.ExecuteContext(t.Context())
	return out.String(), errOut.String(), err
}

func TestGetVersionString(t *testing.T) {
	// Not parallel: subtests mutate package-level Version/Commit/BuildDate vars.

	t.Run("ldflags version takes priority", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "v1.2.3"
		Commit = "abc1234"
		BuildDate = "2025-06-15T10:00:00Z"

		got := getVersionString()
		want := "v1.2.3 (commit: abc1234, built: 2025-06-15T10:00:00Z)"
		if got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})

	t.Run("dev build", func(t *testing.T) {
		origVersion := Version
		t.Cleanup(func() { Version = origVersion })

		Version = "dev"
		if got, want := getVersionString(), "dev (built from source)"; got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})
}

func TestRootCommand_Subcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCommand(NewApp(Dependencies{Config: staticProvider{cfg: config.DefaultConfig()}}))
	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	want := []string{"config", "data", "execute", "processes", "serve", "version"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("subcommands mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatErrorForDisplay(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")
	if got := formatErrorForDisplay(plain, false); got != "boom" {
		t.Errorf("formatErrorForDisplay(plain) = %q", got)
	}

	actionable := processNotFound("nope")
	got := formatErrorForDisplay(actionable, false)
	var ae *issue.ActionableError
	if !errors.As(actionable, &ae) {
		t.Fatalf("processNotFound() = %T, want *issue.ActionableError", actionable)
	}
	if got != ae.Format(false) {
		t.Errorf("formatErrorForDisplay() = %q, want %q", got, ae.Format(false))
	}
	if !strings.Contains(got, "processes list") {
		t.Errorf("formatErrorForDisplay() = %q, want the list suggestion", got)
	}
}

//nolint:paralleltest // commands install the default logger
func TestConfigDump(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Port = 5123

	out, _, err := runCLI(t, cfg, "config", "dump")
	if err != nil {
		t.Fatalf("config dump: %v", err)
	}
	if out != config.GenerateCUE(cfg) {
		t.Errorf("config dump printed\n%s\nwant\n%s", out, config.GenerateCUE(cfg))
	}

	out, _, err = runCLI(t, cfg, "config", "dump", "--format", "toml")
	if err != nil {
		t.Fatalf("config dump --format toml: %v", err)
	}
	want, err := config.GenerateTOML(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if out != want {
		t.Errorf("config dump --format toml printed\n%s\nwant\n%s", out, want)
	}

	if _, _, err := runCLI(t, cfg, "config", "dump", "--format", "yaml"); err == nil {
		t.Error("config dump --format yaml succeeded, want error")
	}
}

//nolint:paralleltest // commands install the default logger
func TestConfigShow(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Data.ArchiveRoot = "/data/cmip5/output1"

	out, _, err := runCLI(t, cfg, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"Current Configuration", "(using defaults)", "/data/cmip5/output1", "localhost:5000"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show output missing %q:\n%s", want, out)
		}
	}
}

//nolint:paralleltest // commands install the default logger
func TestProcessesList(t *testing.T) {
	out, _, err := runCLI(t, nil, "processes", "list")
	if err != nil {
		t.Fatalf("processes list: %v", err)
	}
	for _, want := range []string{"sleep", "Sleep Process", catalog.MetaProcess, "perfmetrics"} {
		if !strings.Contains(out, want) {
			t.Errorf("processes list output missing %q", want)
		}
	}
}

//nolint:paralleltest // commands install the default logger
func TestProcessesDescribe(t *testing.T) {
	out, _, err := runCLI(t, nil, "processes", "describe", "sleep", "--plain")
	if err != nil {
		t.Fatalf("processes describe: %v", err)
	}
	for _, want := range []string{"# Sleep Process", "| `delay` | float | 1..1 | 10 | from 0 |", "| `sleep_output` |"} {
		if !strings.Contains(out, want) {
			t.Errorf("processes describe output missing %q:\n%s", want, out)
		}
	}

	_, _, err = runCLI(t, nil, "processes", "describe", "nope")
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Errorf("describe unknown process error = %v, want ActionableError", err)
	}
}

func TestDescribeMarkdown_MetaAllowed(t *testing.T) {
	t.Parallel()

	cat, err := catalog.Load()
	if err != nil {
		t.Fatal(err)
	}
	p, ok := cat.Get(catalog.MetaProcess)
	if !ok {
		t.Fatal("meta process missing")
	}
	md := describeMarkdown(p, process.Binder{})
	if !strings.Contains(md, "perfmetrics") {
		t.Errorf("meta description does not offer perfmetrics:\n%s", md)
	}
	if !strings.Contains(md, "application/json") {
		t.Errorf("meta description does not list the json output:\n%s", md)
	}
}

//nolint:paralleltest // commands install the default logger
func TestDataCommands_RequireArchiveRoot(t *testing.T) {
	for _, args := range [][]string{{"data", "scan"}, {"data", "tree"}, {"data", "facets", "--variable", "tas"}} {
		_, _, err := runCLI(t, nil, args...)
		var ae *issue.ActionableError
		if !errors.As(err, &ae) {
			t.Errorf("%v error = %v, want ActionableError", args, err)
		}
	}
}

//nolint:paralleltest // commands install the default logger
func TestDataCommands(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Data.ArchiveRoot = testutil.MustArchive(t,
		"MPI-M/MPI-ESM-LR/historical/mon/atmos/Amon/r1i1p1/v1/tas",
		"MPI-M/MPI-ESM-LR/historical/mon/atmos/Amon/r1i1p1/v1/pr",
		"NCC/NorESM1-M/rcp85/mon/atmos/Amon/r2i1p1/v1/pr",
	)

	out, _, err := runCLI(t, cfg, "data", "facets", "--variable", "tas", "--frequency", "mon")
	if err != nil {
		t.Fatalf("data facets: %v", err)
	}
	if !strings.Contains(out, "MPI-ESM-LR") || strings.Contains(out, "NorESM1-M") {
		t.Errorf("data facets output:\n%s", out)
	}

	out, _, err = runCLI(t, cfg, "data", "tree", "--variable", "pr")
	if err != nil {
		t.Fatalf("data tree: %v", err)
	}
	for _, want := range []string{`"name": "root"`, `"name": "NorESM1-M"`, `"name": "r1i1p1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("data tree output missing %s:\n%s", want, out)
		}
	}
	if strings.Contains(out, `"name": "pr"`) {
		t.Errorf("pruned tree still holds variable leaves:\n%s", out)
	}

	out, _, err = runCLI(t, cfg, "data", "scan")
	if err != nil {
		t.Fatalf("data scan: %v", err)
	}
	if !strings.Contains(out, cfg.Data.ArchiveRoot) {
		t.Errorf("data scan output = %q", out)
	}
}

//nolint:paralleltest // commands install the default logger
func TestExecuteCommand(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte("<wps:ExecuteResponse/>"))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, nil, "execute", "perfmetrics",
		"--wps-service", host, "--port", port,
		"--model", "MPI-ESM-LR", "--experiment", "historical", "--ensemble", "r1i1p1",
		"--start-year", "1990", "--end-year", "2000")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "<wps:ExecuteResponse/>") {
		t.Errorf("execute output = %q, want the response body", out)
	}
	if !strings.Contains(gotQuery, "identifier=perfmetrics") || !strings.Contains(gotQuery, "model=MPI-ESM-LR") {
		t.Errorf("query = %q", gotQuery)
	}
}

//nolint:paralleltest // commands install the default logger
func TestExecuteCommand_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = runCLI(t, nil, "execute", "sleep", "--wps-service", host, "--port", port)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitRequestFailed {
		t.Errorf("execute error = %v, want ExitError with code %d", err, exitRequestFailed)
	}
}
