// SPDX-License-Identifier: MPL-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/c3s-magic/magicwps/internal/logging"

	"github.com/charmbracelet/log"
)

const (
	DefaultHost   = "localhost"
	DefaultPort   = 5000
	DefaultScheme = "http"

	defaultTimeout = 5 * time.Minute
)

// ErrRequestFailed is wrapped by StatusError.
var ErrRequestFailed = errors.New("request failed")

type (
	// Request describes one Execute call. Models, experiments and ensembles
	// are paired by position; they are only sent when all three are given.
	// Zero years are omitted.
	Request struct {
		Scheme      string
		Host        string
		Port        int
		Process     string
		Models      []string
		Experiments []string
		Ensembles   []string
		StartYear   int
		EndYear     int
	}

	// Response is a successful reply.
	Response struct {
		URL  string
		Body string
	}

	// StatusError reports a non-200 reply.
	StatusError struct {
		StatusCode int
		Body       string
	}

	// Client issues WPS requests.
	Client struct {
		http   *http.Client
		logger *log.Logger
	}
)

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Body)
}

// Unwrap returns ErrRequestFailed.
func (e *StatusError) Unwrap() error {
	return ErrRequestFailed
}

// New creates a Client. A nil logger uses the "client" prefixed default.
func New(logger *log.Logger) *Client {
	if logger == nil {
		logger = logging.For("client")
	}
	return &Client{
		http:   &http.Client{Timeout: defaultTimeout},
		logger: logger,
	}
}

// URL builds the Execute URL of r. DataInputs keeps its ';' separators
// unescaped; values are escaped.
func (r Request) URL() string {
	scheme, host, port := r.Scheme, r.Host, r.Port
	if scheme == "" {
		scheme = DefaultScheme
	}
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}

	var inputs []string
	add := func(k, v string) {
		inputs = append(inputs, k+"="+url.QueryEscape(v))
	}
	if len(r.Models) > 0 && len(r.Experiments) > 0 && len(r.Ensembles) > 0 {
		n := min(len(r.Models), len(r.Experiments), len(r.Ensembles))
		for i := range n {
			add("model", r.Models[i])
			add("experiment", r.Experiments[i])
			add("ensemble", r.Ensembles[i])
		}
	}
	if r.StartYear != 0 {
		add("start_year", strconv.Itoa(r.StartYear))
	}
	if r.EndYear != 0 {
		add("end_year", strconv.Itoa(r.EndYear))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s://%s:%d/wps?service=wps&request=Execute&version=1.0.0&identifier=%s",
		scheme, host, port, url.QueryEscape(r.Process))
	b.WriteString("&storeExecuteResponse=true&status=true&DataInputs=")
	b.WriteString(strings.Join(inputs, ";"))
	return b.String()
}

// Execute submits r and returns the response document.
func (c *Client) Execute(ctx context.Context, r Request) (*Response, error) {
	if r.Process == "" {
		return nil, errors.New("process identifier is required")
	}
	query := r.URL()
	c.logger.Info("executing query", "query", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("the request failed", "status", resp.StatusCode)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	c.logger.Info("the request was successfully submitted")
	return &Response{URL: query, Body: string(body)}, nil
}
