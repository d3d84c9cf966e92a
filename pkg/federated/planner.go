package federated

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/observability"
)

// EnvRewriterPath overrides the default rewriter bundle location.
const EnvRewriterPath = "QUARRY_REWRITER_PATH"

// ResolveBundle returns the absolute rewriter bundle path. The explicit
// override wins, then $QUARRY_REWRITER_PATH, then the configured path, then
// config.DefaultRewriterPath. The file must exist.
func ResolveBundle(override string, cfg *config.Config) (string, error) {
	path := override
	if path == "" {
		path = os.Getenv(EnvRewriterPath)
	}
	if path == "" && cfg != nil {
		path = cfg.Federated.RewriterPath
	}
	if path == "" {
		path = config.DefaultRewriterPath
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFileNotFound, "rewriter bundle not found").WithDetail("path", path)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFileNotFound, "rewriter bundle not found").WithDetail("path", path)
	}
	return abs, nil
}

// ProcessPlanner runs the rewriter bundle as a child process per request.
// The request document is written to its stdin and one response document is
// read from its stdout.
type ProcessPlanner struct {
	// Java launches the bundle; defaults to "java"
	Java string
	// Bundle is the rewriter bundle path
	Bundle string
	// Args are inserted before "-jar"
	Args []string
	// Timeout bounds one rewrite; zero disables it
	Timeout time.Duration

	logger *zap.Logger
}

// NewProcessPlanner creates a planner for bundle using cfg's runtime and
// timeout.
func NewProcessPlanner(bundle string, cfg *config.Config) *ProcessPlanner {
	cfg = config.OrDefault(cfg)
	return &ProcessPlanner{
		Java:    cfg.Federated.Java,
		Bundle:  bundle,
		Timeout: cfg.Federated.PlannerTimeout,
		logger:  logger.Get().With(zap.String("component", "process_planner")),
	}
}

// Rewrite launches the bundle and exchanges one request.
func (p *ProcessPlanner) Rewrite(ctx context.Context, sql string, dbMap map[string]*url.URL) ([]Plan, error) {
	req, err := NewRequest(sql, dbMap)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode rewrite request")
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	java := p.Java
	if java == "" {
		java = "java"
	}
	args := append(append([]string(nil), p.Args...), "-jar", p.Bundle)
	cmd := exec.CommandContext(ctx, java, args...)
	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "rewriter process failed").WithDetail("stderr", msg)
	}
	if p.logger != nil {
		p.logger.Debug("rewrite finished", zap.Duration("duration", time.Since(start)))
	}
	return decodeResponse(stdout.Bytes())
}

// HTTPPlanner posts rewrite requests to a planner service.
type HTTPPlanner struct {
	URL    string
	Client *http.Client
}

// NewHTTPPlanner creates a planner for endpoint using cfg's timeout.
func NewHTTPPlanner(endpoint string, cfg *config.Config) *HTTPPlanner {
	cfg = config.OrDefault(cfg)
	return &HTTPPlanner{
		URL:    endpoint,
		Client: &http.Client{Timeout: cfg.Federated.PlannerTimeout},
	}
}

// Rewrite posts one request document. Trace context is propagated in the
// request headers.
func (h *HTTPPlanner) Rewrite(ctx context.Context, sql string, dbMap map[string]*url.URL) ([]Plan, error) {
	req, err := NewRequest(sql, dbMap)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode rewrite request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid planner URL")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	observability.InjectHeaders(ctx, httpReq.Header)

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "planner request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read planner response")
	}
	if resp.StatusCode >= 500 {
		return nil, errors.Newf(errors.ErrorTypeConnection, "planner returned %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		if plans, err := decodeResponse(data); err != nil && errors.IsType(err, errors.ErrorTypeQuery) {
			return plans, err
		}
		return nil, errors.Newf(errors.ErrorTypeQuery, "planner returned %s", resp.Status)
	}
	return decodeResponse(data)
}

func decodeResponse(data []byte) ([]Plan, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeParse, "malformed planner response")
	}
	if resp.Error != "" {
		return nil, errors.New(errors.ErrorTypeQuery, fmt.Sprintf("rewrite failed: %s", resp.Error))
	}
	return resp.Plans, nil
}
