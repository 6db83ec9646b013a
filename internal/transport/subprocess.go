package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/schoolwatch/harvester/internal/harvest"
	"github.com/schoolwatch/harvester/internal/telemetry"
)

// SubprocessConfig controls the external fetch binary path.
type SubprocessConfig struct {
	Binary         string
	ExtraArgs      []string
	UserAgent      string
	RequestTimeout time.Duration
	// KillGrace is added on top of RequestTimeout for the hard process
	// kill, so the binary gets a chance to exit on its own --max-time.
	KillGrace   time.Duration
	MaxParallel int
}

// SubprocessFetcher shells out to an external fetch binary (curl-style):
// the body is written to a temporary file and a trailing
// "STATUS FINAL_URL" marker is parsed from stdout. At most MaxParallel
// subprocesses run at once process-wide, FIFO order, independent of the
// per-domain pacing.
//
// This path does not recover ETag/Last-Modified from the subprocess
// output, so sources using it never short-circuit on 304. Known
// limitation, kept on purpose.
type SubprocessFetcher struct {
	cfg    SubprocessConfig
	sem    *fifoSemaphore
	pacer  *Pacer
	logger *zap.Logger

	runCmd func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewSubprocessFetcher constructs the subprocess fetch path.
func NewSubprocessFetcher(cfg SubprocessConfig, pacer *Pacer, logger *zap.Logger) (*SubprocessFetcher, error) {
	if pacer == nil {
		return nil, fmt.Errorf("pacer is required")
	}
	if cfg.Binary == "" {
		cfg.Binary = "curl"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 3
	}
	return &SubprocessFetcher{
		cfg:    cfg,
		sem:    newFIFOSemaphore(cfg.MaxParallel),
		pacer:  pacer,
		logger: logger,
		runCmd: runCommand,
	}, nil
}

// Fetch retrieves a single page via the external binary.
func (f *SubprocessFetcher) Fetch(ctx context.Context, req harvest.FetchRequest) (harvest.FetchResult, error) {
	if err := f.pacer.Wait(ctx, req.URL); err != nil {
		return harvest.FetchResult{}, err
	}
	if err := f.sem.Acquire(ctx); err != nil {
		return harvest.FetchResult{}, err
	}
	defer f.sem.Release()

	tmp, err := os.CreateTemp("", "harvester-body-*")
	if err != nil {
		return harvest.FetchResult{}, fmt.Errorf("create temp body file: %w", err)
	}
	tmpPath := tmp.Name()
	if cerr := tmp.Close(); cerr != nil {
		f.logger.Debug("close temp body file", zap.Error(cerr))
	}
	defer func() {
		if rerr := os.Remove(tmpPath); rerr != nil {
			f.logger.Debug("remove temp body file", zap.Error(rerr))
		}
	}()

	args := []string{
		"-sS", "-L",
		"--max-time", strconv.Itoa(int(f.cfg.RequestTimeout.Seconds())),
		"-o", tmpPath,
		"-w", "\n%{http_code} %{url_effective}",
	}
	if f.cfg.UserAgent != "" {
		args = append(args, "-A", f.cfg.UserAgent)
	}
	for k, v := range req.Headers {
		args = append(args, "-H", fmt.Sprintf("%s: %s", k, v))
	}
	args = append(args, f.cfg.ExtraArgs...)
	args = append(args, req.URL)

	// Hard kill slightly after the binary's own timeout.
	cctx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout+f.cfg.KillGrace)
	defer cancel()

	start := time.Now()
	out, runErr := f.runCmd(cctx, f.cfg.Binary, args...)
	status, finalURL, markerOK := parseTrailerMarker(string(out))
	if runErr != nil && !markerOK {
		return harvest.FetchResult{}, fmt.Errorf("subprocess fetch %s: %w", req.URL, runErr)
	}
	if !markerOK {
		return harvest.FetchResult{}, fmt.Errorf("subprocess fetch %s: missing status marker", req.URL)
	}
	telemetry.ObserveFetch("subprocess", status, time.Since(start))

	if finalURL == "" {
		finalURL = req.URL
	}
	if status < 200 || status > 299 {
		return harvest.FetchResult{StatusCode: status, FinalURL: finalURL},
			&StatusError{StatusCode: status, URL: req.URL}
	}

	body, err := os.ReadFile(tmpPath)
	if err != nil {
		return harvest.FetchResult{}, fmt.Errorf("read fetched body: %w", err)
	}
	return harvest.FetchResult{
		Body:       body,
		StatusCode: status,
		FinalURL:   finalURL,
	}, nil
}

// parseTrailerMarker extracts the final "STATUS FINAL_URL" line appended by
// the fetch binary's write-out template.
func parseTrailerMarker(out string) (int, string, bool) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		fields := strings.Fields(lines[i])
		if len(fields) == 0 {
			continue
		}
		status, err := strconv.Atoi(fields[0])
		if err != nil || status < 100 || status > 599 {
			return 0, "", false
		}
		finalURL := ""
		if len(fields) > 1 {
			finalURL = fields[1]
		}
		return status, finalURL, true
	}
	return 0, "", false
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 2 * time.Second
	return cmd.Output()
}
