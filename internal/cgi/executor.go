// Package cgi runs a program per request, feeding it the request body on
// stdin and relaying its stdout back to the client.
//
// The request body is always relayed in full before any output is read. A
// program that fills its stdout pipe before draining stdin blocks until the
// configured timeout (if any) kills it.
package cgi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"tinyhttpd-go/internal/config"
	"tinyhttpd-go/internal/metrics"
	"tinyhttpd-go/internal/model"
	"tinyhttpd-go/internal/wire"
)

// waitDelay bounds how long Wait lingers on inherited pipes after the
// program has been killed.
const waitDelay = 2 * time.Second

var (
	// ErrSpawn is returned when the pipes or the process cannot be created.
	ErrSpawn = errors.New("cgi: cannot start program")
	// ErrShortBody is returned when the client sends fewer body bytes than
	// its Content-Length announced.
	ErrShortBody = errors.New("cgi: request body shorter than Content-Length")
	// ErrProgramFailed is returned when the program exits unsuccessfully.
	ErrProgramFailed = errors.New("cgi: program failed")
	// ErrClientWrite is returned when relaying output to the client fails.
	ErrClientWrite = errors.New("cgi: write to client")
)

// Result describes what was sent for one execution.
type Result struct {
	Status   int // 0 when nothing was sent
	BytesOut int64
	Outcome  string
	ExitCode int
}

// Executor spawns CGI programs.
type Executor struct {
	chunkSize   int
	bufferLimit int
	timeout     time.Duration
	inheritEnv  []string
	stderr      io.Writer
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewExecutor creates an Executor. The metrics parameter is optional; pass
// nil to disable recording.
func NewExecutor(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Executor {
	return &Executor{
		chunkSize:   cfg.Server.ChunkSize,
		bufferLimit: cfg.CGI.ResponseBuffer(),
		timeout:     time.Duration(cfg.CGI.TimeoutSeconds) * time.Second,
		inheritEnv:  cfg.CGI.InheritEnv,
		stderr:      os.Stderr,
		logger:      logger.With("component", "cgi"),
		metrics:     m,
	}
}

// Execute runs inv and writes the whole response to w. body must be
// positioned at the first byte after the request head.
//
// Output up to the configured buffer bound is held back so a failing
// program can still be answered with 500. Past the bound the 200 status
// line is committed and later failures are only logged.
func (e *Executor) Execute(ctx context.Context, w io.Writer, body io.Reader, inv *model.CGIInvocation) (Result, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, inv.ProgramPath)
	cmd.Dir = filepath.Dir(inv.ProgramPath)
	cmd.Env = environ(inv, e.inheritEnv)
	cmd.Stderr = e.stderr
	cmd.WaitDelay = waitDelay
	configureProcess(cmd)

	// stdin: server writes inW, program reads inR.
	// stdout: program writes outW, server reads outR.
	inR, inW, err := os.Pipe()
	if err != nil {
		return e.spawnFailed(w, inv, fmt.Errorf("stdin pipe: %w", err))
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		_, _ = inR.Close(), inW.Close()
		return e.spawnFailed(w, inv, fmt.Errorf("stdout pipe: %w", err))
	}
	cmd.Stdin = inR
	cmd.Stdout = outW

	err = cmd.Start()
	// The child owns its ends now; the parent copies are closed either way
	// so stdout reaches EOF when the program exits.
	_, _ = inR.Close(), outW.Close()
	if err != nil {
		_, _ = inW.Close(), outR.Close()
		return e.spawnFailed(w, inv, err)
	}
	stdin, stdout := inW, outR
	defer func() { _ = stdout.Close() }()
	defer func() { _ = stdin.Close() }()

	log := e.logger.With("program", inv.ProgramPath, "pid", cmd.Process.Pid)
	log.Debug("program started", "method", inv.Method.String())

	// Reap on every path, including panics further up the relay.
	reaped := false
	defer func() {
		if !reaped {
			cancel()
			_ = cmd.Wait()
		}
	}()

	res := Result{}
	rw := &responseWriter{w: w, limit: e.bufferLimit}
	if e.bufferLimit == 0 {
		if err := rw.commit(); err != nil {
			res.Status, res.BytesOut = rw.status, rw.written
			return e.abort(cmd, &reaped, cancel, res, start, fmt.Errorf("%w: %w", ErrClientWrite, err))
		}
	}

	if inv.Method == model.MethodPost && inv.ContentLength > 0 {
		sink := &stdinSink{w: stdin}
		n, err := io.CopyBuffer(sink, io.LimitReader(body, inv.ContentLength), make([]byte, e.chunkSize))
		if err == nil && n < inv.ContentLength {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			_ = stdin.Close()
			res.Status, res.BytesOut = rw.status, rw.written
			return e.abort(cmd, &reaped, cancel, res, start,
				fmt.Errorf("%w: relayed %d of %d bytes: %w", ErrShortBody, n, inv.ContentLength, err))
		}
		if sink.err != nil {
			log.Debug("program stopped reading stdin", "err", sink.err)
		}
	}
	_ = stdin.Close()

	if _, err := wire.CopyChunked(rw, stdout, e.chunkSize); err != nil {
		res.Status, res.BytesOut = rw.status, rw.written
		if errors.Is(err, errClient) {
			return e.abort(cmd, &reaped, cancel, res, start, fmt.Errorf("%w: %w", ErrClientWrite, rw.err))
		}
		log.Warn("reading program output", "err", err)
	}

	waitErr := cmd.Wait()
	reaped = true
	res.Outcome, res.ExitCode = classify(ctx, waitErr)
	e.metrics.ObserveCGI(res.Outcome, time.Since(start).Seconds())

	if res.Outcome == metrics.OutcomeOK {
		err = rw.commit()
		res.Status, res.BytesOut = rw.status, rw.written
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrClientWrite, err)
		}
		log.Debug("program exited", "outcome", res.Outcome)
		return res, nil
	}

	cause := waitErr
	if cause == nil {
		cause = ctx.Err()
	}
	failure := fmt.Errorf("%w: %s (exit code %d): %w", ErrProgramFailed, res.Outcome, res.ExitCode, cause)
	if rw.committed {
		log.Warn("program failed after response was committed",
			"outcome", res.Outcome, "exit_code", res.ExitCode)
		res.Status, res.BytesOut = rw.status, rw.written
		return res, failure
	}

	log.Warn("program failed", "outcome", res.Outcome, "exit_code", res.ExitCode)
	n, err := wire.WriteError(w, wire.StatusInternalServerError)
	res.Status, res.BytesOut = wire.StatusInternalServerError, int64(n)
	if err != nil {
		return res, errors.Join(failure, fmt.Errorf("%w: %w", ErrClientWrite, err))
	}
	return res, failure
}

func (e *Executor) spawnFailed(w io.Writer, inv *model.CGIInvocation, err error) (Result, error) {
	e.logger.Error("cannot start program", "program", inv.ProgramPath, "err", err)
	e.metrics.ObserveCGI(metrics.OutcomeSpawn, 0)

	res := Result{Status: wire.StatusInternalServerError, Outcome: metrics.OutcomeSpawn, ExitCode: -1}
	n, werr := wire.WriteError(w, wire.StatusInternalServerError)
	res.BytesOut = int64(n)
	if werr != nil {
		return res, errors.Join(fmt.Errorf("%w: %w", ErrSpawn, err), werr)
	}
	return res, fmt.Errorf("%w: %w", ErrSpawn, err)
}

// abort kills the program, reaps it and reports err. Nothing more is
// written to the client.
func (e *Executor) abort(cmd *exec.Cmd, reaped *bool, cancel context.CancelFunc, res Result, start time.Time, err error) (Result, error) {
	cancel()
	_ = cmd.Wait()
	*reaped = true
	res.Outcome = metrics.OutcomeAborted
	res.ExitCode = -1
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	e.metrics.ObserveCGI(res.Outcome, time.Since(start).Seconds())
	e.logger.Debug("program aborted", "program", cmd.Path, "err", err)
	return res, err
}

func classify(ctx context.Context, waitErr error) (string, int) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return metrics.OutcomeTimeout, -1
	case errors.Is(ctx.Err(), context.Canceled):
		return metrics.OutcomeAborted, -1
	}
	if waitErr == nil {
		return metrics.OutcomeOK, 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return metrics.OutcomeExitError, exitErr.ExitCode()
	}
	return metrics.OutcomeExitError, -1
}

// stdinSink forwards to the program's stdin until the first write error and
// discards afterwards, so the client body is still consumed to its declared
// length.
type stdinSink struct {
	w   io.Writer
	err error
}

func (s *stdinSink) Write(p []byte) (int, error) {
	if s.err == nil {
		_, s.err = s.w.Write(p)
	}
	return len(p), nil
}

var errClient = errors.New("client write failed")

// responseWriter holds program output until limit bytes are exceeded, then
// commits the status line and streams.
type responseWriter struct {
	w         io.Writer
	limit     int
	buf       bytes.Buffer
	committed bool
	status    int
	written   int64
	err       error
}

func (r *responseWriter) Write(p []byte) (int, error) {
	if !r.committed && r.buf.Len()+len(p) <= r.limit {
		return r.buf.Write(p)
	}
	if err := r.commit(); err != nil {
		return 0, errClient
	}
	n, err := r.w.Write(p)
	r.written += int64(n)
	if err != nil {
		r.err = err
		return n, errClient
	}
	return n, nil
}

// commit sends the 200 status line followed by any held output. Repeated
// calls are no-ops.
func (r *responseWriter) commit() error {
	if r.committed {
		return nil
	}
	r.committed = true
	r.status = wire.StatusOK
	n, err := wire.WriteStatusLine(r.w, wire.StatusOK)
	r.written += int64(n)
	if err != nil {
		r.err = err
		return err
	}
	m, err := r.w.Write(r.buf.Bytes())
	r.written += int64(m)
	r.buf.Reset()
	if err != nil {
		r.err = err
	}
	return err
}
