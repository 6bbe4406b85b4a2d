package cgi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"tinyhttpd-go/internal/metrics"
	"tinyhttpd-go/internal/model"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("CGI tests need /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "test.cgi")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestExecutor(bufferLimit int, timeout time.Duration) *Executor {
	return &Executor{
		chunkSize:   64,
		bufferLimit: bufferLimit,
		timeout:     timeout,
		stderr:      io.Discard,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:     metrics.New(),
	}
}

func getInvocation(program, query string) *model.CGIInvocation {
	return &model.CGIInvocation{
		ProgramPath:   program,
		ScriptName:    "/" + filepath.Base(program),
		Method:        model.MethodGet,
		QueryString:   query,
		ContentLength: -1,
		RemoteAddr:    "127.0.0.1:50000",
	}
}

const envScript = `printf 'Content-Type: text/plain\r\n\r\n'
echo "method=$REQUEST_METHOD"
echo "query=${QUERY_STRING-unset}"
echo "length=${CONTENT_LENGTH-unset}"
echo "remote=$REMOTE_ADDR"
`

func TestExecute_GetWithQuery(t *testing.T) {
	prog := writeScript(t, envScript)
	e := newTestExecutor(4096, 0)

	var out bytes.Buffer
	res, err := e.Execute(context.Background(), &out, strings.NewReader(""), getInvocation(prog, "x=1"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != 200 || res.Outcome != metrics.OutcomeOK {
		t.Errorf("result = %+v, want 200/ok", res)
	}

	want := "HTTP/1.0 200 OK\r\nContent-Type: text/plain\r\n\r\n" +
		"method=GET\nquery=x=1\nlength=unset\nremote=127.0.0.1\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if res.BytesOut != int64(out.Len()) {
		t.Errorf("BytesOut = %d, want %d", res.BytesOut, out.Len())
	}
}

func TestExecute_PostRelaysExactlyContentLength(t *testing.T) {
	prog := writeScript(t, `printf 'length=%s\n' "$CONTENT_LENGTH"
echo "query=${QUERY_STRING-unset}"
cat
`)
	e := newTestExecutor(4096, 0)

	body := strings.NewReader("hello worldEXTRA")
	inv := &model.CGIInvocation{
		ProgramPath:   prog,
		Method:        model.MethodPost,
		ContentLength: 11,
	}

	var out bytes.Buffer
	if _, err := e.Execute(context.Background(), &out, body, inv); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := "HTTP/1.0 200 OK\r\nlength=11\nquery=unset\nhello world"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	rest, _ := io.ReadAll(body)
	if string(rest) != "EXTRA" {
		t.Errorf("unread body = %q, want %q", rest, "EXTRA")
	}
}

func TestExecute_PostLargeBodyChunked(t *testing.T) {
	prog := writeScript(t, "wc -c | tr -d ' '\n")
	e := newTestExecutor(4096, 0)

	payload := bytes.Repeat([]byte("z"), 200*1024)
	inv := &model.CGIInvocation{ProgramPath: prog, Method: model.MethodPost, ContentLength: int64(len(payload))}

	var out bytes.Buffer
	if _, err := e.Execute(context.Background(), &out, bytes.NewReader(payload), inv); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := strings.TrimSpace(strings.TrimPrefix(out.String(), "HTTP/1.0 200 OK\r\n")); got != "204800" {
		t.Errorf("program saw %q bytes, want 204800", got)
	}
}

func TestExecute_ProgramIgnoresStdin(t *testing.T) {
	prog := writeScript(t, "echo ignored\n")
	e := newTestExecutor(4096, 0)

	body := bytes.NewReader(bytes.Repeat([]byte("a"), 256*1024))
	inv := &model.CGIInvocation{ProgramPath: prog, Method: model.MethodPost, ContentLength: int64(body.Len())}

	var out bytes.Buffer
	res, err := e.Execute(context.Background(), &out, body, inv)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Status != 200 {
		t.Errorf("Status = %d, want 200", res.Status)
	}
	if body.Len() != 0 {
		t.Errorf("%d body bytes left unread, want 0", body.Len())
	}
	if !strings.HasSuffix(out.String(), "ignored\n") {
		t.Errorf("output = %q", out.String())
	}
}

func TestExecute_ShortBody(t *testing.T) {
	prog := writeScript(t, "cat >/dev/null\necho done\n")
	e := newTestExecutor(4096, 0)

	inv := &model.CGIInvocation{ProgramPath: prog, Method: model.MethodPost, ContentLength: 10}

	var out bytes.Buffer
	res, err := e.Execute(context.Background(), &out, strings.NewReader("abc"), inv)
	if !errors.Is(err, ErrShortBody) {
		t.Fatalf("err = %v, want ErrShortBody", err)
	}
	if res.Status != 0 || out.Len() != 0 {
		t.Errorf("nothing should be sent; got status %d, %q", res.Status, out.String())
	}
	if res.Outcome != metrics.OutcomeAborted {
		t.Errorf("Outcome = %q, want %q", res.Outcome, metrics.OutcomeAborted)
	}
}

func TestExecute_FailureWithinBufferIs500(t *testing.T) {
	prog := writeScript(t, "echo partial\nexit 3\n")
	e := newTestExecutor(4096, 0)

	var out bytes.Buffer
	res, err := e.Execute(context.Background(), &out, strings.NewReader(""), getInvocation(prog, ""))
	if !errors.Is(err, ErrProgramFailed) {
		t.Fatalf("err = %v, want ErrProgramFailed", err)
	}
	if res.Status != 500 || res.ExitCode != 3 || res.Outcome != metrics.OutcomeExitError {
		t.Errorf("result = %+v, want 500/exit 3/exit_error", res)
	}
	if !strings.HasPrefix(out.String(), "HTTP/1.0 500 Internal Server Error\r\n") {
		t.Errorf("output = %q", out.String())
	}
	if strings.Contains(out.String(), "partial") {
		t.Error("buffered program output must be discarded on failure")
	}
}

func TestExecute_EagerStatusLine(t *testing.T) {
	prog := writeScript(t, "echo partial\nexit 3\n")
	e := newTestExecutor(0, 0)

	var out bytes.Buffer
	res, err := e.Execute(context.Background(), &out, strings.NewReader(""), getInvocation(prog, ""))
	if !errors.Is(err, ErrProgramFailed) {
		t.Fatalf("err = %v, want ErrProgramFailed", err)
	}
	if res.Status != 200 {
		t.Errorf("Status = %d, want 200 (already committed)", res.Status)
	}
	if out.String() != "HTTP/1.0 200 OK\r\npartial\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestExecute_OutputBeyondBufferStreams(t *testing.T) {
	prog := writeScript(t, "i=0\nwhile [ $i -lt 20 ]; do echo 0123456789; i=$((i+1)); done\n")
	e := newTestExecutor(16, 0)

	var out bytes.Buffer
	res, err := e.Execute(context.Background(), &out, strings.NewReader(""), getInvocation(prog, ""))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := "HTTP/1.0 200 OK\r\n" + strings.Repeat("0123456789\n", 20)
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if res.BytesOut != int64(len(want)) {
		t.Errorf("BytesOut = %d, want %d", res.BytesOut, len(want))
	}
}

func TestExecute_SpawnFailure(t *testing.T) {
	dir := t.TempDir()
	notExec := filepath.Join(dir, "plain.cgi")
	if err := os.WriteFile(notExec, []byte("#!/bin/sh\necho hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for name, prog := range map[string]string{
		"missing":        filepath.Join(dir, "missing.cgi"),
		"not executable": notExec,
	} {
		t.Run(name, func(t *testing.T) {
			e := newTestExecutor(4096, 0)
			var out bytes.Buffer
			res, err := e.Execute(context.Background(), &out, strings.NewReader(""), getInvocation(prog, ""))
			if !errors.Is(err, ErrSpawn) {
				t.Fatalf("err = %v, want ErrSpawn", err)
			}
			if res.Status != 500 {
				t.Errorf("Status = %d, want 500", res.Status)
			}
			if !strings.HasPrefix(out.String(), "HTTP/1.0 500 ") {
				t.Errorf("output = %q", out.String())
			}
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	prog := writeScript(t, "sleep 30\n")
	e := newTestExecutor(4096, time.Second)

	start := time.Now()
	var out bytes.Buffer
	res, err := e.Execute(context.Background(), &out, strings.NewReader(""), getInvocation(prog, ""))
	if !errors.Is(err, ErrProgramFailed) {
		t.Fatalf("err = %v, want ErrProgramFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Execute took %v; timeout did not stop the program", elapsed)
	}
	if res.Outcome != metrics.OutcomeTimeout || res.Status != 500 {
		t.Errorf("result = %+v, want timeout/500", res)
	}
}

func TestExecute_ClientWriteFailure(t *testing.T) {
	prog := writeScript(t, "i=0\nwhile [ $i -lt 100 ]; do echo 0123456789; i=$((i+1)); done\n")
	e := newTestExecutor(0, 0)

	res, err := e.Execute(context.Background(), failingWriter{}, strings.NewReader(""), getInvocation(prog, ""))
	if !errors.Is(err, ErrClientWrite) {
		t.Fatalf("err = %v, want ErrClientWrite", err)
	}
	if res.Outcome != metrics.OutcomeAborted {
		t.Errorf("Outcome = %q, want %q", res.Outcome, metrics.OutcomeAborted)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }
