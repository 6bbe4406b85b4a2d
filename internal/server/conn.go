package server

import (
	"errors"
	"io"
	"net"
	"runtime/debug"
	"strings"
	"time"

	"tinyhttpd-go/internal/model"
	"tinyhttpd-go/internal/static"
	"tinyhttpd-go/internal/wire"
)

const (
	lingerTimeout  = 2 * time.Second
	lingerMaxBytes = 256 << 10
)

// Handler label values used in logs and metrics.
const (
	handlerNone   = "none"
	handlerStatic = "static"
	handlerCGI    = "cgi"
)

// exchange records what happened on one connection for the request log.
type exchange struct {
	method  string
	path    string
	handler string
	status  int // 0 when the connection was abandoned without a response
	err     error
}

// countingWriter counts bytes written to the client.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// handle owns conn for its whole lifetime and closes it exactly once.
func (s *Server) handle(conn net.Conn) {
	start := time.Now()
	ex := &exchange{handler: handlerNone}
	out := &countingWriter{w: conn}

	if s.metrics != nil {
		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ConnectionsInFlight.Inc()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic serving connection",
				"remote_addr", conn.RemoteAddr().String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
		closeConn(conn, s.baseCtx.Err() == nil)
		s.untrack(conn)
		s.wg.Done()

		if s.metrics != nil {
			s.metrics.ConnectionsInFlight.Dec()
		}
		s.metrics.ObserveResponse(ex.method, ex.handler, ex.status, out.n, time.Since(start).Seconds())
		s.logExchange(conn, ex, out.n, time.Since(start))
	}()

	s.serveConn(conn, out, ex)
}

func (s *Server) serveConn(conn net.Conn, out io.Writer, ex *exchange) {
	if t := s.cfg.Server.ReadTimeoutSeconds; t > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(time.Duration(t) * time.Second))
	}
	// A forced shutdown may have expired the deadline before it was set above.
	if s.baseCtx.Err() != nil {
		return
	}

	lr := wire.NewLineReader(conn, s.cfg.Server.MaxLineBytes)
	req, err := wire.ReadRequest(lr)
	if req != nil {
		ex.method = strings.ToUpper(req.RawMethod)
		ex.path = req.RawPath
	}
	if err != nil {
		ex.err = err
		if isMalformed(err) {
			s.reply(out, ex, wire.StatusBadRequest)
		}
		return
	}

	if req.Method == model.MethodOther {
		s.reply(out, ex, wire.StatusNotImplemented)
		return
	}

	target, err := static.Resolve(s.cfg.Server.DocumentRoot, req.RawPath)
	if err != nil {
		ex.err = err
		switch {
		case errors.Is(err, static.ErrNotFound):
			s.reply(out, ex, wire.StatusNotFound)
		default:
			s.reply(out, ex, wire.StatusBadRequest)
		}
		return
	}

	if req.IsCGI() || target.IsExecutable {
		ex.handler = handlerCGI
		inv := &model.CGIInvocation{
			ProgramPath:   target.Path,
			ScriptName:    req.RawPath,
			Method:        req.Method,
			QueryString:   req.QueryString,
			ContentLength: req.ContentLength,
			RemoteAddr:    conn.RemoteAddr().String(),
		}
		res, err := s.cgi.Execute(s.baseCtx, out, lr.Body(), inv)
		ex.status, ex.err = res.Status, err
		return
	}

	ex.handler = handlerStatic
	ex.status, _, ex.err = s.files.Serve(out, target)
}

// reply writes a canned error response. A failed write only matters for
// the log: the connection is closed right after.
func (s *Server) reply(out io.Writer, ex *exchange, status int) {
	if _, err := wire.WriteError(out, status); err != nil {
		ex.err = errors.Join(ex.err, err)
		return
	}
	ex.status = status
}

// isMalformed reports whether a request-head error deserves a 400 rather
// than a silent close.
func isMalformed(err error) bool {
	return errors.Is(err, wire.ErrMissingContentLength) ||
		errors.Is(err, wire.ErrMalformedRequestLine) ||
		errors.Is(err, wire.ErrTokenTooLong) ||
		errors.Is(err, wire.ErrLineTooLong)
}

func (s *Server) logExchange(conn net.Conn, ex *exchange, bytesOut int64, d time.Duration) {
	attrs := []any{
		"method", ex.method,
		"path", ex.path,
		"status", ex.status,
		"handler", ex.handler,
		"duration_ms", d.Milliseconds(),
		"remote_addr", conn.RemoteAddr().String(),
		"bytes_out", bytesOut,
	}
	if ex.err != nil {
		attrs = append(attrs, "err", ex.err)
	}
	if ex.status == 0 {
		s.logger.Debug("connection closed without response", attrs...)
		return
	}
	s.logger.Info("request", attrs...)
}

// closeConn half-closes a TCP connection and drains what the client still
// sends before the full close. Closing with unread input makes the kernel
// answer with RST, which can destroy a response the client has not read yet.
// The drain is skipped when linger is false (forced shutdown).
func closeConn(conn net.Conn, linger bool) {
	if tc, ok := conn.(*net.TCPConn); ok && linger {
		if err := tc.CloseWrite(); err == nil {
			_ = tc.SetReadDeadline(time.Now().Add(lingerTimeout))
			_, _ = io.CopyN(io.Discard, tc, lingerMaxBytes)
		}
	}
	_ = conn.Close()
}
