package static

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"tinyhttpd-go/internal/config"
	"tinyhttpd-go/internal/model"
	"tinyhttpd-go/internal/wire"
)

// FileServer streams resolved files to the client.
type FileServer struct {
	chunkSize         int
	detectContentType bool
	logger            *slog.Logger
}

// NewFileServer creates a FileServer from the server and static settings.
func NewFileServer(cfg *config.Config, logger *slog.Logger) *FileServer {
	return &FileServer{
		chunkSize:         cfg.Server.ChunkSize,
		detectContentType: cfg.Static.DetectContentType,
		logger:            logger.With("component", "static"),
	}
}

// Serve writes a complete response for target and returns the status sent
// and the number of bytes written. A file that cannot be opened produces a
// 404. The returned error is a write or read failure on the stream; the
// status has already been sent by then.
func (s *FileServer) Serve(w io.Writer, target *model.ResolvedTarget) (int, int64, error) {
	f, err := os.Open(target.Path)
	if err != nil {
		s.logger.Debug("open failed", "path", target.Path, "err", err)
		n, werr := wire.WriteError(w, wire.StatusNotFound)
		return wire.StatusNotFound, int64(n), werr
	}
	defer func() { _ = f.Close() }()

	contentType := defaultContentType
	if s.detectContentType {
		contentType = ContentType(target.Path)
	}

	hn, err := wire.WriteHeader(w, wire.StatusOK, contentType)
	if err != nil {
		return wire.StatusOK, int64(hn), err
	}
	bn, err := wire.CopyChunked(w, f, s.chunkSize)
	if err != nil {
		return wire.StatusOK, int64(hn) + bn, fmt.Errorf("stream %s: %w", target.Path, err)
	}
	return wire.StatusOK, int64(hn) + bn, nil
}
