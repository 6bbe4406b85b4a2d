package wire

import (
	"errors"
	"io"
)

// DefaultChunkSize is the relay buffer size when none is configured.
const DefaultChunkSize = 1024

// CopyChunked copies src to dst through a buffer of chunkSize bytes until
// src reports EOF. Unlike io.Copy it never hands the transfer to
// ReaderFrom/WriterTo, so every write is at most one chunk.
func CopyChunked(dst io.Writer, src io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, rerr
		}
	}
}
