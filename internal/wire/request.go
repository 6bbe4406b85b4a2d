package wire

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"tinyhttpd-go/internal/model"
)

// maxMethodBytes caps the method token; every method the server knows is
// far shorter.
const maxMethodBytes = 16

var (
	ErrMalformedRequestLine = errors.New("wire: malformed request line")
	ErrTokenTooLong         = errors.New("wire: request token too long")
	ErrMissingContentLength = errors.New("wire: POST without a valid Content-Length")
)

const contentLengthPrefix = "content-length:"

// ParseRequestLine tokenizes "METHOD PATH [VERSION]". Tokens are not
// percent-decoded. maxToken bounds the path and version tokens.
func ParseRequestLine(line string, maxToken int) (*model.ParsedRequest, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ErrMalformedRequestLine
	}
	if maxToken <= 0 {
		maxToken = DefaultMaxLineBytes
	}
	if len(fields[0]) > maxMethodBytes {
		return nil, fmt.Errorf("method: %w", ErrTokenTooLong)
	}

	req := &model.ParsedRequest{
		RawMethod:     fields[0],
		ContentLength: -1,
	}
	switch {
	case strings.EqualFold(fields[0], "GET"):
		req.Method = model.MethodGet
	case strings.EqualFold(fields[0], "POST"):
		req.Method = model.MethodPost
	default:
		req.Method = model.MethodOther
		return req, nil
	}

	if len(fields) < 2 {
		return nil, ErrMalformedRequestLine
	}
	if len(fields[1]) > maxToken {
		return nil, fmt.Errorf("path: %w", ErrTokenTooLong)
	}
	req.RawPath = fields[1]

	req.Version = "HTTP/1.0"
	if len(fields) > 2 {
		if len(fields[2]) > maxToken {
			return nil, fmt.Errorf("version: %w", ErrTokenTooLong)
		}
		req.Version = fields[2]
	}

	if req.Method == model.MethodGet {
		if path, query, ok := strings.Cut(req.RawPath, "?"); ok {
			req.RawPath = path
			req.QueryString = query
			req.HasQuery = true
		}
	}
	return req, nil
}

// ReadHeaders consumes header lines up to and including the blank line that
// ends the request head, recording Content-Length and discarding the rest.
// A POST without a usable Content-Length returns ErrMissingContentLength
// after the head has been consumed.
func ReadHeaders(lr *LineReader, req *model.ParsedRequest) error {
	for {
		line, _, err := lr.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		if line == "" {
			break
		}
		if len(line) < len(contentLengthPrefix) ||
			!strings.EqualFold(line[:len(contentLengthPrefix)], contentLengthPrefix) {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(line[len(contentLengthPrefix):]), 10, 64)
		if err != nil || v < 0 {
			req.ContentLength = -1
			continue
		}
		req.ContentLength = v
	}

	if req.Method == model.MethodPost && req.ContentLength < 0 {
		return ErrMissingContentLength
	}
	return nil
}

// ReadRequest reads and parses a full request head. For methods other than
// GET and POST it returns after the request line without touching headers.
func ReadRequest(lr *LineReader) (*model.ParsedRequest, error) {
	line, _, err := lr.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("read request line: %w", err)
	}
	if line == "" {
		return nil, ErrMalformedRequestLine
	}

	req, err := ParseRequestLine(line, lr.max)
	if err != nil {
		return nil, err
	}
	if req.Method == model.MethodOther {
		return req, nil
	}
	if err := ReadHeaders(lr, req); err != nil {
		return req, err
	}
	return req, nil
}
