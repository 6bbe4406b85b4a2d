package wire

import (
	"fmt"
	"io"
)

// ServerSoftware is sent in the Server header and as SERVER_SOFTWARE to CGI
// programs.
var ServerSoftware = "tinyhttpd-go/dev"

// Status codes the server emits.
const (
	StatusOK                  = 200
	StatusBadRequest          = 400
	StatusNotFound            = 404
	StatusInternalServerError = 500
	StatusNotImplemented      = 501
)

var reasons = map[int]string{
	StatusOK:                  "OK",
	StatusBadRequest:          "Bad Request",
	StatusNotFound:            "Not Found",
	StatusInternalServerError: "Internal Server Error",
	StatusNotImplemented:      "Method Not Implemented",
}

var errorBodies = map[int]string{
	StatusBadRequest: "<HTML><TITLE>Bad Request</TITLE>\r\n" +
		"<BODY><P>Your browser sent a bad request, such as a POST without a Content-Length.\r\n" +
		"</BODY></HTML>\r\n",
	StatusNotFound: "<HTML><TITLE>Not Found</TITLE>\r\n" +
		"<BODY><P>The server could not fulfill your request because the resource\r\n" +
		"specified is unavailable or nonexistent.\r\n" +
		"</BODY></HTML>\r\n",
	StatusInternalServerError: "<HTML><TITLE>Internal Server Error</TITLE>\r\n" +
		"<BODY><P>Error prohibited CGI execution.\r\n" +
		"</BODY></HTML>\r\n",
	StatusNotImplemented: "<HTML><TITLE>Method Not Implemented</TITLE>\r\n" +
		"<BODY><P>HTTP request method not supported.\r\n" +
		"</BODY></HTML>\r\n",
}

// StatusText returns the reason phrase for code, or "Unknown".
func StatusText(code int) string {
	if r, ok := reasons[code]; ok {
		return r
	}
	return "Unknown"
}

// WriteStatusLine writes only "HTTP/1.0 <code> <reason>\r\n". CGI programs
// supply the remaining header lines themselves.
func WriteStatusLine(w io.Writer, code int) (int, error) {
	return fmt.Fprintf(w, "HTTP/1.0 %d %s\r\n", code, StatusText(code))
}

// WriteHeader writes a status line, the Server and Content-Type headers and
// the blank line that ends the response head.
func WriteHeader(w io.Writer, code int, contentType string) (int, error) {
	return fmt.Fprintf(w, "HTTP/1.0 %d %s\r\nServer: %s\r\nContent-Type: %s\r\n\r\n",
		code, StatusText(code), ServerSoftware, contentType)
}

// WriteError writes a complete error response with a short HTML body.
func WriteError(w io.Writer, code int) (int, error) {
	n, err := WriteHeader(w, code, "text/html")
	if err != nil {
		return n, err
	}
	m, err := io.WriteString(w, errorBodies[code])
	return n + m, err
}
