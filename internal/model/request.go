// Package model defines the request and execution types shared by the server.
package model

// Method is the subset of request methods the server implements.
type Method int

const (
	MethodOther Method = iota
	MethodGet
	MethodPost
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	default:
		return "OTHER"
	}
}

// ParsedRequest is the request line plus the only header the server reads.
type ParsedRequest struct {
	Method    Method
	RawMethod string // as sent by the client
	RawPath   string // not percent-decoded; excludes "?query" for GET
	Version   string

	QueryString string
	HasQuery    bool

	// ContentLength is -1 when the header was absent.
	ContentLength int64
}

// IsCGI reports whether the request itself demands CGI execution,
// independent of the target's permission bits.
func (r *ParsedRequest) IsCGI() bool {
	return r.Method == MethodPost || (r.Method == MethodGet && r.HasQuery)
}

// ResolvedTarget is a URL path mapped onto the document root.
type ResolvedTarget struct {
	Path         string
	IsDirectory  bool
	IsExecutable bool // any of the user, group or other execute bits
}

// CGIInvocation describes one program run for one request.
type CGIInvocation struct {
	ProgramPath   string
	ScriptName    string
	Method        Method
	QueryString   string
	ContentLength int64
	RemoteAddr    string
}
