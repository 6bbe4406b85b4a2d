package cgi

import (
	"net"
	"os"
	"strconv"
	"strings"

	"tinyhttpd-go/internal/model"
	"tinyhttpd-go/internal/wire"
)

const defaultPath = "/bin:/usr/bin:/usr/local/bin"

// requestVars are set per request and never inherited from the server, so
// a program sees exactly one of CONTENT_LENGTH and QUERY_STRING.
var requestVars = map[string]bool{
	"GATEWAY_INTERFACE": true,
	"SERVER_SOFTWARE":   true,
	"SERVER_PROTOCOL":   true,
	"REQUEST_METHOD":    true,
	"SCRIPT_NAME":       true,
	"SCRIPT_FILENAME":   true,
	"CONTENT_LENGTH":    true,
	"QUERY_STRING":      true,
	"REMOTE_ADDR":       true,
	"REMOTE_PORT":       true,
}

// environ builds the complete environment for one program run. Nothing is
// taken from the server's own environment except PATH and the names listed
// in inherit; request variables in inherit are ignored.
func environ(inv *model.CGIInvocation, inherit []string) []string {
	var env []string
	for _, name := range inherit {
		if requestVars[name] {
			continue
		}
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}

	path := os.Getenv("PATH")
	if path == "" {
		path = defaultPath
	}

	env = append(env,
		"PATH="+path,
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_SOFTWARE="+wire.ServerSoftware,
		"SERVER_PROTOCOL=HTTP/1.0",
		"REQUEST_METHOD="+inv.Method.String(),
		"SCRIPT_NAME="+inv.ScriptName,
		"SCRIPT_FILENAME="+inv.ProgramPath,
	)

	if inv.Method == model.MethodPost {
		env = append(env, "CONTENT_LENGTH="+strconv.FormatInt(inv.ContentLength, 10))
	} else {
		env = append(env, "QUERY_STRING="+inv.QueryString)
	}

	if host, port, err := net.SplitHostPort(inv.RemoteAddr); err == nil {
		env = append(env, "REMOTE_ADDR="+host, "REMOTE_PORT="+port)
	} else if inv.RemoteAddr != "" {
		env = append(env, "REMOTE_ADDR="+inv.RemoteAddr)
	}

	return removeLeadingDuplicates(env)
}

// removeLeadingDuplicates drops every KEY=value that is set again later in
// env, so request variables win over inherited ones.
func removeLeadingDuplicates(env []string) (ret []string) {
	for i, e := range env {
		found := false
		if eq := strings.IndexByte(e, '='); eq != -1 {
			keq := e[:eq+1]
			for _, e2 := range env[i+1:] {
				if strings.HasPrefix(e2, keq) {
					found = true
					break
				}
			}
		}
		if !found {
			ret = append(ret, e)
		}
	}
	return
}
