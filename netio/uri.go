package netio

import (
	"strconv"
	"strings"

	"github.com/lorafwd/stationd/internal/stationerr"
)

// URIScheme classifies a parsed URI the way uri_checkHostPortUri does:
// URI_BAD means the shape didn't match, URI_TCP/URI_TLS distinguish a
// trailing "s" on the scheme (ws/wss, http/https).
type URIScheme int

const (
	URIBad URIScheme = iota
	URITCP
	URITLS
)

// URI holds the parsed pieces of scheme[://]host[:port][/path]; bracketed
// IPv6 literals in Host have their brackets stripped.
type URI struct {
	Scheme string
	Host   string
	Port   string
	Path   string
}

// Parse splits raw into scheme/host/port/path. If skipSchema is true,
// raw is assumed to start directly at the host (no "scheme://" prefix).
func Parse(raw string, skipSchema bool) (*URI, error) {
	u := &URI{}
	rest := raw

	if !skipSchema {
		idx := strings.Index(rest, ":")
		if idx < 0 {
			return nil, stationerr.New(stationerr.CodeProtoError, "uri missing scheme").WithContext("uri", raw)
		}
		u.Scheme = rest[:idx]
		rest = rest[idx+1:]
		rest = strings.TrimPrefix(rest, "//")
	}

	pathIdx := strings.Index(rest, "/")
	hostport := rest
	if pathIdx >= 0 {
		hostport = rest[:pathIdx]
		u.Path = rest[pathIdx:]
	}

	host, port, err := splitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	u.Host, u.Port = host, port
	return u, nil
}

func splitHostPort(hostport string) (host, port string, err error) {
	if len(hostport) == 0 {
		return "", "", stationerr.New(stationerr.CodeProtoError, "uri missing host")
	}
	if hostport[0] == '[' {
		end := strings.Index(hostport, "]")
		if end < 0 {
			return "", "", stationerr.New(stationerr.CodeProtoError, "unterminated ipv6 literal").WithContext("uri", hostport)
		}
		host = hostport[1:end]
		rest := hostport[end+1:]
		if strings.HasPrefix(rest, ":") {
			port = rest[1:]
		}
		return host, port, nil
	}
	if idx := strings.LastIndex(hostport, ":"); idx >= 0 {
		return hostport[:idx], hostport[idx+1:], nil
	}
	return hostport, "", nil
}

// CheckHostPortURI enforces the scheme[s]://host:port shape used by CUPS
// and TC URIs: no path, port mandatory. The trailing "s" on scheme
// distinguishes URITLS from URITCP.
func CheckHostPortURI(raw string) (URIScheme, *URI, error) {
	u, err := Parse(raw, false)
	if err != nil {
		return URIBad, nil, err
	}
	if u.Path != "" {
		return URIBad, nil, stationerr.New(stationerr.CodeProtoError, "path not permitted in host:port uri").WithContext("uri", raw)
	}
	if u.Port == "" {
		return URIBad, nil, stationerr.New(stationerr.CodeProtoError, "port is mandatory").WithContext("uri", raw)
	}
	if _, err := strconv.Atoi(u.Port); err != nil {
		return URIBad, nil, stationerr.New(stationerr.CodeProtoError, "non-numeric port").WithContext("port", u.Port)
	}
	scheme := strings.ToLower(u.Scheme)
	if strings.HasSuffix(scheme, "s") {
		return URITLS, u, nil
	}
	return URITCP, u, nil
}

// CopyHostPort copies Host and Port into caller-provided buffers of
// stated capacity, mirroring uri_checkHostPortUri's bounded-buffer copy
// semantics: oversize input is a hard error rather than silent
// truncation.
func CopyHostPort(u *URI, hostCap, portCap int) (host, port string, err error) {
	if len(u.Host) > hostCap {
		return "", "", stationerr.New(stationerr.CodeProtoError, "host exceeds buffer capacity").WithContext("host", u.Host).WithContext("cap", hostCap)
	}
	if len(u.Port) > portCap {
		return "", "", stationerr.New(stationerr.CodeProtoError, "port exceeds buffer capacity").WithContext("port", u.Port).WithContext("cap", portCap)
	}
	return u.Host, u.Port, nil
}
