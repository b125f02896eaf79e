package observability

import (
	"net"
	"net/http"
	"strings"
)

// RequestInfo is the client metadata attached to connection and audit events.
type RequestInfo struct {
	RequestID string
	DeviceID  string
	IP        string
	UserAgent string
}

// RequestInfoFrom extracts RequestInfo from an HTTP request.
func RequestInfoFrom(r *http.Request) RequestInfo {
	return RequestInfo{
		RequestID: r.Header.Get("X-Request-Id"),
		DeviceID:  r.Header.Get("X-Device-Id"),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
