package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/okian/trustgate/internal/domain/model"
)

// ClientID resolves the submitter from, in order, the first X-Forwarded-For
// value, X-Real-IP and CF-Connecting-IP. These headers are client supplied;
// the value is only as trustworthy as the proxy in front of the service.
// With trustRemoteAddr the socket peer is used before falling back to
// model.AnonymousClient.
func ClientID(r *http.Request, trustRemoteAddr bool) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	for _, h := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	if trustRemoteAddr {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
	}
	return model.AnonymousClient
}
