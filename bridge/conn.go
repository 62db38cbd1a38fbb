package bridge

import (
	"context"
	"net/http"
)

type (
	// ConnInfo links an adapted request back to the transport it arrived on. The hosted
	// framework reads it where it would otherwise inspect the live connection.
	ConnInfo struct {
		Server   *http.Server
		Response *ResponseWriter
		// Original is the request as echo received it, before any path override
		Original *http.Request
	}

	connInfoKey struct{}
)

func WithConnInfo(ctx context.Context, info *ConnInfo) context.Context {
	return context.WithValue(ctx, connInfoKey{}, info)
}

// ConnInfoFromRequest returns nil for requests that did not come through ConvertRequest.
func ConnInfoFromRequest(r *http.Request) *ConnInfo {
	info, _ := r.Context().Value(connInfoKey{}).(*ConnInfo)
	return info
}
