package mount

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	// HotReloadPath is the hosted framework's dev mode live update socket
	HotReloadPath = "/_next/webpack-hmr"

	// NotFoundMessage is the message echo puts on the error its router returns for unmatched
	// requests
	NotFoundMessage = "Not Found"

	delegatedKey = "echonext_delegated"
)

// IsNotFound reports whether err is echo's "no route matched" error.
//
// Best effort, subject to upstream changes: echo does not give unmatched routes an error type
// of their own, so beyond the identity check this compares messages. A route handler returning
// a plain 404 HTTPError is treated the same.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, echo.ErrNotFound) {
		return true
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		return ok && he.Code == http.StatusNotFound && msg == NotFoundMessage
	}
	return err.Error() == NotFoundMessage
}

// IsHotReload reports whether r is the dev server's live update upgrade.
func IsHotReload(r *http.Request) bool {
	return r.Header.Get("Upgrade") != "" && r.URL.Path == HotReloadPath
}

// Delegated reports whether the hosted framework has taken over the request behind c.
func Delegated(c echo.Context) bool {
	d, _ := c.Get(delegatedKey).(bool)
	return d
}

func markDelegated(c echo.Context) {
	c.Set(delegatedKey, true)
}
