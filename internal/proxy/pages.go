package proxy

import "net/http"

const notRunningPage = `<html><body><h1>Gateway not running</h1><p>Please start the gateway first.</p><a href="/">Go to setup</a></body></html>`

const accessDeniedPage = `<html><body><h1>Access Denied</h1><p>This gateway instance is owned by another user.</p><a href="/">Go back</a></body></html>`

// WriteNotRunning serves the fixed 503 page shown when the gateway is down.
func WriteNotRunning(w http.ResponseWriter) {
	writePage(w, http.StatusServiceUnavailable, notRunningPage)
}

// WriteAccessDenied serves the fixed 403 page shown to non-owners.
func WriteAccessDenied(w http.ResponseWriter) {
	writePage(w, http.StatusForbidden, accessDeniedPage)
}

func writePage(w http.ResponseWriter, status int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(page))
}
