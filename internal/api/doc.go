// Package api exposes the REST surface of the service: submitting and
// inspecting queued analysis runs, browsing report history, querying the
// knowledge base directly, plus health and Prometheus endpoints.
package api
