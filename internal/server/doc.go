// Package server exposes the realtime subsystem over HTTP: the websocket
// endpoint with admission control and token auth, the internal event
// ingest route, and liveness/readiness/metrics endpoints.
package server
