package restapi

import (
	"crypto/tls"
	"net/http"

	"github.com/quic-go/quic-go/http3"

	"github.com/syncagent/syncagent/internal/observability"
)

// StartHTTP3 serves the same handler the TCP REST listener uses over
// HTTP/3, for clients on high-latency or lossy links. Adapted from the
// teacher's dual gRPC+REST bring-up in daemon/api/server.StartAPIServers
// (start a second listener alongside the first, hand back a stop func),
// generalized from "gRPC or REST fallback" to "TCP or QUIC transport for
// the same REST API". Bind errors surface asynchronously through logger
// since http3.Server.ListenAndServe blocks for the listener's lifetime.
func StartHTTP3(addr string, handler http.Handler, tlsConfig *tls.Config, logger *observability.Logger) (stop func()) {
	srv := &http3.Server{
		Addr:      addr,
		Handler:   handler,
		TLSConfig: tlsConfig,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && logger != nil {
			logger.Error(err, "HTTP/3 listener stopped")
		}
	}()
	return func() { _ = srv.Close() }
}
