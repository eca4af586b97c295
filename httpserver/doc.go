/*
Package httpserver runs a node's public HTTP API.

The server mounts one or more route sets (normally the node handler from
api/nodehandler) next to the operational endpoints:

  - GET /livez - Liveness check
  - GET /readyz - Readiness check, 503 while draining
  - GET /drain - Mark the server not ready
  - GET /undrain - Mark the server ready again
  - /debug/pprof/* - Profiling, when EnablePprof is set

Prometheus metrics are served on a separate listener at MetricsAddr. Requests
are logged through the flashbots httplogger middleware.

Usage:

	cfg := &httpserver.Config{
		ListenAddr:               ":8080",
		MetricsAddr:              ":8090",
		Log:                      log,
		DrainDuration:            15 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
	}
	srv, err := httpserver.New(cfg, nodehandler.NewHandler(nd, log))
	if err != nil {
		return err
	}
	nd.SetObserver(srv.Metrics())
	srv.RunInBackground()
	defer srv.Shutdown()
*/
package httpserver
