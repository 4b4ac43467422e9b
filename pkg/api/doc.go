/*
Package api serves the operational HTTP endpoints of a modlog process.

# Endpoints

	GET /health   200 unless a registered component is unhealthy
	GET /ready    200 when the log store answers and the mutation worker runs
	GET /live     200 while the process is up
	GET /metrics  Prometheus exposition

/ready reports three checks:

  - store: a count query against the log store, bounded to 2s
  - bridge: the worker's registration in the metrics health registry
  - backup: the scheduler switch, whether a backup is running, and the
    last successful backup. This check is informational and never makes
    the process unready.

# Usage

	hs := api.NewHealthServer(mgr)
	g.Go(func() error { return hs.Serve(ctx, cfg.HTTP.Addr) })

Serve returns nil after ctx is cancelled and the server has shut down.

The operator dashboard is a separate surface and is not served here.
*/
package api
