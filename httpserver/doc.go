/*
Package httpserver serves the object storage API over HTTP.

The server exposes three route groups on one chi router:

  - File routes (/api/files, /api/meta, /api/urls, /api/checksum,
    /api/thumbnails) addressing objects by backend key and object path.
  - Multipart upload routes (/api/uploads) driving upload sessions.
  - The admin API (/api/admin) for switching the active backend and editing
    backend configuration, optionally guarded by a bearer token.

Health endpoints /livez and /readyz report liveness and readiness. /drain marks
the server not ready so load balancers stop routing to it before shutdown, and
/undrain reverses that. Prometheus metrics are served on a separate listener.

Errors are written as {"error": "..."} with the status derived from the
sentinel errors of package interfaces:

	ErrNotFound, ErrInvalidSession     404
	ErrSessionBusy                     409
	ErrInvalidArgument                 400
	ErrFileTooLarge                    413
	ErrUnsupportedOperation            501
	ErrConfigurationIncomplete,
	ErrNoStrategyAvailable,
	ErrBackendUnavailable              503
	anything else                      500
*/
package httpserver
