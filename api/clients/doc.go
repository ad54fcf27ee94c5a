/*
Package clients provides Go clients for the object storage HTTP API.

StorageClient covers file operations and multipart uploads:

	c := clients.NewStorageClient("http://localhost:8080")
	res, err := c.Upload(ctx, "", "report.pdf", f, size)
	rc, err := c.Download(ctx, res.Backend, res.ObjectPath)

UploadInParts drives a whole multipart session from an io.Reader and aborts
the session if any step fails.

AdminClient covers backend administration and authenticates with the admin
bearer token:

	admin := clients.NewAdminClient("http://localhost:8080", token)
	_, err := admin.SetActiveBackend(ctx, "s3")

Non-2xx responses are returned as *APIError, which unwraps to the matching
sentinel of package interfaces (for example interfaces.ErrNotFound for 404).
*/
package clients
