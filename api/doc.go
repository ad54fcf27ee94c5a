/*
Package api holds the wire types of the object storage HTTP API.

Subpackage clients provides a Go client for the file, upload and admin
endpoints served by package httpserver.

# Files

	POST   /api/files?backend=&name=         upload (raw body or multipart form field "file")
	GET    /api/files/{backend}/{path}       download
	HEAD   /api/files/{backend}/{path}       existence and metadata headers
	DELETE /api/files/{backend}/{path}       delete
	GET    /api/meta/{backend}/{path}        metadata
	GET    /api/urls/{backend}/{path}        access URL (kind=preview|download|public, expire=seconds)
	GET    /api/checksum/{backend}/{path}    MD5 checksum
	GET    /api/thumbnails/{backend}/{path}  JPEG thumbnail (w, h)
	POST   /api/files/batch-delete           batch delete

The backend path segment "_" selects the active backend.

# Multipart uploads

	POST   /api/uploads                          initiate
	PUT    /api/uploads/{session}/parts/{part}   upload part
	POST   /api/uploads/{session}/complete       complete
	DELETE /api/uploads/{session}                abort

# Administration

	GET    /api/admin/backends                  backends with status
	GET    /api/admin/active                    active backend
	PUT    /api/admin/active                    switch active backend
	GET    /api/admin/backends/{key}            backend config
	PUT    /api/admin/backends/{key}            create or replace backend config
	DELETE /api/admin/backends/{key}            delete backend config
	PATCH  /api/admin/backends/{key}/settings   merge settings
	POST   /api/admin/cache/clear               clear config cache

Errors are returned as {"error": "..."} with a status derived from the error kind.
*/
package api
