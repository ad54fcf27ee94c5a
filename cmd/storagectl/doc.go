// Package main (cmd/storagectl) is the command line client of the storage
// server.
//
// Commands:
//
//	backends            - List registered backends with their status
//	set-active          - Switch the active backend
//	config get          - Show a backend config (secrets redacted)
//	config save         - Create or replace a backend config from JSON
//	config set          - Merge name=value settings into a config
//	config delete       - Delete a backend config
//	clear-cache         - Drop the server's cached configs
//	upload              - Upload a file, optionally in parts
//	download            - Write an object to stdout
//	delete              - Delete objects
//
// The server address and admin token come from --server and --admin-token or
// STORAGE_SERVER and STORAGE_ADMIN_TOKEN.
package main
