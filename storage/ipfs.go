package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/object-storage-backend/interfaces"
)

// IPFSStore implements an object store on the mutable file system (MFS) of an
// IPFS node, so objects stay addressable by path rather than by CID.
type IPFSStore struct {
	shell       *shell.Shell
	address     string
	root        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSStore connects to the IPFS API at address and keeps objects below root
// in MFS.
func NewIPFSStore(address, root string, timeout time.Duration, log *slog.Logger) *IPFSStore {
	sh := shell.NewShell(address)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}
	root = "/" + NormalizeKey(root)

	return &IPFSStore{
		shell:       sh,
		address:     address,
		root:        root,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", address, root),
	}
}

// Put writes into a staging file and moves it into place once complete.
func (b *IPFSStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	start := time.Now()
	if !b.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	target := b.mfsPath(key)
	staging := path.Join(b.root, ".staging", uuid.NewString())
	err := b.shell.FilesWrite(ctx, staging, r,
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		_ = b.shell.FilesRm(ctx, staging, true)
		return fmt.Errorf("failed to write data to IPFS: %w", err)
	}

	if err := b.shell.FilesMkdir(ctx, path.Dir(target), shell.FilesMkdir.Parents(true)); err != nil {
		_ = b.shell.FilesRm(ctx, staging, true)
		return fmt.Errorf("failed to create IPFS directory: %w", err)
	}
	if err := b.shell.FilesMv(ctx, staging, target); err != nil {
		_ = b.shell.FilesRm(ctx, staging, true)
		return fmt.Errorf("failed to move IPFS object into place: %w", err)
	}

	b.log.Debug("Stored object in IPFS",
		slog.String("path", target),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (b *IPFSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := b.Stat(ctx, key); err != nil {
		return nil, err
	}
	rc, err := b.shell.FilesRead(ctx, b.mfsPath(key))
	if err != nil {
		return nil, b.wrapErr(key, "read", err)
	}
	return rc, nil
}

func (b *IPFSStore) Remove(ctx context.Context, key string) (bool, error) {
	err := b.shell.FilesRm(ctx, b.mfsPath(key), false)
	if err != nil {
		if isIPFSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove IPFS object: %w", err)
	}
	return true, nil
}

func (b *IPFSStore) Stat(ctx context.Context, key string) (*interfaces.ObjectMetadata, error) {
	st, err := b.shell.FilesStat(ctx, b.mfsPath(key))
	if err != nil {
		return nil, b.wrapErr(key, "stat", err)
	}
	if st.Type != "file" {
		return nil, fmt.Errorf("%w: %s is a %s", interfaces.ErrNotFound, key, st.Type)
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &interfaces.ObjectMetadata{
		Key:         key,
		Size:        int64(st.Size),
		ContentType: contentType,
		ETag:        st.Hash,
	}, nil
}

func (b *IPFSStore) Available(ctx context.Context) bool {
	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable", slog.String("address", b.address))
		return false
	}
	return true
}

func (b *IPFSStore) Name() string {
	return fmt.Sprintf("ipfs-%s", b.address)
}

func (b *IPFSStore) LocationURI() string {
	return b.locationURI
}

func (b *IPFSStore) mfsPath(key string) string {
	return path.Join(b.root, NormalizeKey(key))
}

func (b *IPFSStore) wrapErr(key, op string, err error) error {
	if isIPFSNotFound(err) {
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
	}
	return fmt.Errorf("failed to %s IPFS object: %w", op, err)
}

func isIPFSNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "no link named")
}
