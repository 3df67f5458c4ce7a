// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DirBlobs is a BlobSource keeping one file per recording id under Dir.
// It reports no content type; the uploader falls back to Recording.ContentType.
type DirBlobs struct {
	Dir string
}

var _ BlobSource = DirBlobs{}

func (d DirBlobs) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid recording id %q", id)
	}
	return filepath.Join(d.Dir, id), nil
}

func (d DirBlobs) Open(_ context.Context, recordingID string) (io.ReadCloser, int64, string, error) {
	p, err := d.path(recordingID)
	if err != nil {
		return nil, 0, "", err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, "", err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, "", err
	}
	return f, st.Size(), "", nil
}

// Import copies src into the blob directory under recordingID and returns the
// stored size. The file is written to a temp name and renamed into place.
func (d DirBlobs) Import(_ context.Context, recordingID string, src io.Reader) (int64, error) {
	p, err := d.path(recordingID)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(d.Dir, "."+recordingID+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write blob %s: %w", recordingID, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return 0, fmt.Errorf("failed to store blob %s: %w", recordingID, err)
	}
	return n, nil
}
