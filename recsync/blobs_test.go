package recsync

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirBlobs_ImportAndOpen(t *testing.T) {
	ctx := context.Background()
	blobs := DirBlobs{Dir: t.TempDir()}

	n, err := blobs.Import(ctx, "r1", strings.NewReader("pcm-bytes"))
	require.NoError(t, err)
	require.Equal(t, int64(9), n)

	body, size, contentType, err := blobs.Open(ctx, "r1")
	require.NoError(t, err)
	defer body.Close()
	require.Equal(t, int64(9), size)
	require.Empty(t, contentType)
	b, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "pcm-bytes", string(b))

	_, _, _, err = blobs.Open(ctx, "missing")
	require.Error(t, err)
	_, err = blobs.Import(ctx, "../escape", strings.NewReader("x"))
	require.Error(t, err)
}
