package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mobiletoly/go-recsync/internal/mocks"
	"github.com/mobiletoly/go-recsync/recsync"
)

type fixture struct {
	srv    *httptest.Server
	feed   *mocks.MockChangeFeed
	engine *recsync.Engine
	queue  *recsync.UploadQueue
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	ctrl := gomock.NewController(t)

	kv := recsync.NewMemoryKV()
	feed := mocks.NewMockChangeFeed(ctrl)
	cursors := recsync.NewCursorStore(kv, nil, logger)
	merger := recsync.NewMergeEngine(recsync.NewMemoryStore(), recsync.NewKVTombstones(kv), recsync.WithMergeLogger(logger))
	puller := recsync.NewPuller(feed, merger, cursors, recsync.WithPullerLogger(logger))
	engine := recsync.NewEngine(puller, cursors, kv, recsync.WithEngineLogger(logger))
	require.NoError(t, engine.Init(ctx))
	queue := recsync.OpenUploadQueue(ctx, kv, recsync.DefaultQueueConfig(), recsync.WithQueueLogger(logger))

	issuer := recsync.NewTokenIssuer("control-secret")
	token, err := issuer.GenerateToken("user-1", "device-1", time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(&Deps{Engine: engine, Queue: queue, Auth: issuer, Logger: logger}))
	t.Cleanup(func() {
		srv.Close()
		_ = engine.Shutdown(context.Background())
	})
	return &fixture{srv: srv, feed: feed, engine: engine, queue: queue, token: token}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func TestControl_RequiresToken(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var er recsync.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
	require.Equal(t, "authentication_failed", er.Error)

	other, err := recsync.NewTokenIssuer("other-secret").GenerateToken("u", "d", time.Hour)
	require.NoError(t, err)
	f.token = other
	resp2, _ := f.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	health, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	require.Equal(t, http.StatusOK, health.StatusCode)
}

func TestControl_StatusAndConfig(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st recsync.Status
	require.NoError(t, json.Unmarshal(body, &st))
	require.True(t, st.IsEnabled)
	require.Nil(t, st.LastSyncAt)

	resp, body = f.do(t, http.MethodPatch, "/v1/config", `{"maxPages": 4, "maxDurationMs": 1500}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"maxDurationMs":1500`)
	require.Equal(t, 4, f.engine.GetConfiguration().MaxPages)
	require.Equal(t, 1500*time.Millisecond, f.engine.GetConfiguration().MaxDuration)

	resp, _ = f.do(t, http.MethodPatch, "/v1/config", `{"pageLimit": 0}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPatch, "/v1/config", `not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestControl_SyncNow(t *testing.T) {
	f := newFixture(t)
	f.feed.EXPECT().FetchChanges(gomock.Any(), "", 200).Return(&recsync.ChangePage{}, nil)

	resp, body := f.do(t, http.MethodPost, "/v1/sync", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Started bool `json:"started"`
		Result  struct {
			Success    bool   `json:"success"`
			StopReason string `json:"stopReason"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.True(t, out.Started)
	require.True(t, out.Result.Success)
	require.Equal(t, "exhausted", out.Result.StopReason)

	resp, body = f.do(t, http.MethodGet, "/v1/should-sync", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"run":false`)

	resp, _ = f.do(t, http.MethodPost, "/v1/sync/disable", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = f.do(t, http.MethodPost, "/v1/sync", "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, string(body), "sync_disabled")

	resp, _ = f.do(t, http.MethodPost, "/v1/sync/reset", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestControl_Uploads(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/uploads/rec-1", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var item recsync.QueueItem
	require.NoError(t, json.Unmarshal(body, &item))
	require.Equal(t, recsync.StQueued, item.Status)

	resp, body = f.do(t, http.MethodGet, "/v1/uploads", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list UploadsResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 1, list.Queued)
	require.Len(t, list.Items, 1)

	resp, _ = f.do(t, http.MethodPost, "/v1/uploads/unknown/retry", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/v1/library/counts", "")
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

// brokenWritesKV fails every Set while broken is set
type brokenWritesKV struct {
	*recsync.MemoryKV
	broken atomic.Bool
}

func (k *brokenWritesKV) Set(ctx context.Context, key string, value []byte) error {
	if k.broken.Load() {
		return errors.New("disk full")
	}
	return k.MemoryKV.Set(ctx, key, value)
}

func TestControl_UploadsReportPersistFailures(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	kv := &brokenWritesKV{MemoryKV: recsync.NewMemoryKV()}
	queue := recsync.OpenUploadQueue(ctx, kv, recsync.DefaultQueueConfig(), recsync.WithQueueLogger(logger))
	issuer := recsync.NewTokenIssuer("control-secret")
	token, err := issuer.GenerateToken("user-1", "device-1", time.Hour)
	require.NoError(t, err)
	srv := httptest.NewServer(NewRouter(&Deps{Queue: queue, Auth: issuer, Logger: logger}))
	t.Cleanup(srv.Close)
	f := &fixture{srv: srv, queue: queue, token: token}

	errorCode := func(body []byte) string {
		var er recsync.ErrorResponse
		require.NoError(t, json.Unmarshal(body, &er))
		return er.Error
	}

	kv.broken.Store(true)
	resp, body := f.do(t, http.MethodPost, "/v1/uploads/rec-1", "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "persist_failed", errorCode(body))
	kv.broken.Store(false)

	// The queued transition is still held in memory.
	resp, body = f.do(t, http.MethodPost, "/v1/uploads/rec-1/retry", "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "not_retryable", errorCode(body))

	require.NoError(t, queue.MarkUploading(ctx, "rec-1"))
	require.NoError(t, queue.MarkFailed(ctx, "rec-1", "network"))
	resp, body = f.do(t, http.MethodPost, "/v1/uploads/rec-1/retry", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var item recsync.QueueItem
	require.NoError(t, json.Unmarshal(body, &item))
	require.Equal(t, recsync.StQueued, item.Status)

	require.NoError(t, queue.MarkUploading(ctx, "rec-1"))
	require.NoError(t, queue.MarkFailed(ctx, "rec-1", "network"))
	kv.broken.Store(true)
	resp, body = f.do(t, http.MethodPost, "/v1/uploads/rec-1/retry", "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "persist_failed", errorCode(body))
}

func TestControl_StatusStream(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/status/stream?access_token=" + f.token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	readStatus := func() recsync.Status {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var st recsync.Status
		require.NoError(t, json.Unmarshal(data, &st))
		return st
	}

	require.True(t, readStatus().IsEnabled)
	require.NoError(t, f.engine.DisableSync(ctx))
	// An earlier status may still be in flight; the disabled one must follow.
	for i := 0; i < 3; i++ {
		if !readStatus().IsEnabled {
			return
		}
	}
	t.Fatal("disabled status was not pushed")
}
