package recsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestHTTPClient(srv *httptest.Server) *HTTPClient {
	return NewHTTPClient(srv.URL+"/", "dev-1", StaticToken("tok"), WithHTTPLogger(quietLogger()))
}

func TestHTTPClient_FetchChanges(t *testing.T) {
	var gotQuery []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/sync/changes", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "dev-1", r.Header.Get("X-Device-ID"))
		gotQuery = append(gotQuery, r.URL.RawQuery)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"next": "c2",
			"hasMore": true,
			"items": [
				{"entityType": "recording", "operation": "upsert", "id": "r1", "ownerId": "u1",
				 "updatedAt": "2025-03-01T12:00:00Z", "payload": {"title": "Standup", "durationSec": 61.5}},
				{"entityType": "recording_tag", "operation": "upsert", "id": "rt1",
				 "updatedAt": "2025-03-01T12:00:00Z", "recordingId": "r1", "tagId": "t1"},
				{"entityType": "playlist", "operation": "upsert", "id": "p1", "updatedAt": "2025-03-01T12:00:00Z"}
			]
		}`)
	}))
	defer srv.Close()

	c := newTestHTTPClient(srv)
	page, err := c.FetchChanges(context.Background(), "", 50)
	require.NoError(t, err)
	require.Equal(t, "c2", page.Next)
	require.True(t, page.HasMore)
	require.Len(t, page.Items, 2)
	require.Equal(t, 1, page.Rejected)

	rec := page.Items[0].Entity.(*Recording)
	require.Equal(t, "Standup", rec.Title)
	require.Equal(t, "u1", rec.OwnerID)
	require.True(t, rec.UpdatedAt.Equal(t0))
	require.Equal(t, EntityKey{Type: EntityRecordingTag, ID: LinkID("r1", "t1")}, page.Items[1].Key())

	_, err = c.FetchChanges(context.Background(), "c1", 50)
	require.NoError(t, err)
	require.Equal(t, []string{"limit=50", "limit=50&since=c1"}, gotQuery)
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	cases := []struct {
		status  int
		want    error
		message string
	}{
		{http.StatusUnauthorized, ErrReauthenticate, "Authentication failed: please sign in again"},
		{http.StatusBadRequest, ErrCursorInvalid, "Sync cursor is invalid or expired: reset required"},
		{http.StatusBadGateway, ErrServerUnavailable, "Server unavailable (status 502): retry later"},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "x", Message: "details"})
			}))
			defer srv.Close()

			_, err := newTestHTTPClient(srv).FetchChanges(context.Background(), "c1", 10)
			require.Error(t, err)
			require.True(t, errors.Is(err, tc.want))
			require.Equal(t, tc.message, err.Error())

			var te *TransportError
			require.True(t, errors.As(err, &te))
			require.Equal(t, "details", te.Message)
		})
	}
}

func TestHTTPClient_OtherStatusKeepsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestHTTPClient(srv).FetchChanges(context.Background(), "", 10)
	require.EqualError(t, err, "Network request failed: server returned status 429: slow down")
}

func TestHTTPClient_UploadFlow(t *testing.T) {
	var blob string
	var finalized FinalizeUploadRequest
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v1/uploads/target", func(w http.ResponseWriter, r *http.Request) {
		var req UploadTargetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, UploadTargetRequest{ID: "r1", ContentType: "audio/m4a", SizeBytes: 5}, req)
		_ = json.NewEncoder(w).Encode(UploadTarget{
			URL: srv.URL + "/blob/r1", Method: http.MethodPut, Key: "k/r1", ExpiresSec: 60,
			Headers: map[string]string{"X-Upload-Token": "once"},
		})
	})
	mux.HandleFunc("/blob/r1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "once", r.Header.Get("X-Upload-Token"))
		require.Empty(t, r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		blob = string(b)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/v1/uploads/finalize", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&finalized))
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestHTTPClient(srv)
	p := NewUploadPipeline(c, WithPipelineLogger(quietLogger()))
	err := p.Upload(context.Background(), UploadItem{
		Recording:   &Recording{ID: "r1", Title: "Walk", CreatedAt: t0, UpdatedAt: t0},
		ContentType: "audio/m4a",
		SizeBytes:   5,
		Body:        strings.NewReader("hello"),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "hello", blob)
	require.Equal(t, "k/r1", finalized.Key)
	require.Equal(t, "Walk", finalized.Title)
}

func TestHTTPClient_ExpiredTokenShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	issuer := NewTokenIssuer("secret")
	tok, err := issuer.GenerateToken("u1", "dev-1", time.Minute)
	require.NoError(t, err)

	later := func() time.Time { return time.Now().Add(time.Hour) }
	c := NewHTTPClient(srv.URL, "dev-1", JWTTokenSource(tok, later), WithHTTPLogger(quietLogger()))
	_, err = c.FetchChanges(context.Background(), "", 10)
	require.ErrorIs(t, err, ErrReauthenticate)
	require.Equal(t, int32(0), hits.Load())

	c.Token = JWTTokenSource(tok, nil)
	_, err = c.FetchChanges(context.Background(), "", 10)
	require.Error(t, err, "empty body is not a valid page")
	require.Equal(t, int32(1), hits.Load())
}

func TestClassifyError_Timeouts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	te := ClassifyError(ctx.Err())
	require.Equal(t, KindServerUnavailable, te.Kind)

	te = ClassifyError(errors.New("connection refused"))
	require.Equal(t, KindTransport, te.Kind)
	require.Equal(t, "Network request failed: connection refused", te.Error())
	require.Nil(t, ClassifyError(nil))
}
