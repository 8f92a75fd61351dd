package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pcranston/metainventory/internal/config"
	"github.com/pcranston/metainventory/internal/metadata"
	"github.com/pcranston/metainventory/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type mockService struct {
	record    metadata.Record
	hit       bool
	createErr error
	resolvErr error
}

func (m *mockService) CreateOrRefresh(_ context.Context, _ string) (metadata.Record, error) {
	if m.createErr != nil {
		return metadata.Record{}, m.createErr
	}
	return m.record, nil
}

func (m *mockService) Resolve(_ context.Context, _ string) (metadata.Record, bool, error) {
	if m.resolvErr != nil {
		return metadata.Record{}, false, m.resolvErr
	}
	return m.record, m.hit, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

func baseConfig() config.Config {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func newTestServer(svc MetadataService, pinger Pinger, cfg config.Config) *Server {
	return NewServer(svc, pinger, cfg, zap.NewNop())
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&mockService{}, &mockPinger{}, baseConfig())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReflectsStoreHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&mockService{}, &mockPinger{}, baseConfig())
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	srv = newTestServer(&mockService{}, &mockPinger{err: errors.New("down")}, baseConfig())
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetMetadataHit(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &mockService{
		hit: true,
		record: metadata.Record{
			URL:        "https://example.com",
			Headers:    map[string]string{"content-type": "text/html"},
			Cookies:    map[string]string{},
			PageSource: "<html>cached</html>",
			CreatedAt:  created,
			UpdatedAt:  created,
		},
	}
	srv := newTestServer(svc, &mockPinger{}, baseConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/metadata?url=https://example.com", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got metadata.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "https://example.com", got.URL)
	require.Equal(t, "<html>cached</html>", got.PageSource)
}

func TestGetMetadataMissReturnsAccepted(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&mockService{hit: false}, &mockPinger{}, baseConfig())
	req := httptest.NewRequest(http.MethodGet, "/v1/metadata?url=https://example.com", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body acceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "https://example.com", body.URL)
	require.NotEmpty(t, body.Message)
}

func TestGetMetadataRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&mockService{}, &mockPinger{}, baseConfig())
	for _, raw := range []string{"", "ftp://example.com", "example.com", "https://"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/metadata?url="+raw, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, "url=%q", raw)
	}
}

func TestGetMetadataStoreFailure(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&mockService{resolvErr: errors.New("store unavailable")}, &mockPinger{}, baseConfig())
	req := httptest.NewRequest(http.MethodGet, "/v1/metadata?url=https://example.com", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCreateMetadataSuccess(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	svc := &mockService{record: metadata.Record{
		URL:        "https://example.com",
		PageSource: "<html>v1</html>",
		CreatedAt:  now,
		UpdatedAt:  now,
	}}
	srv := newTestServer(svc, &mockPinger{}, baseConfig())

	body := bytes.NewBufferString(`{"url":"https://example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/metadata", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got metadata.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "<html>v1</html>", got.PageSource)
}

func TestCreateMetadataValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&mockService{}, &mockPinger{}, baseConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/metadata", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/metadata", bytes.NewBufferString(`{"url":"notaurl"}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateMetadataUpstreamFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "fetch error",
			err:  &metadata.FetchError{URL: "https://example.com", Err: errors.New("timeout")},
			want: http.StatusBadGateway,
		},
		{
			name: "upstream status",
			err:  &metadata.UpstreamStatusError{URL: "https://example.com", StatusCode: 500},
			want: http.StatusBadGateway,
		},
		{
			name: "store failure",
			err:  errors.New("connection reset"),
			want: http.StatusInternalServerError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := newTestServer(&mockService{createErr: tc.err}, &mockPinger{}, baseConfig())
			body := bytes.NewBufferString(`{"url":"https://example.com"}`)
			req := httptest.NewRequest(http.MethodPost, "/v1/metadata", body)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	srv := newTestServer(&mockService{hit: true, record: metadata.Record{URL: "https://example.com"}}, &mockPinger{}, cfg)

	req := httptest.NewRequest(http.MethodGet, "/v1/metadata?url=https://example.com", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/metadata?url=https://example.com", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Health endpoints stay open.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&mockService{}, &mockPinger{}, baseConfig())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsRouteLabelIsBounded(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&mockService{hit: true, record: metadata.Record{URL: "https://example.com"}}, &mockPinger{}, baseConfig())

	// Unmatched paths must collapse into one label value rather than minting
	// a new one per path.
	for _, path := range []string{"/wp-admin/setup-config.php", "/.env.backup.2019"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/metadata?url=https://example.com", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	scrape := rec.Body.String()
	require.Contains(t, scrape, `route="unmatched"`)
	require.Contains(t, scrape, `route="/v1/metadata"`)
	require.NotContains(t, scrape, "wp-admin")
	require.NotContains(t, scrape, ".env.backup")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("generic panic becomes 500", func(t *testing.T) {
		t.Parallel()

		h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))
		rec := httptest.NewRecorder()
		require.NotPanics(t, func() {
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/metadata", nil))
		})
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("abort sentinel keeps propagating", func(t *testing.T) {
		t.Parallel()

		h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))
		rec := httptest.NewRecorder()
		require.PanicsWithValue(t, http.ErrAbortHandler, func() {
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/metadata", nil))
		})
	})
}
