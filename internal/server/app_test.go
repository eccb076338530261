package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/realtime-csv-ingest/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return &cfg
}

func buildApp(t *testing.T, cfg *config.Config, logger *zap.Logger) *App {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	app, err := Build(context.Background(), cfg, WithLogger(logger), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	return app
}

func TestServeUploadAndRetrieve(t *testing.T) {
	backends := map[string]func(*config.Config, string){
		config.BackendMemory: func(*config.Config, string) {},
		config.BackendLocal: func(c *config.Config, dir string) {
			c.Storage.Local.BaseDir = filepath.Join(dir, "records")
		},
		config.BackendSQLite: func(c *config.Config, dir string) {
			c.Database.SQLitePath = filepath.Join(dir, "records.db")
		},
	}
	for backend, configure := range backends {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Storage.Backend = backend
			configure(cfg, t.TempDir())
			require.NoError(t, cfg.Validate())

			core, logs := observer.New(zapcore.InfoLevel)
			app := buildApp(t, cfg, zap.New(core))

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- app.Serve(ctx, ln) }()

			base := "http://" + ln.Addr().String()
			id := upload(t, base, "a,b\n1,2")

			resp, err := http.Get(base + "/data/" + id)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			var rows [][]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
			require.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, rows)

			cancel()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("Serve did not return after cancel")
			}
			require.Equal(t, 1, logs.FilterMessage("server listening").Len())
			require.Equal(t, 1, logs.FilterMessage("shutdown complete").Len())
		})
	}
}

func TestBuildFailsForUnusableBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = "mongo"
	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "unsupported storage backend")
}

func TestBuildFailsOnDuplicateCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(reg))
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	_, err = Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(reg))
	require.ErrorContains(t, err, "progress metrics init failed")
}

func TestHandlerRateLimited(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RPS = 0.001
	cfg.RateLimit.Burst = 1
	app := buildApp(t, cfg, nil)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: app.Handler(), ReadHeaderTimeout: time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	base := "http://" + ln.Addr().String()
	upload(t, base, "x")

	body, ct := csvBody(t, "y")
	resp, err := http.Post(base+"/import", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func upload(t *testing.T, base, content string) string {
	t.Helper()
	body, ct := csvBody(t, content)
	resp, err := http.Post(base+"/import", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out struct {
		RequestID string `json:"requestId"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NotEmpty(t, out.RequestID)
	return out.RequestID
}

func csvBody(t *testing.T, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, "upload.csv"))
	h.Set("Content-Type", "text/csv")
	w, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}
