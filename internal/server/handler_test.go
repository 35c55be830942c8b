package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhiFever/devanagari-ocr-server/internal/config"
	"github.com/PhiFever/devanagari-ocr-server/internal/logger"
	"github.com/PhiFever/devanagari-ocr-server/internal/recognizer"
)

func TestMain(m *testing.M) {
	logger.SetupWithWriters(logger.WARNING, logger.FormatText, os.Stderr)
	code := m.Run()
	logger.Close()
	os.Exit(code)
}

type fakeEngine struct {
	calls  atomic.Int32
	loaded atomic.Bool
	err    error
	delay  time.Duration
	lines  []recognizer.Line
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Loaded() bool { return f.loaded.Load() }

func (f *fakeEngine) Recognize(ctx context.Context, img image.Image) (*recognizer.Result, error) {
	f.calls.Add(1)
	f.loaded.Store(true)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return recognizer.NewResult(f.lines, "hin"), nil
}

func helloLines() []recognizer.Line {
	return []recognizer.Line{
		{Words: []recognizer.Word{
			{Text: "नमस्ते", Confidence: 0.9, Box: image.Rect(0, 0, 10, 10)},
			{Text: "दुनिया", Confidence: 0.7, Box: image.Rect(12, 0, 20, 10)},
		}},
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestServer(t *testing.T, engine Engine, mutate func(cfg *config.Config)) (http.Handler, *ResultCache) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	cache := NewResultCache(cfg.Cache.TTL, cfg.Cache.CleanupInterval)
	h, err := NewHandler(engine, cache, cfg)
	require.NoError(t, err)
	return NewRouter(h), cache
}

func uploadRequest(t *testing.T, target, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestPredictSuccess(t *testing.T) {
	engine := &fakeEngine{lines: helloLines()}
	srv, _ := newTestServer(t, engine, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "page.png", pngBytes(t)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeBody(t, rec)
	assert.Len(t, body, 2, "only recognized_text and confidence are returned")
	assert.Equal(t, "नमस्ते दुनिया", body["recognized_text"])
	assert.Equal(t, "0.80", body["confidence"])
}

func TestPredictEmptyResult(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "blank.png", pngBytes(t)))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "", body["recognized_text"])
	assert.Equal(t, "0.00", body["confidence"])
}

func TestPredictDetail(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{lines: helloLines()}, nil)

	req := uploadRequest(t, "/predict?detail=1", "file", "page.png", pngBytes(t))
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "fake", body["engine"])
	assert.Equal(t, "abc-123", body["request_id"])

	assert.Equal(t, false, body["cached"], "uncached responses still report cached")
	assert.Contains(t, body, "elapsed_ms")

	lines, ok := body["lines"].([]any)
	require.True(t, ok)
	require.Len(t, lines, 1)
	line := lines[0].(map[string]any)
	assert.Equal(t, "नमस्ते दुनिया", line["text"])
	assert.Equal(t, []any{0.0, 0.0, 20.0, 10.0}, line["box"])
}

func TestPredictDetailEmptyResult(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict?detail=true", "file", "blank.png", pngBytes(t)))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "0.00", body["confidence"])
	assert.Equal(t, []any{}, body["lines"])
	assert.Equal(t, false, body["cached"])
	assert.Contains(t, body, "elapsed_ms")
	assert.Contains(t, body, "engine")
	assert.Contains(t, body, "request_id")
}

func TestPredictDetailDisabledValues(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{lines: helloLines()}, nil)

	for _, q := range []string{"?detail=0", "?detail=false", "?detail=", "?detail=maybe"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, uploadRequest(t, "/predict"+q, "file", "page.png", pngBytes(t)))
		require.Equal(t, http.StatusOK, rec.Code, q)
		assert.Len(t, decodeBody(t, rec), 2, "query %s", q)
	}
}

func TestPredictMissingFile(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict", "image", "page.png", pngBytes(t)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file uploaded", decodeBody(t, rec)["error"])
}

func TestPredictNotMultipart(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader([]byte(`{"file":"x"}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file uploaded", decodeBody(t, rec)["error"])
}

func TestPredictEmptyFilename(t *testing.T) {
	engine := &fakeEngine{}
	srv, _ := newTestServer(t, engine, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file selected", decodeBody(t, rec)["error"])
	assert.Equal(t, int32(0), engine.calls.Load())
}

func TestPredictTooLarge(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, func(cfg *config.Config) {
		cfg.Server.MaxUploadBytes = 1024
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "big.png", bytes.Repeat([]byte{0x42}, 4096)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "File too large", decodeBody(t, rec)["error"])
}

func TestPredictTooLargeWithoutContentLength(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, func(cfg *config.Config) {
		cfg.Server.MaxUploadBytes = 1024
	})

	req := uploadRequest(t, "/predict", "file", "big.png", bytes.Repeat([]byte{0x42}, 4096))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPredictFileAtUploadLimit(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, func(cfg *config.Config) {
		cfg.Server.MaxUploadBytes = 1024
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "exact.bin", bytes.Repeat([]byte{0x42}, 1024)))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "multipart framing does not count against the limit")
	assert.Contains(t, decodeBody(t, rec)["error"], "invalid image")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "over.bin", bytes.Repeat([]byte{0x42}, 1025)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPredictInvalidImage(t *testing.T) {
	engine := &fakeEngine{}
	srv, _ := newTestServer(t, engine, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "notes.txt", []byte("plain text, not an image")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "invalid image")
	assert.Equal(t, int32(0), engine.calls.Load())
}

func TestPredictEngineError(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{err: errors.New("tesseract exploded")}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "page.png", pngBytes(t)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "tesseract exploded", decodeBody(t, rec)["error"])
}

func TestPredictTimeout(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{delay: time.Second}, func(cfg *config.Config) {
		cfg.OCR.RequestTimeout = 20 * time.Millisecond
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "page.png", pngBytes(t)))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

// slowBackend ignores ctx like the Tesseract C API does
type slowBackend struct {
	delay time.Duration
}

func (b *slowBackend) Recognize(ctx context.Context, img image.Image) (*recognizer.Result, error) {
	time.Sleep(b.delay)
	return recognizer.NewResult(helloLines(), "hin"), nil
}

func (b *slowBackend) Close() error { return nil }

func TestPredictTimeoutWithLazyEngine(t *testing.T) {
	engine := recognizer.NewLazyEngine("slow", func(ctx context.Context) (recognizer.Backend, error) {
		return &slowBackend{delay: 300 * time.Millisecond}, nil
	}, true)
	srv, cache := newTestServer(t, engine, func(cfg *config.Config) {
		cfg.OCR.RequestTimeout = 20 * time.Millisecond
	})

	start := time.Now()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "page.png", pngBytes(t)))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "recognition timed out", decodeBody(t, rec)["error"])
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, 0, cache.Len(), "timed out results are not cached")
}

func TestPredictQueuedBehindSerializedEngineTimesOut(t *testing.T) {
	engine := recognizer.NewLazyEngine("slow", func(ctx context.Context) (recognizer.Backend, error) {
		return &slowBackend{delay: 300 * time.Millisecond}, nil
	}, true)
	require.NoError(t, engine.Warmup(context.Background()))

	busy := make(chan struct{})
	go func() {
		defer close(busy)
		_, _ = engine.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	}()
	require.Eventually(t, func() bool { return engine.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	srv, _ := newTestServer(t, engine, func(cfg *config.Config) {
		cfg.OCR.RequestTimeout = 20 * time.Millisecond
	})

	start := time.Now()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "page.png", pngBytes(t)))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	<-busy
}

func TestPredictUsesCache(t *testing.T) {
	engine := &fakeEngine{lines: helloLines()}
	srv, cache := newTestServer(t, engine, nil)
	data := pngBytes(t)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "page.png", data))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, int32(1), engine.calls.Load())
	assert.Equal(t, 1, cache.Len())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict?detail=1", "file", "page.png", data))
	assert.Equal(t, true, decodeBody(t, rec)["cached"])
}

func TestPredictCacheDisabled(t *testing.T) {
	engine := &fakeEngine{lines: helloLines()}
	srv, cache := newTestServer(t, engine, func(cfg *config.Config) {
		cfg.Cache.TTL = 0
	})
	require.Nil(t, cache)
	data := pngBytes(t)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "page.png", data))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, int32(2), engine.calls.Load())
}

func TestPredictMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/predict", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIndex(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `action="/predict"`)
	assert.Contains(t, rec.Body.String(), "Engine: fake")
	assert.Contains(t, rec.Body.String(), "Max upload: 10 MB")
}

func TestUnknownPath(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzAndReadyz(t *testing.T) {
	engine := &fakeEngine{lines: helloLines()}
	srv, _ := newTestServer(t, engine, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "loading", decodeBody(t, rec)["status"])
	assert.Equal(t, int32(0), engine.calls.Load(), "readiness probes never load the model")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "page.png", pngBytes(t)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "fake", body["engine"])
	assert.Equal(t, 1.0, body["cached_images"])
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36, "generated IDs are UUIDs")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "client-id")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, "client-id", rec.Header().Get(RequestIDHeader))
}

func TestRecoverMiddleware(t *testing.T) {
	h := withRequestID(withRecover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeBody(t, rec)["error"])
}
