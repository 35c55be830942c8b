package recognizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/PhiFever/devanagari-ocr-server/internal/config"
	"github.com/PhiFever/devanagari-ocr-server/internal/imageproc"
	"github.com/PhiFever/devanagari-ocr-server/internal/logger"
	"github.com/PhiFever/devanagari-ocr-server/pkg/version"
)

// maxPaddleResponse 限制读取的响应体大小
const maxPaddleResponse = 16 << 20

// paddleRequest 是发往 PaddleOCR 服务端的请求体
type paddleRequest struct {
	Images      []string `json:"images"`
	Lang        string   `json:"lang,omitempty"`
	UseAngleCls bool     `json:"use_angle_cls"`
	Cls         bool     `json:"cls"`
}

// permanentError 表示重试没有意义的错误（例如 4xx）
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

type paddleBackend struct {
	client     *http.Client
	endpoint   string
	lang       string
	angleCls   bool
	retries    int
	retryDelay time.Duration
}

func newPaddleFactory(cfg *config.Config) (Factory, error) {
	pcfg := cfg.OCR.Paddle
	if pcfg.Endpoint == "" {
		return nil, errors.New("paddle endpoint is empty")
	}

	return func(ctx context.Context) (Backend, error) {
		retries := pcfg.Retries
		if retries < 1 {
			retries = 1
		}
		logger.Infof("[paddle] Using PaddleOCR service at %s (lang=%s, angle_cls=%v)", pcfg.Endpoint, pcfg.Lang, pcfg.UseAngleCls)
		return &paddleBackend{
			client:     &http.Client{Timeout: pcfg.Timeout},
			endpoint:   pcfg.Endpoint,
			lang:       pcfg.Lang,
			angleCls:   pcfg.UseAngleCls,
			retries:    retries,
			retryDelay: pcfg.RetryDelay,
		}, nil
	}, nil
}

// retry 最多执行 attempts 次，遇到 permanentError 或 ctx 取消立即返回
func retry(ctx context.Context, attempts int, sleep time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return err
		}
		if i == attempts-1 {
			break
		}
		logger.Warningf("[paddle] Attempt %d/%d failed: %v", i+1, attempts, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return err
}

func (b *paddleBackend) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	data, err := imageproc.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(paddleRequest{
		Images:      []string{base64.StdEncoding.EncodeToString(data)},
		Lang:        b.lang,
		UseAngleCls: b.angleCls,
		Cls:         b.angleCls,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	var payload []byte
	err = retry(ctx, b.retries, b.retryDelay, func() error {
		var postErr error
		payload, postErr = b.post(ctx, body)
		return postErr
	})
	if err != nil {
		return nil, fmt.Errorf("paddle request failed: %w", err)
	}

	lines, err := ParsePaddlePayload(payload)
	if err != nil {
		return nil, err
	}
	return NewResult(lines, b.lang), nil
}

func (b *paddleBackend) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &permanentError{fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &permanentError{ctx.Err()}
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPaddleResponse))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, &permanentError{err}
		}
		return nil, err
	}
	return data, nil
}

func (b *paddleBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// truncate 截断到最多 n 字节，不会切开多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
