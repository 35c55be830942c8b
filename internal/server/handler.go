package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"image"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/PhiFever/devanagari-ocr-server/internal/config"
	"github.com/PhiFever/devanagari-ocr-server/internal/imageproc"
	"github.com/PhiFever/devanagari-ocr-server/internal/logger"
	"github.com/PhiFever/devanagari-ocr-server/internal/recognizer"
	"github.com/PhiFever/devanagari-ocr-server/internal/textnorm"
	"github.com/PhiFever/devanagari-ocr-server/pkg/version"
)

//go:embed templates/index.html
var templateFS embed.FS

// multipartMemory 是解析 multipart 时保存在内存中的上限，超出部分写入临时文件
const multipartMemory = 8 << 20

// multipartOverhead 是请求体相对文件本身允许多出的字节数（边界、头部和其他表单字段）
const multipartOverhead = 64 << 10

// Engine 是 Handler 依赖的识别引擎
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image) (*recognizer.Result, error)
	Loaded() bool
}

// Handler 是 HTTP 处理器
type Handler struct {
	engine         Engine
	cache          *ResultCache
	index          *template.Template
	imageOpts      imageproc.Options
	maxUpload      int64
	maxPixels      int
	requestTimeout time.Duration
	language       string
}

// NewHandler 创建 Handler
func NewHandler(engine Engine, cache *ResultCache, cfg *config.Config) (*Handler, error) {
	index, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse index template: %w", err)
	}

	language := cfg.OCR.Language
	if cfg.OCR.Engine == config.EnginePaddle {
		language = cfg.OCR.Paddle.Lang
	}

	return &Handler{
		engine: engine,
		cache:  cache,
		index:  index,
		imageOpts: imageproc.Options{
			MaxSide:   cfg.Image.MaxSide,
			Grayscale: cfg.Image.Grayscale,
			Binarize:  cfg.Image.Binarize,
		},
		maxUpload:      cfg.Server.MaxUploadBytes,
		maxPixels:      imageproc.DefaultMaxPixels,
		requestTimeout: cfg.OCR.RequestTimeout,
		language:       language,
	}, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type predictResponse struct {
	RecognizedText string `json:"recognized_text"`
	Confidence     string `json:"confidence"`
	// 只有 ?detail=1 时才非 nil
	*predictDetail
}

type predictDetail struct {
	Engine    string         `json:"engine"`
	RequestID string         `json:"request_id"`
	ElapsedMS int64          `json:"elapsed_ms"`
	Cached    bool           `json:"cached"`
	Lines     []lineResponse `json:"lines"`
}

type lineResponse struct {
	Text       string `json:"text"`
	Confidence string `json:"confidence"`
	Box        [4]int `json:"box"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ErrorNoTracef("Encoding error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// Index 渲染上传页面
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Title       string
		Engine      string
		Language    string
		MaxUploadMB int64
	}{
		Title:       "Hindi / Devanagari OCR",
		Engine:      h.engine.Name(),
		Language:    h.language,
		MaxUploadMB: h.maxUpload >> 20,
	}

	var buf bytes.Buffer
	if err := h.index.Execute(&buf, data); err != nil {
		logger.Errorf("[%s] Render index failed: %v", RequestID(r.Context()), err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// Predict 识别上传的图像
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := RequestID(r.Context())

	// max_upload_bytes 限制的是文件本身，请求体可以多出 multipart 的封装
	maxBody := h.maxUpload + multipartOverhead
	if r.ContentLength > maxBody {
		logger.Warningf("[%s] Upload of %d bytes exceeds %d", reqID, r.ContentLength, maxBody)
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warningf("[%s] Upload exceeds %d bytes", reqID, h.maxUpload)
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		logger.Warningf("[%s] Parse multipart form failed: %v", reqID, err)
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		// 文件名为空的文件字段会被当作普通表单值
		if _, ok := r.MultipartForm.Value["file"]; ok {
			writeError(w, http.StatusBadRequest, "No file selected")
			return
		}
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file selected")
		return
	}
	if header.Size > h.maxUpload {
		logger.Warningf("[%s] File %s of %d bytes exceeds %d", reqID, header.Filename, header.Size, h.maxUpload)
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		logger.ErrorNoTracef("[%s] Read upload failed: %v", reqID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logger.Infof("[%s] Received %s (%d bytes)", reqID, header.Filename, len(data))

	key := CacheKey(data)
	res, cached := h.cache.Get(key)
	if cached {
		logger.Debugf("[%s] Cache hit %s", reqID, key[:12])
	} else {
		res, err = h.recognize(r.Context(), data)
		if err != nil {
			h.writeRecognizeError(w, reqID, err)
			return
		}
		h.cache.Set(key, res)
	}

	elapsed := time.Since(start)
	logger.Infof("[%s] Recognized %d words, confidence %s, in %dms",
		reqID, res.WordCount(), textnorm.FormatConfidence(res.Confidence), elapsed.Milliseconds())

	resp := predictResponse{
		RecognizedText: res.Text,
		Confidence:     textnorm.FormatConfidence(res.Confidence),
	}
	if wantDetail(r) {
		resp.predictDetail = &predictDetail{
			Engine:    h.engine.Name(),
			RequestID: reqID,
			ElapsedMS: elapsed.Milliseconds(),
			Cached:    cached,
			Lines:     make([]lineResponse, 0, len(res.Lines)),
		}
		for _, l := range res.Lines {
			resp.Lines = append(resp.Lines, lineResponse{
				Text:       l.Text,
				Confidence: textnorm.FormatConfidence(l.Confidence),
				Box:        [4]int{l.Box.Min.X, l.Box.Min.Y, l.Box.Max.X, l.Box.Max.Y},
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// wantDetail 解析 ?detail=，只有 1/true 等真值才启用
func wantDetail(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("detail"))
	return err == nil && v
}

func (h *Handler) recognize(ctx context.Context, data []byte) (*recognizer.Result, error) {
	decoded, err := imageproc.Decode(data, h.maxPixels)
	if err != nil {
		return nil, err
	}

	img := imageproc.Prepare(decoded.Image, h.imageOpts)
	b := img.Bounds()
	logger.Debugf("[%s] Image %s %dx%d -> %dx%d", RequestID(ctx), decoded.Format, decoded.Width, decoded.Height, b.Dx(), b.Dy())

	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	return h.engine.Recognize(ctx, img)
}

func (h *Handler) writeRecognizeError(w http.ResponseWriter, reqID string, err error) {
	switch {
	case errors.Is(err, imageproc.ErrInvalidImage):
		logger.Warningf("[%s] %v", reqID, err)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		logger.ErrorNoTracef("[%s] Recognition timed out: %v", reqID, err)
		writeError(w, http.StatusGatewayTimeout, "recognition timed out")
	default:
		logger.Errorf("[%s] Recognition failed: %v", reqID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Healthz 报告进程存活
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

// Readyz 报告模型是否已加载，不触发加载
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"engine":        h.engine.Name(),
		"cached_images": h.cache.Len(),
	}
	if !h.engine.Loaded() {
		body["status"] = "loading"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "ready"
	writeJSON(w, http.StatusOK, body)
}
