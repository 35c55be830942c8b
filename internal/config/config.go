package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// 支持的识别引擎名称
const (
	EngineTesseract  = "tesseract"
	EnginePaddle     = "paddle"
	EngineDocumentAI = "documentai"
)

// Config 是服务的完整配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	OCR     OCRConfig     `yaml:"ocr"`
	Image   ImageConfig   `yaml:"image"`
	Cache   CacheConfig   `yaml:"cache"`
	Monitor MonitorConfig `yaml:"monitor"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig 控制 HTTP 服务
type ServerConfig struct {
	Addr              string        `yaml:"addr" env:"OCR_SERVER_ADDR"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes" env:"OCR_MAX_UPLOAD_BYTES"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// TempDir 为空时使用系统临时目录
	TempDir string `yaml:"temp_dir" env:"OCR_TEMP_DIR"`
}

// OCRConfig 选择并配置识别引擎
type OCRConfig struct {
	Engine         string        `yaml:"engine" env:"OCR_ENGINE"`
	Language       string        `yaml:"language" env:"OCR_LANGUAGE"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"OCR_REQUEST_TIMEOUT"`
	// Preload 为 true 时启动后立即在后台加载模型，否则在第一次请求时加载
	Preload    bool             `yaml:"preload" env:"OCR_PRELOAD"`
	Tesseract  TesseractConfig  `yaml:"tesseract"`
	Paddle     PaddleConfig     `yaml:"paddle"`
	DocumentAI DocumentAIConfig `yaml:"documentai"`
}

// TesseractConfig 是本地 Tesseract 引擎的参数
type TesseractConfig struct {
	TessdataPrefix string `yaml:"tessdata_prefix" env:"TESSDATA_PREFIX"`
	PageSegMode    int    `yaml:"page_seg_mode"`
}

// PaddleConfig 是 PaddleOCR 服务端的参数
type PaddleConfig struct {
	Endpoint    string        `yaml:"endpoint" env:"PADDLE_OCR_ENDPOINT"`
	Lang        string        `yaml:"lang"`
	UseAngleCls bool          `yaml:"use_angle_cls"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// DocumentAIConfig 是 Google Document AI 处理器的参数
type DocumentAIConfig struct {
	ProjectID       string `yaml:"project_id" env:"DOCUMENTAI_PROJECT_ID"`
	Location        string `yaml:"location" env:"DOCUMENTAI_LOCATION"`
	ProcessorID     string `yaml:"processor_id" env:"DOCUMENTAI_PROCESSOR_ID"`
	CredentialsFile string `yaml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
}

// ImageConfig 控制上传图像的预处理
type ImageConfig struct {
	// MaxSide 限制最长边的像素数，<=0 表示不缩放
	MaxSide   int  `yaml:"max_side" env:"OCR_IMAGE_MAX_SIDE"`
	Grayscale bool `yaml:"grayscale"`
	Binarize  bool `yaml:"binarize"`
}

// CacheConfig 控制识别结果缓存，TTL 为 0 时禁用
type CacheConfig struct {
	TTL             time.Duration `yaml:"ttl" env:"OCR_CACHE_TTL"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// MonitorConfig 控制后台巡检：定期记录引擎状态，空闲过久时释放模型
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval" env:"OCR_MONITOR_INTERVAL"`
	// IdleUnload 为 0 时模型常驻内存
	IdleUnload time.Duration `yaml:"idle_unload" env:"OCR_IDLE_UNLOAD"`
}

// LogConfig 控制日志输出
type LogConfig struct {
	Level string `yaml:"level" env:"OCR_LOG_LEVEL"`
	// Format 为 text 或 json
	Format string `yaml:"format" env:"OCR_LOG_FORMAT"`
	File   bool   `yaml:"file" env:"OCR_LOG_FILE"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              "0.0.0.0:5000",
			MaxUploadBytes:    10 << 20,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      90 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		OCR: OCRConfig{
			Engine:         EngineTesseract,
			Language:       "hin",
			RequestTimeout: 60 * time.Second,
			Tesseract: TesseractConfig{
				PageSegMode: 3,
			},
			Paddle: PaddleConfig{
				Endpoint:    "http://127.0.0.1:8866/predict/ocr_system",
				Lang:        "hi",
				UseAngleCls: true,
				Timeout:     30 * time.Second,
				Retries:     3,
				RetryDelay:  time.Second,
			},
			DocumentAI: DocumentAIConfig{
				Location: "us",
			},
		},
		Image: ImageConfig{
			MaxSide: 1600,
		},
		Cache: CacheConfig{
			TTL:             10 * time.Minute,
			CleanupInterval: 20 * time.Minute,
		},
		Monitor: MonitorConfig{
			Interval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "text",
			File:   true,
		},
	}
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}

	switch c.OCR.Engine {
	case EngineTesseract:
		if c.OCR.Language == "" {
			errs = append(errs, errors.New("ocr.language must not be empty"))
		}
		if c.OCR.Tesseract.PageSegMode < 0 || c.OCR.Tesseract.PageSegMode > 13 {
			errs = append(errs, fmt.Errorf("ocr.tesseract.page_seg_mode %d out of range 0-13", c.OCR.Tesseract.PageSegMode))
		}
	case EnginePaddle:
		if c.OCR.Paddle.Endpoint == "" {
			errs = append(errs, errors.New("ocr.paddle.endpoint must not be empty"))
		}
		if c.OCR.Paddle.Retries < 1 {
			errs = append(errs, errors.New("ocr.paddle.retries must be at least 1"))
		}
	case EngineDocumentAI:
		d := c.OCR.DocumentAI
		if d.ProjectID == "" || d.Location == "" || d.ProcessorID == "" {
			errs = append(errs, errors.New("ocr.documentai requires project_id, location and processor_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ocr.engine %q", c.OCR.Engine))
	}

	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl must not be negative"))
	}
	if c.Monitor.IdleUnload > 0 && c.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive when monitor.idle_unload is set"))
	}

	return errors.Join(errs...)
}
