package recognizer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/PhiFever/devanagari-ocr-server/internal/config"
)

// Constructor 根据配置创建引擎的 Factory，不应在这里加载模型
type Constructor func(cfg *config.Config) (Factory, error)

type registration struct {
	constructor Constructor
	serialize   bool
}

// Registry 管理所有可用的引擎
type Registry struct {
	entries map[string]registration
	mu      sync.RWMutex
}

// NewRegistry 创建一个空的引擎注册表
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]registration),
	}
}

// DefaultRegistry 返回注册了所有内置引擎的注册表
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(config.EngineTesseract, true, newTesseractFactory)
	r.Register(config.EnginePaddle, false, newPaddleFactory)
	r.Register(config.EngineDocumentAI, false, newDocumentAIFactory)
	return r
}

// Register 注册一个引擎。serialize 为 true 时同一时刻只允许一个识别请求使用后端
func (r *Registry) Register(name string, serialize bool, constructor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{constructor: constructor, serialize: serialize}
}

// Names 返回已注册的引擎名称（已排序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build 根据 cfg.OCR.Engine 创建延迟加载的引擎
func (r *Registry) Build(cfg *config.Config) (*LazyEngine, error) {
	r.mu.RLock()
	entry, ok := r.entries[cfg.OCR.Engine]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownEngine, cfg.OCR.Engine, r.Names())
	}

	factory, err := entry.constructor(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure %s engine: %w", cfg.OCR.Engine, err)
	}

	return NewLazyEngine(cfg.OCR.Engine, factory, entry.serialize), nil
}
