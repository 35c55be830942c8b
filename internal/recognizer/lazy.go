package recognizer

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PhiFever/devanagari-ocr-server/internal/logger"
	"github.com/PhiFever/devanagari-ocr-server/pkg/utils"
)

// Backend 是已经加载好模型的引擎实例
type Backend interface {
	Recognize(ctx context.Context, img image.Image) (*Result, error)
	Close() error
}

// Factory 创建 Backend，通常会加载模型，开销很大
type Factory func(ctx context.Context) (Backend, error)

// Stats 描述 LazyEngine 的状态
type Stats struct {
	Loaded       bool
	LoadedAt     time.Time
	LoadDuration time.Duration
	LoadFailures int
	Requests     uint64
	InFlight     int
	LastUsed     time.Time
}

// LazyEngine 在第一次识别时才调用 Factory。
// 加载失败不会被缓存，下一次请求会重试。
//
// lock 是容量为 1 的信号量，保护模型加载；serialize 为 true 时识别期间也一直持有。
// 等待和识别都受 ctx 约束：超时的请求立即返回，后台的识别结束后才释放 lock。
type LazyEngine struct {
	name      string
	factory   Factory
	serialize bool // 后端不是并发安全的，识别也需要持锁

	lock chan struct{}

	// 以下字段只在持有 lock 时写入，写入时同时持有 mu；Stats 只需要 mu
	mu           sync.Mutex
	backend      Backend
	loadedAt     time.Time
	loadDuration time.Duration
	loadFailures int

	loaded   atomic.Bool
	requests atomic.Uint64
	inflight atomic.Int32
	lastUsed atomic.Int64 // UnixNano
}

// NewLazyEngine 创建一个延迟加载的引擎
func NewLazyEngine(name string, factory Factory, serialize bool) *LazyEngine {
	return &LazyEngine{
		name:      name,
		factory:   factory,
		serialize: serialize,
		lock:      make(chan struct{}, 1),
	}
}

// Name 返回引擎名称
func (e *LazyEngine) Name() string {
	return e.name
}

// Loaded 报告模型是否已加载
func (e *LazyEngine) Loaded() bool {
	return e.loaded.Load()
}

// acquire 获取 lock，ctx 结束时放弃等待
func (e *LazyEngine) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *LazyEngine) tryAcquire() bool {
	select {
	case e.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *LazyEngine) release() {
	<-e.lock
}

// Warmup 立即加载模型
func (e *LazyEngine) Warmup(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	_, err := e.loadLocked(ctx)
	return err
}

// loadLocked 调用方必须持有 lock
func (e *LazyEngine) loadLocked(ctx context.Context) (Backend, error) {
	if e.backend != nil {
		return e.backend, nil
	}

	logger.Infof("[%s] Loading OCR model...", e.name)
	start := time.Now()

	backend, err := e.factory(ctx)
	if err != nil {
		e.mu.Lock()
		e.loadFailures++
		failures := e.loadFailures
		e.mu.Unlock()
		logger.ErrorNoTracef("[%s] Failed to load OCR model (attempt %d): %v", e.name, failures, err)
		return nil, fmt.Errorf("load %s engine: %w", e.name, err)
	}

	e.mu.Lock()
	e.backend = backend
	e.loadedAt = time.Now()
	e.loadDuration = time.Since(start)
	e.mu.Unlock()
	e.loaded.Store(true)

	logger.Infof("[%s] OCR model loaded in %s", e.name, utils.GetReadableTimeDelta(e.loadDuration))
	return backend, nil
}

// unloadLocked 调用方必须持有 lock
func (e *LazyEngine) unloadLocked() error {
	e.mu.Lock()
	backend := e.backend
	e.backend = nil
	e.mu.Unlock()
	e.loaded.Store(false)
	return backend.Close()
}

type outcome struct {
	res *Result
	err error
}

// Recognize 识别图像，必要时先加载模型。
// 后端不一定响应 ctx，因此识别在独立的 goroutine 中进行，ctx 结束时直接返回 ctx.Err()。
func (e *LazyEngine) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	e.requests.Add(1)

	done := make(chan outcome, 1)
	go func() {
		done <- e.run(ctx, img)
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		logger.Warningf("[%s] Recognition abandoned: %v", e.name, ctx.Err())
		return nil, ctx.Err()
	}
}

// run 在持有 lock 的情况下被调用，负责释放它
func (e *LazyEngine) run(ctx context.Context, img image.Image) outcome {
	held := true
	defer func() {
		if held {
			e.release()
		}
	}()

	backend, err := e.loadLocked(ctx)
	if err != nil {
		return outcome{err: err}
	}

	// inflight 在持锁时增加，UnloadIfIdle 看到 0 即可安全释放
	e.inflight.Add(1)
	defer func() {
		e.lastUsed.Store(time.Now().UnixNano())
		e.inflight.Add(-1)
	}()

	if !e.serialize {
		held = false
		e.release()
	}

	res, err := backend.Recognize(ctx, img)
	return outcome{res: res, err: err}
}

// Close 释放已加载的后端；之后再次识别会重新加载。
// 会等待正在进行的串行识别结束。
func (e *LazyEngine) Close() error {
	e.lock <- struct{}{}
	defer e.release()

	if e.backend == nil {
		return nil
	}

	err := e.unloadLocked()
	logger.Infof("[%s] OCR model released", e.name)
	return err
}

// UnloadIfIdle 在没有进行中的请求且空闲超过 idle 时释放模型，返回是否释放
func (e *LazyEngine) UnloadIfIdle(idle time.Duration) (bool, error) {
	// lock 被占用说明正在加载或识别
	if !e.tryAcquire() {
		return false, nil
	}
	defer e.release()

	if e.backend == nil || e.inflight.Load() > 0 {
		return false, nil
	}
	last := e.loadedAt
	if n := e.lastUsed.Load(); n > 0 && time.Unix(0, n).After(last) {
		last = time.Unix(0, n)
	}
	if time.Since(last) < idle {
		return false, nil
	}

	err := e.unloadLocked()
	logger.Infof("[%s] OCR model released after %s idle", e.name, utils.GetReadableTimeDelta(time.Since(last)))
	return true, err
}

// Stats 返回当前状态
func (e *LazyEngine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		Loaded:       e.backend != nil,
		LoadedAt:     e.loadedAt,
		LoadDuration: e.loadDuration,
		LoadFailures: e.loadFailures,
		Requests:     e.requests.Load(),
		InFlight:     int(e.inflight.Load()),
		LastUsed:     lastUsed(e.lastUsed.Load()),
	}
}

func lastUsed(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
