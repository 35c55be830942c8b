package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PhiFever/devanagari-ocr-server/internal/config"
	"github.com/PhiFever/devanagari-ocr-server/internal/logger"
	"github.com/PhiFever/devanagari-ocr-server/internal/recognizer"
)

// Target 是被巡检的引擎
type Target interface {
	Name() string
	Stats() recognizer.Stats
	UnloadIfIdle(idle time.Duration) (bool, error)
}

// Monitor 定期记录引擎状态，并在模型空闲超过阈值时释放它
type Monitor struct {
	target     Target
	interval   time.Duration
	idleUnload time.Duration

	stopChan chan struct{}
	doneChan chan struct{}

	running bool
	mu      sync.RWMutex

	// Statistics
	tickCount    uint64
	unloadCount  uint64
	lastTickTime time.Time

	// 上一次记录的状态，避免重复日志
	lastLogged string
}

// NewMonitor 创建巡检器
func NewMonitor(cfg config.MonitorConfig, target Target) *Monitor {
	return &Monitor{
		target:     target,
		interval:   cfg.Interval,
		idleUnload: cfg.IdleUnload,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start 启动巡检循环
func (m *Monitor) Start(ctx context.Context) error {
	if m.interval <= 0 {
		return fmt.Errorf("monitor interval must be positive, got %v", m.interval)
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor is already running")
	}
	m.running = true
	m.mu.Unlock()

	go m.loop(ctx)

	logger.Infof("[Monitor] Started (interval: %v, idle unload: %v)", m.interval, m.idleUnload)
	return nil
}

// Stop 停止巡检并等待循环退出
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor is not running")
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopChan)
	<-m.doneChan

	logger.Info("[Monitor] Stopped")
	return nil
}

// IsRunning 返回巡检是否在运行
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.doneChan)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("[Monitor] Context cancelled, stopping loop")
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick 执行一次巡检
func (m *Monitor) tick() {
	if m.idleUnload > 0 {
		unloaded, err := m.target.UnloadIfIdle(m.idleUnload)
		if err != nil {
			logger.ErrorNoTracef("[Monitor] Releasing %s model failed: %v", m.target.Name(), err)
		}
		if unloaded {
			m.mu.Lock()
			m.unloadCount++
			m.mu.Unlock()
		}
	}

	stats := m.target.Stats()
	state := fmt.Sprintf("loaded=%v requests=%d failures=%d", stats.Loaded, stats.Requests, stats.LoadFailures)

	m.mu.Lock()
	m.tickCount++
	m.lastTickTime = time.Now()
	changed := state != m.lastLogged
	m.lastLogged = state
	m.mu.Unlock()

	// 只在状态变化时记录
	if changed {
		logger.Infof("[Monitor] %s: %s", m.target.Name(), state)
	}
}

// GetStatistics 返回巡检统计
func (m *Monitor) GetStatistics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"running":        m.running,
		"tick_count":     m.tickCount,
		"unload_count":   m.unloadCount,
		"last_tick_time": m.lastTickTime,
	}
}
