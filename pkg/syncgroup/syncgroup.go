package syncgroup

import "sync"

// SyncGroup 是 sync.WaitGroup 的包装器，自动配对 Add/Done，
// 用于托管长生命周期 goroutine（行情流、仓位循环、计算循环）。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending []func()
	running int
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 注册一个 goroutine 函数。必须在 Run 之前调用；
// 已有 goroutine 在运行时注册会被忽略。
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running > 0 {
		return
	}
	g.pending = append(g.pending, fn)
}

// Run 启动所有已注册的函数，各占一个 goroutine。
// 启动后清空注册列表，重复调用是空操作。
func (g *SyncGroup) Run() {
	g.mu.Lock()
	if g.running > 0 {
		g.mu.Unlock()
		return
	}
	fns := g.pending
	g.pending = nil
	g.running = len(fns)
	g.mu.Unlock()

	for _, fn := range fns {
		g.wg.Add(1)
		go func(do func()) {
			defer func() {
				g.wg.Done()
				g.mu.Lock()
				g.running--
				g.mu.Unlock()
			}()
			do()
		}(fn)
	}
}

// Wait 阻塞直到所有 goroutine 退出
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}
