package sigchan

import "sync"

// Latest 是容量 1 的「最新值信箱」：新值覆盖未被消费的旧值。
//
// 与 Chan 的区别：Latest 携带数据。用于 GreeksSnapshot 这类
// 「只有最新一份有意义」的消息；被覆盖的旧值通过 OnReplace 显式上报，
// 而不是静默丢失。
type Latest[T any] struct {
	mu    sync.Mutex
	val   T
	full  bool
	ready chan struct{}

	// OnReplace 在旧值被新值覆盖时回调（持锁调用，必须轻量）
	OnReplace func(old T)
}

func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{
		ready: make(chan struct{}, 1),
	}
}

// Put 写入新值；若旧值尚未被消费则覆盖并触发 OnReplace。永不阻塞。
func (l *Latest[T]) Put(v T) {
	l.mu.Lock()
	if l.full && l.OnReplace != nil {
		l.OnReplace(l.val)
	}
	l.val = v
	l.full = true
	l.mu.Unlock()

	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// Ready 返回用于 select 的就绪信号 channel。
// 收到信号后调用 Take() 取值。
func (l *Latest[T]) Ready() <-chan struct{} {
	return l.ready
}

// Take 取出当前值并清空信箱。ok=false 表示没有未消费的值。
func (l *Latest[T]) Take() (v T, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return v, false
	}
	v = l.val
	var zero T
	l.val = zero
	l.full = false
	return v, true
}
