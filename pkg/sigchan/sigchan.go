package sigchan

import "sync/atomic"

// Chan 是一个非阻塞的信号 channel（容量 1，满时合并）。
// 用于通知事件发生，但不传递数据：消费者醒来后自己去读最新快照。
type Chan struct {
	c       chan struct{}
	dropped atomic.Int64
}

// New 创建新的信号 channel
func New(bufferSize int) *Chan {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Chan{
		c: make(chan struct{}, bufferSize),
	}
}

// Emit 发送信号（非阻塞）。
// channel 已满时直接合并：下游迟早会被已有信号唤醒并读到最新状态。
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
		c.dropped.Add(1)
	}
}

// C 返回内部的 channel（用于 select）
func (c *Chan) C() <-chan struct{} {
	return c.c
}

// Dropped 返回被合并掉的信号数（仅用于观测）
func (c *Chan) Dropped() int64 {
	return c.dropped.Load()
}
