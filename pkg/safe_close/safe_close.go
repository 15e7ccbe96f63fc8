// Package safe_close 提供多 goroutine 协作的优雅关闭原语
// 各服务通过 Attach 挂载关闭逻辑，任意一方可以广播关闭信号
package safe_close

import (
	"sync"
)

// SafeClose 协调一组服务的生命周期
type SafeClose struct {
	m sync.Mutex

	closed      bool
	closeSignal chan struct{}
	err         error

	wg sync.WaitGroup
}

// NewSafeClose 创建 SafeClose
func NewSafeClose() *SafeClose {
	return &SafeClose{
		closeSignal: make(chan struct{}),
	}
}

// Attach 挂载一个服务
// f 在新 goroutine 中运行，收到 closeSignal 后应完成清理并调用 done
func (s *SafeClose) Attach(f func(done func(), closeSignal <-chan struct{})) {
	s.wg.Add(1)
	done := &sync.Once{}
	go f(func() {
		done.Do(s.wg.Done)
	}, s.closeSignal)
}

// SendCloseSignal 广播关闭信号，首个非 nil 错误会被保留
func (s *SafeClose) SendCloseSignal(err error) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.closeSignal)
}

// ReceiveCloseSignal 返回关闭信号通道
func (s *SafeClose) ReceiveCloseSignal() <-chan struct{} {
	return s.closeSignal
}

// Err 返回触发关闭的错误
func (s *SafeClose) Err() error {
	s.m.Lock()
	defer s.m.Unlock()
	return s.err
}

// WaitClosed 阻塞至所有已挂载的服务完成清理
func (s *SafeClose) WaitClosed() error {
	s.wg.Wait()
	return s.Err()
}
