package mailsync

import (
	"time"

	"go.uber.org/zap"
)

// Start 立即拉取一次并开启自动刷新
func (s *Session) Start() <-chan error {
	s.Resume()
	return s.Refresh()
}

// Resume 开启自动刷新，已开启时无操作
func (s *Session) Resume() {
	s.mu.Lock()
	if s.closed || s.pollStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.pollStop = stop
	s.wg.Add(1)
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)

	go s.pollLoop(stop)
	s.log.Debug("auto refresh resumed", zap.String("address_id", s.addressID), zap.Duration("interval", s.pollInterval))
}

// Pause 停止后续的定时拉取，进行中的拉取不受影响
func (s *Session) Pause() {
	s.mu.Lock()
	if s.pollStop == nil {
		s.mu.Unlock()
		return
	}
	close(s.pollStop)
	s.pollStop = nil
	snap := s.changedLocked()
	s.mu.Unlock()
	s.emit(snap)
	s.log.Debug("auto refresh paused", zap.String("address_id", s.addressID))
}

func (s *Session) pollLoop(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			// 上一次拉取未结束时并入该次
			s.Refresh()
		}
	}
}
