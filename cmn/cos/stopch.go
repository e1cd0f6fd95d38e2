package cos

import "sync"

// StopCh is the teacher's close-once broadcast channel idiom, used
// wherever a background goroutine (hk's runner, a publish-mode stream
// pump) needs a single, safe-to-call-from-anywhere "stop" signal.
type StopCh struct {
	ch   chan struct{}
	once sync.Once
}

func NewStopCh() *StopCh {
	return &StopCh{ch: make(chan struct{})}
}

func (s *StopCh) Close() { s.once.Do(func() { close(s.ch) }) }

func (s *StopCh) Listen() <-chan struct{} { return s.ch }
