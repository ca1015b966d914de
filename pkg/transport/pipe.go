package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// pipeProcessInterval is how often the background goroutine drains
// queued bytes between the two ends of a Pipe.
const pipeProcessInterval = 1 * time.Millisecond

// Pipe is the in-memory carrier the loopback demo bridges two Router
// instances over, standing in for two separate OS processes without a
// real socket between them (spec section 2, "Demo transport"). It
// wraps pion's test.Bridge, which needs its Tick method driven
// periodically to actually move bytes between Conn0 and Conn1; Pipe
// owns that driving goroutine so callers just treat Conn0/Conn1 as
// ordinary net.Conn values.
type Pipe struct {
	bridge *test.Bridge

	mu     sync.Mutex
	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPipe creates a bidirectional in-memory pipe and starts delivering
// bytes between its two ends in the background.
func NewPipe() *Pipe {
	p := &Pipe{
		bridge: test.NewBridge(),
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(pipeProcessInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
	return p
}

// Conn0 returns the connection for endpoint 0.
func (p *Pipe) Conn0() net.Conn { return p.bridge.GetConn0() }

// Conn1 returns the connection for endpoint 1.
func (p *Pipe) Conn1() net.Conn { return p.bridge.GetConn1() }

// Close stops delivery and closes both ends of the pipe.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}
