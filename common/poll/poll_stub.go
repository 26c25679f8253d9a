//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package poll

import (
	"time"

	E "github.com/sagernet/sing-socket/common/exceptions"
)

const EdgeTriggered = false

type Poller struct{}

func New() (*Poller, error) {
	return nil, E.New("poller not supported on this platform")
}

func (p *Poller) Add(fd int, handler Handler, interest Event) error {
	return E.New("poller not supported on this platform")
}

func (p *Poller) Modify(fd int, interest Event) error {
	return E.New("poller not supported on this platform")
}

func (p *Poller) Remove(fd int) error {
	return nil
}

func (p *Poller) Len() int {
	return 0
}

func (p *Poller) Wakeup() error {
	return nil
}

func (p *Poller) Wait(timeout time.Duration) (int, error) {
	return 0, E.New("poller not supported on this platform")
}

func (p *Poller) Close() error {
	return nil
}
