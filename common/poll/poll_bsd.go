//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package poll

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

const EdgeTriggered = false

type pollEntry struct {
	fd       int
	interest Event
	handler  Handler
}

type Poller struct {
	kqueueFD int
	mutex    sync.Mutex
	entries  map[int]*pollEntry
	closed   atomic.Bool
	pipeFDs  [2]int
	events   []unix.Kevent_t
}

func New() (*Poller, error) {
	kqueueFD, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(kqueueFD)

	var pipeFDs [2]int
	err = unix.Pipe(pipeFDs[:])
	if err != nil {
		unix.Close(kqueueFD)
		return nil, os.NewSyscallError("pipe", err)
	}
	for _, fd := range pipeFDs {
		unix.CloseOnExec(fd)
		err = unix.SetNonblock(fd, true)
		if err != nil {
			unix.Close(pipeFDs[0])
			unix.Close(pipeFDs[1])
			unix.Close(kqueueFD)
			return nil, os.NewSyscallError("setnonblock", err)
		}
	}

	changes := make([]unix.Kevent_t, 1)
	unix.SetKevent(&changes[0], pipeFDs[0], unix.EVFILT_READ, unix.EV_ADD)
	_, err = unix.Kevent(kqueueFD, changes, nil, nil)
	if err != nil {
		unix.Close(pipeFDs[0])
		unix.Close(pipeFDs[1])
		unix.Close(kqueueFD)
		return nil, os.NewSyscallError("kevent", err)
	}

	return &Poller{
		kqueueFD: kqueueFD,
		entries:  make(map[int]*pollEntry),
		pipeFDs:  pipeFDs,
		events:   make([]unix.Kevent_t, 64),
	}, nil
}

func (p *Poller) applyInterest(fd int, old Event, interest Event) error {
	var changes []unix.Kevent_t
	for _, filter := range []struct {
		event  Event
		filter int
	}{{EventRead, unix.EVFILT_READ}, {EventWrite, unix.EVFILT_WRITE}} {
		wasSet, isSet := old&filter.event != 0, interest&filter.event != 0
		if wasSet == isSet {
			continue
		}
		var change unix.Kevent_t
		if isSet {
			unix.SetKevent(&change, fd, filter.filter, unix.EV_ADD)
		} else {
			unix.SetKevent(&change, fd, filter.filter, unix.EV_DELETE)
		}
		changes = append(changes, change)
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kqueueFD, changes, nil, nil)
	return os.NewSyscallError("kevent", err)
}

func (p *Poller) Add(fd int, handler Handler, interest Event) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed.Load() {
		return os.ErrClosed
	}
	if _, loaded := p.entries[fd]; loaded {
		return os.ErrExist
	}
	err := p.applyInterest(fd, 0, interest)
	if err != nil {
		return err
	}
	p.entries[fd] = &pollEntry{
		fd:       fd,
		interest: interest,
		handler:  handler,
	}
	return nil
}

func (p *Poller) Modify(fd int, interest Event) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	entry, ok := p.entries[fd]
	if !ok {
		return os.ErrNotExist
	}
	err := p.applyInterest(fd, entry.interest, interest)
	if err != nil {
		return err
	}
	entry.interest = interest
	return nil
}

func (p *Poller) Remove(fd int) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	entry, ok := p.entries[fd]
	if !ok {
		return os.ErrNotExist
	}
	delete(p.entries, fd)
	return p.applyInterest(fd, entry.interest, 0)
}

func (p *Poller) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.entries)
}

func (p *Poller) Wakeup() error {
	if p.closed.Load() {
		return nil
	}
	_, err := unix.Write(p.pipeFDs[1], []byte{0})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *Poller) Wait(timeout time.Duration) (int, error) {
	var timespec *unix.Timespec
	if timeout >= 0 {
		ts := unix.NsecToTimespec(int64(timeout))
		timespec = &ts
	}
	n, err := unix.Kevent(p.kqueueFD, nil, p.events, timespec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("kevent", err)
	}

	ready := make(map[int]Event, n)
	order := make([]int, 0, n)
	var buffer [16]byte
	for i := 0; i < n; i++ {
		event := p.events[i]
		fd := int(event.Ident)

		if fd == p.pipeFDs[0] {
			for {
				_, readErr := unix.Read(p.pipeFDs[0], buffer[:])
				if readErr != nil {
					break
				}
			}
			continue
		}

		var events Event
		switch {
		case event.Flags&unix.EV_ERROR != 0:
			events |= EventError
		case event.Filter == unix.EVFILT_READ:
			events |= EventRead
		case event.Filter == unix.EVFILT_WRITE:
			events |= EventWrite
		}
		if event.Flags&unix.EV_EOF != 0 {
			events |= EventHangUp
		}
		if _, loaded := ready[fd]; !loaded {
			order = append(order, fd)
		}
		ready[fd] |= events
	}

	var handled int
	for _, fd := range order {
		p.mutex.Lock()
		entry, ok := p.entries[fd]
		p.mutex.Unlock()
		if !ok {
			continue
		}
		entry.handler.HandleFDEvent(ready[fd])
		handled++
	}
	return handled, nil
}

func (p *Poller) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	unix.Close(p.kqueueFD)
	unix.Close(p.pipeFDs[0])
	unix.Close(p.pipeFDs[1])
	p.kqueueFD = -1
	p.pipeFDs = [2]int{-1, -1}
	p.entries = nil
	return nil
}
