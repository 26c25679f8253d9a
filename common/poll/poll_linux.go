//go:build linux

package poll

import (
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const EdgeTriggered = true

type pollEntry struct {
	fd             int
	registrationID uint64
	interest       Event
	handler        Handler
}

type Poller struct {
	epollFD             int
	mutex               sync.Mutex
	entries             map[int]*pollEntry
	registrationCounter uint64
	registrationToFD    map[uint64]int
	closed              atomic.Bool
	pipeFDs             [2]int
	events              []unix.EpollEvent
}

func New() (*Poller, error) {
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	var pipeFDs [2]int
	err = unix.Pipe2(pipeFDs[:], unix.O_NONBLOCK|unix.O_CLOEXEC)
	if err != nil {
		unix.Close(epollFD)
		return nil, os.NewSyscallError("pipe2", err)
	}

	pipeEvent := &unix.EpollEvent{Events: unix.EPOLLIN}
	*(*uint64)(unsafe.Pointer(&pipeEvent.Fd)) = 0
	err = unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, pipeFDs[0], pipeEvent)
	if err != nil {
		unix.Close(pipeFDs[0])
		unix.Close(pipeFDs[1])
		unix.Close(epollFD)
		return nil, os.NewSyscallError("epoll_ctl", err)
	}

	return &Poller{
		epollFD:          epollFD,
		entries:          make(map[int]*pollEntry),
		registrationToFD: make(map[uint64]int),
		pipeFDs:          pipeFDs,
		events:           make([]unix.EpollEvent, 64),
	}, nil
}

func epollEvents(interest Event) uint32 {
	events := uint32(unix.EPOLLET | unix.EPOLLRDHUP)
	if interest&EventRead != 0 {
		events |= unix.EPOLLIN
	}
	if interest&EventWrite != 0 {
		events |= unix.EPOLLOUT
	}
	return events
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

	p.registrationCounter++
	registrationID := p.registrationCounter

	event := &unix.EpollEvent{Events: epollEvents(interest)}
	*(*uint64)(unsafe.Pointer(&event.Fd)) = registrationID

	err := unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_ADD, fd, event)
	if err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}

	p.entries[fd] = &pollEntry{
		fd:             fd,
		registrationID: registrationID,
		interest:       interest,
		handler:        handler,
	}
	p.registrationToFD[registrationID] = fd
	return nil
}

func (p *Poller) Modify(fd int, interest Event) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	entry, ok := p.entries[fd]
	if !ok {
		return os.ErrNotExist
	}
	if entry.interest == interest {
		return nil
	}
	event := &unix.EpollEvent{Events: epollEvents(interest)}
	*(*uint64)(unsafe.Pointer(&event.Fd)) = entry.registrationID
	err := unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_MOD, fd, event)
	if err != nil {
		return os.NewSyscallError("epoll_ctl mod", err)
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

	delete(p.registrationToFD, entry.registrationID)
	delete(p.entries, fd)
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_DEL, fd, nil))
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

// Wait blocks up to timeout (negative blocks indefinitely) and dispatches ready descriptors.
func (p *Poller) Wait(timeout time.Duration) (int, error) {
	n, err := unix.EpollWait(p.epollFD, p.events, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}

	var (
		buffer  [16]byte
		handled int
	)
	for i := 0; i < n; i++ {
		event := p.events[i]
		registrationID := *(*uint64)(unsafe.Pointer(&event.Fd))

		if registrationID == 0 {
			for {
				_, readErr := unix.Read(p.pipeFDs[0], buffer[:])
				if readErr != nil {
					break
				}
			}
			continue
		}

		p.mutex.Lock()
		fd, ok := p.registrationToFD[registrationID]
		if !ok {
			p.mutex.Unlock()
			continue
		}
		entry := p.entries[fd]
		if entry == nil || entry.registrationID != registrationID {
			p.mutex.Unlock()
			continue
		}
		p.mutex.Unlock()

		var ready Event
		if event.Events&unix.EPOLLIN != 0 {
			ready |= EventRead
		}
		if event.Events&unix.EPOLLOUT != 0 {
			ready |= EventWrite
		}
		if event.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
			ready |= EventHangUp
		}
		if event.Events&unix.EPOLLERR != 0 {
			ready |= EventError
		}
		entry.handler.HandleFDEvent(ready)
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
	unix.Close(p.epollFD)
	unix.Close(p.pipeFDs[0])
	unix.Close(p.pipeFDs[1])
	p.epollFD = -1
	p.pipeFDs = [2]int{-1, -1}
	p.entries = nil
	p.registrationToFD = nil
	return nil
}
