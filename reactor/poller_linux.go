//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// EpollPoller is the Linux Poller backend, grounded on the epoll(7)
// usage in epoll_reactor.go but trimmed to the single coherent
// event-mask shape the Reactor needs rather than that file's
// independent callback map (the Reactor itself owns callbacks).
type EpollPoller struct {
	epfd int
}

// NewEpollPoller creates a fresh epoll instance.
func NewEpollPoller() (*EpollPoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EpollPoller{epfd: fd}, nil
}

func toEpollEvents(e EventType) uint32 {
	var mask uint32
	if e&EventReadable != 0 {
		mask |= unix.EPOLLIN
	}
	if e&EventWritable != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func fromEpollEvents(mask uint32) EventType {
	var e EventType
	if mask&unix.EPOLLIN != 0 {
		e |= EventReadable
	}
	if mask&unix.EPOLLOUT != 0 {
		e |= EventWritable
	}
	if mask&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		e |= EventError
	}
	return e
}

func (p *EpollPoller) Add(fd int, events EventType) error {
	ev := unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *EpollPoller) Modify(fd int, events EventType) error {
	ev := unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *EpollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *EpollPoller) Wait(timeout time.Duration, dst []ReadyFD) ([]ReadyFD, error) {
	var raw [64]unix.EpollEvent
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	n, err := unix.EpollWait(p.epfd, raw[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; i < n; i++ {
		dst = append(dst, ReadyFD{FD: int(raw[i].Fd), Events: fromEpollEvents(raw[i].Events)})
	}
	return dst, nil
}

func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}

// NewPlatformPoller returns the Linux epoll backend.
func NewPlatformPoller() (Poller, error) {
	return NewEpollPoller()
}
