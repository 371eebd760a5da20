//go:build !linux && unix

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// selectPoller is the portable fallback backend for platforms without
// epoll, grounded on reactor_stub.go's role as the non-Linux/Windows
// placeholder — replaced here with a real (if coarser) select(2)-based
// implementation instead of an unconditional error, since the station's
// reactor must run on whatever POSIX target it's cross-compiled for.
type selectPoller struct {
	fds map[int]EventType
}

func NewPlatformPoller() (Poller, error) {
	return &selectPoller{fds: make(map[int]EventType)}, nil
}

func (p *selectPoller) Add(fd int, events EventType) error {
	p.fds[fd] = events
	return nil
}

func (p *selectPoller) Modify(fd int, events EventType) error {
	p.fds[fd] = events
	return nil
}

func (p *selectPoller) Remove(fd int) error {
	delete(p.fds, fd)
	return nil
}

func fdSetBit(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

func (p *selectPoller) Wait(timeout time.Duration, dst []ReadyFD) ([]ReadyFD, error) {
	if len(p.fds) == 0 {
		time.Sleep(timeout)
		return dst, nil
	}
	var rset, wset unix.FdSet
	maxFD := 0
	for fd, ev := range p.fds {
		if ev&EventReadable != 0 {
			fdSetBit(&rset, fd)
		}
		if ev&EventWritable != 0 {
			fdSetBit(&wset, fd)
		}
		if fd > maxFD {
			maxFD = fd
		}
	}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	_, err := unix.Select(maxFD+1, &rset, &wset, nil, &tv)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for fd, ev := range p.fds {
		var got EventType
		if ev&EventReadable != 0 && fdIsSet(&rset, fd) {
			got |= EventReadable
		}
		if ev&EventWritable != 0 && fdIsSet(&wset, fd) {
			got |= EventWritable
		}
		if got != 0 {
			dst = append(dst, ReadyFD{FD: fd, Events: got})
		}
	}
	return dst, nil
}

func (p *selectPoller) Close() error { return nil }
