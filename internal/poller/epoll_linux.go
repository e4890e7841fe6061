//go:build linux

package poller

import "golang.org/x/sys/unix"

// EpollPoller wraps epoll(7). Interest masks are translated 1:1 onto
// EPOLLIN/EPOLLOUT/EPOLLRDHUP/EPOLLONESHOT/EPOLLET.
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates an epoll-backed Poller.
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EpollPoller{epfd: epfd, events: make([]unix.EpollEvent, 1024)}, nil
}

func toEpollEvents(m Mask) uint32 {
	var ev uint32
	if m&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if m&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	if m&PeerClosed != 0 {
		ev |= unix.EPOLLRDHUP
	}
	if m&Oneshot != 0 {
		ev |= unix.EPOLLONESHOT
	}
	if m&EdgeTriggered != 0 {
		ev |= unix.EPOLLET
	}
	return ev
}

func fromEpollEvents(ev uint32) Mask {
	var m Mask
	if ev&unix.EPOLLIN != 0 {
		m |= Readable
	}
	if ev&unix.EPOLLOUT != 0 {
		m |= Writable
	}
	if ev&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		m |= PeerClosed
	}
	return m
}

func (p *EpollPoller) Add(fd int, interest Mask) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *EpollPoller) Modify(fd int, interest Mask) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *EpollPoller) Delete(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *EpollPoller) Wait(timeoutMS int) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (p *EpollPoller) EventFD(i int) int      { return int(p.events[i].Fd) }
func (p *EpollPoller) EventMask(i int) Mask   { return fromEpollEvents(p.events[i].Events) }
func (p *EpollPoller) Close() error           { return unix.Close(p.epfd) }
