//go:build darwin || freebsd || netbsd || openbsd

package poller

import "golang.org/x/sys/unix"

// KqueuePoller wraps kqueue(2). EVFILT_READ/EVFILT_WRITE stand in for
// Readable/Writable; EV_ONESHOT and EV_CLEAR stand in for Oneshot and
// EdgeTriggered. PeerClosed has no direct kqueue filter — BSD reports EOF via
// the EV_EOF flag on the read filter, so we surface that as PeerClosed too.
type KqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t
}

// New creates a kqueue-backed Poller.
func New() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &KqueuePoller{kqfd: kqfd, events: make([]unix.Kevent_t, 1024)}, nil
}

// register arms exactly the filters named in interest and disarms the other
// one. kqueue filters are independent per fd (unlike epoll, where MOD
// replaces the whole interest set in one call), so Modify must explicitly
// delete whichever filter it isn't asking for or a stale EVFILT_WRITE left
// over from a previous write cycle would keep firing after switching back to
// read-only interest.
func (p *KqueuePoller) register(fd int, interest Mask) error {
	flags := unix.EV_ADD | unix.EV_ENABLE
	if interest&Oneshot != 0 {
		flags |= unix.EV_ONESHOT
	}
	if interest&EdgeTriggered != 0 {
		flags |= unix.EV_CLEAR
	}

	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	if interest&Readable != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if interest&Writable != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	// EV_DELETE on a filter that was never added returns ENOENT; run deletes
	// and adds in the same batch and ignore that half of the result by
	// falling back to issuing the adds alone if the batch errors.
	if _, err := unix.Kevent(p.kqfd, changes, nil, nil); err != nil {
		var adds []unix.Kevent_t
		for _, c := range changes {
			if c.Flags&unix.EV_DELETE == 0 {
				adds = append(adds, c)
			}
		}
		if len(adds) == 0 {
			return nil
		}
		_, err = unix.Kevent(p.kqfd, adds, nil, nil)
		return err
	}
	return nil
}

func (p *KqueuePoller) Add(fd int, interest Mask) error    { return p.register(fd, interest) }
func (p *KqueuePoller) Modify(fd int, interest Mask) error { return p.register(fd, interest) }

func (p *KqueuePoller) Delete(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// Either filter may not be registered; kqueue returns ENOENT for that
	// half, which we ignore since the caller just wants both gone.
	unix.Kevent(p.kqfd, changes, nil, nil)
	return nil
}

func (p *KqueuePoller) Wait(timeoutMS int) (int, error) {
	var ts *unix.Timespec
	if timeoutMS >= 0 {
		ts = &unix.Timespec{Sec: int64(timeoutMS / 1000), Nsec: int64(timeoutMS%1000) * 1e6}
	}
	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (p *KqueuePoller) EventFD(i int) int { return int(p.events[i].Ident) }

func (p *KqueuePoller) EventMask(i int) Mask {
	ev := p.events[i]
	var m Mask
	switch ev.Filter {
	case unix.EVFILT_READ:
		m |= Readable
	case unix.EVFILT_WRITE:
		m |= Writable
	}
	if ev.Flags&unix.EV_EOF != 0 {
		m |= PeerClosed
	}
	return m
}

func (p *KqueuePoller) Close() error { return unix.Close(p.kqfd) }
