//go:build linux

package linux

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// poller waits for one file descriptor to become readable. An eventfd
// lets a cancelled context interrupt the wait.
type poller struct {
	epfd   int
	wakefd int
	fd     int
	mu     sync.Mutex
	closed bool
}

// newPoller creates a poller watching fd for input.
func newPoller(fd int) (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	p := &poller{epfd: epfd, wakefd: wakefd, fd: fd}
	for _, f := range []int{wakefd, fd} {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(f)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, f, &ev); err != nil {
			unix.Close(wakefd)
			unix.Close(epfd)
			return nil, err
		}
	}
	return p, nil
}

// wake interrupts a blocked wait.
func (p *poller) wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wakefd, buf[:])
	return err
}

// wait blocks until the watched descriptor is readable or ctx is done.
func (p *poller) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { p.wake() })
	defer stop()

	var events [MaxEpollEvents]unix.EpollEvent
	for {
		n, err := unix.EpollWait(p.epfd, events[:], -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}

		ready := false
		for _, ev := range events[:n] {
			if int(ev.Fd) == p.wakefd {
				// Drain the eventfd
				var buf [8]byte
				unix.Read(p.wakefd, buf[:])
				continue
			}
			ready = true
		}
		if ready {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// close releases the epoll and eventfd descriptors. The watched
// descriptor is left open.
func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}
