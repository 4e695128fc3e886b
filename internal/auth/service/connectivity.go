package service

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/prayerwall/pkg/slogx"
)

// ConnectivityMonitor reports whether the provider is believed reachable.
type ConnectivityMonitor interface {
	IsOnline() bool
}

type signalMonitor struct {
	signal func() bool
}

// NewConnectivityMonitor wraps a reachability signal. The signal is queried on
// every call. A nil signal always reports online.
func NewConnectivityMonitor(signal func() bool) ConnectivityMonitor {
	if signal == nil {
		signal = func() bool { return true }
	}
	return signalMonitor{signal: signal}
}

func (m signalMonitor) IsOnline() bool { return m.signal() }

// StaticSignal is a settable reachability flag. The zero value is online.
type StaticSignal struct {
	offline atomic.Bool
}

func NewStaticSignal(online bool) *StaticSignal {
	s := &StaticSignal{}
	s.Set(online)
	return s
}

func (s *StaticSignal) Online() bool { return !s.offline.Load() }

func (s *StaticSignal) Set(online bool) { s.offline.Store(!online) }

// NetProbe keeps a reachability signal current by periodically opening a TCP
// connection to Addr.
type NetProbe struct {
	Addr     string
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger

	// Dial defaults to a net.Dialer with Timeout.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	online  atomic.Bool
	started atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewNetProbe creates a probe for addr ("host:port"). The probe starts out
// optimistic and reports online until the first check fails.
func NewNetProbe(addr string, interval, timeout time.Duration, logger *slog.Logger) *NetProbe {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	p := &NetProbe{
		Addr:     addr,
		Interval: interval,
		Timeout:  timeout,
		Logger:   slogx.OrDefault(logger),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	p.online.Store(true)
	return p
}

// Online is the signal to hand to NewConnectivityMonitor.
func (p *NetProbe) Online() bool { return p.online.Load() }

// Check dials once and updates the signal.
func (p *NetProbe) Check(ctx context.Context) bool {
	dial := p.Dial
	if dial == nil {
		d := &net.Dialer{Timeout: p.Timeout}
		dial = d.DialContext
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	conn, err := dial(ctx, "tcp", p.Addr)
	online := err == nil
	if conn != nil {
		_ = conn.Close()
	}

	if prev := p.online.Swap(online); prev != online {
		if online {
			p.Logger.Info("connectivity restored", "addr", p.Addr)
		} else {
			p.Logger.Warn("connectivity lost", "addr", p.Addr, "error", err)
		}
	}
	return online
}

// Start begins probing in the background. Call Stop to shut it down.
func (p *NetProbe) Start() {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.run()
		p.Logger.Info("connectivity probe started", "addr", p.Addr, "interval", p.Interval)
	})
}

// Stop halts the probe and waits for an in-flight check to finish.
func (p *NetProbe) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	if p.started.Load() {
		<-p.doneCh
	}
	p.Logger.Info("connectivity probe stopped")
}

func (p *NetProbe) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	p.Check(ctx)

	for {
		select {
		case <-ticker.C:
			p.Check(ctx)
		case <-p.stopCh:
			return
		}
	}
}
