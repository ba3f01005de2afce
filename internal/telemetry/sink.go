// Package telemetry ships application events to an external log collector.
//
// FIRE AND FORGET:
// Telemetry must never slow down or break a request. Emit returns
// immediately; the event is sent from a goroutine with a hard deadline, and
// any failure (collector down, slow network, full queue) is dropped silently.
// The collector receives one JSON object per line, which is what Logstash's
// tcp input with the json_lines codec expects.
package telemetry

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Sink accepts application events. Implementations never return errors and
// never block the caller.
type Sink interface {
	Emit(message string, fields map[string]any)
	Close() error
}

// Nop discards every event. Used when no collector is configured.
type Nop struct{}

func (Nop) Emit(string, map[string]any) {}
func (Nop) Close() error                { return nil }

const (
	defaultTimeout  = 500 * time.Millisecond
	defaultInFlight = 64
)

// Logstash sends each event over a fresh TCP connection to addr.
type Logstash struct {
	addr     string
	service  string
	timeout  time.Duration
	slots    chan struct{}
	dropped  atomic.Int64
	now      func() time.Time
	dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

	// mu orders wg.Add in Emit against wg.Wait in Close.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Option customizes a Logstash sink.
type Option func(*Logstash)

// WithTimeout bounds dial plus write for a single event.
func WithTimeout(d time.Duration) Option {
	return func(l *Logstash) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithMaxInFlight caps concurrent sends. Events beyond the cap are dropped.
func WithMaxInFlight(n int) Option {
	return func(l *Logstash) {
		if n > 0 {
			l.slots = make(chan struct{}, n)
		}
	}
}

// WithService sets the "service" field stamped on every event.
func WithService(name string) Option {
	return func(l *Logstash) { l.service = name }
}

// NewLogstash creates a sink for the collector at addr ("host:port").
func NewLogstash(addr string, opts ...Option) *Logstash {
	var d net.Dialer
	l := &Logstash{
		addr:     addr,
		service:  "backend",
		timeout:  defaultTimeout,
		slots:    make(chan struct{}, defaultInFlight),
		now:      time.Now,
		dialFunc: d.DialContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Emit queues one event. It returns without waiting for the network.
//
// "message", "service" and "@timestamp" are always set by the sink and
// take precedence over keys of the same name in fields.
func (l *Logstash) Emit(message string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["message"] = message
	entry["service"] = l.service
	entry["@timestamp"] = l.now().UTC().Format(time.RFC3339Nano)

	line, err := json.Marshal(entry)
	if err != nil {
		l.dropped.Add(1)
		return
	}
	line = append(line, '\n')

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.slots <- struct{}{}:
	default:
		l.dropped.Add(1)
		return
	}

	l.wg.Add(1)
	go func() {
		defer func() {
			<-l.slots
			l.wg.Done()
		}()
		if err := l.send(line); err != nil {
			l.dropped.Add(1)
		}
	}()
}

func (l *Logstash) send(line []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	conn, err := l.dialFunc(ctx, "tcp", l.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err = conn.Write(line)
	return err
}

// Dropped reports how many events were lost (queue full, marshal or network failure).
func (l *Logstash) Dropped() int64 {
	return l.dropped.Load()
}

// Close stops accepting events and waits for in-flight sends. Every send is
// bounded by the timeout, so Close returns within roughly one timeout.
func (l *Logstash) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.wg.Wait()
	return nil
}
