package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

// newCollector listens on a random local port and forwards every received
// line to the returned channel.
func newCollector(t *testing.T) (string, <-chan map[string]any) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	lines := make(chan map[string]any, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				scanner := bufio.NewScanner(c)
				for scanner.Scan() {
					var entry map[string]any
					if json.Unmarshal(scanner.Bytes(), &entry) == nil {
						lines <- entry
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String(), lines
}

func TestLogstash_DeliversJSONLine(t *testing.T) {
	addr, lines := newCollector(t)
	sink := NewLogstash(addr, WithTimeout(time.Second))

	sink.Emit("User login", map[string]any{"user": "crios", "status": 200, "message": "ignored"})

	select {
	case entry := <-lines:
		if entry["message"] != "User login" {
			t.Errorf("message = %v, want %q", entry["message"], "User login")
		}
		if entry["service"] != "backend" {
			t.Errorf("service = %v, want backend", entry["service"])
		}
		if entry["user"] != "crios" || entry["status"] != float64(200) {
			t.Errorf("extra fields missing: %v", entry)
		}
		ts, _ := entry["@timestamp"].(string)
		if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
			t.Errorf("@timestamp %q is not RFC3339: %v", ts, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("collector received nothing")
	}

	if err := sink.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestLogstash_UnreachableCollectorNeverBlocks(t *testing.T) {
	// Grab a free port, then close it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	sink := NewLogstash(addr, WithTimeout(200*time.Millisecond))

	start := time.Now()
	for i := 0; i < 10; i++ {
		sink.Emit("event", nil)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Emit() blocked for %s", elapsed)
	}

	sink.Close()
	if sink.Dropped() != 10 {
		t.Errorf("Dropped() = %d, want 10", sink.Dropped())
	}
}

func TestLogstash_DropsWhenSaturated(t *testing.T) {
	sink := NewLogstash("collector:5000", WithTimeout(100*time.Millisecond), WithMaxInFlight(1))

	// A dial that hangs until the per-event deadline fires
	sink.dialFunc = func(ctx context.Context, _, _ string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	sink.Emit("first", nil)
	sink.Emit("second", nil)
	sink.Emit("third", nil)

	start := time.Now()
	sink.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Close() took %s, want about one timeout", elapsed)
	}

	// second and third were dropped at the queue, first at the deadline
	if sink.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", sink.Dropped())
	}
}

func TestLogstash_EmitAfterCloseIsIgnored(t *testing.T) {
	addr, lines := newCollector(t)
	sink := NewLogstash(addr)
	sink.Close()

	sink.Emit("late", nil)

	select {
	case entry := <-lines:
		t.Errorf("collector received %v after Close", entry)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	s.Emit("anything", map[string]any{"k": "v"})
	if err := s.Close(); err != nil {
		t.Errorf("Nop.Close() error = %v", err)
	}
}
