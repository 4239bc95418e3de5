package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeValkey speaks just enough RESP for the provider: PING, SET (PX
// ignored), GET, DEL, backed by a map.
type fakeValkey struct {
	ln   net.Listener
	mu   sync.Mutex
	data map[string][]byte
}

func startFakeValkey(t *testing.T) *fakeValkey {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeValkey{ln: ln, data: make(map[string][]byte)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeValkey) addr() string { return f.ln.Addr().String() }

func (f *fakeValkey) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		switch strings.ToUpper(string(args[0])) {
		case "PING":
			fmt.Fprint(conn, "+PONG\r\n")
		case "SET":
			f.mu.Lock()
			f.data[string(args[1])] = append([]byte(nil), args[2]...)
			f.mu.Unlock()
			fmt.Fprint(conn, "+OK\r\n")
		case "GET":
			f.mu.Lock()
			value, ok := f.data[string(args[1])]
			f.mu.Unlock()
			if !ok {
				fmt.Fprint(conn, "$-1\r\n")
				continue
			}
			fmt.Fprintf(conn, "$%d\r\n%s\r\n", len(value), value)
		case "DEL":
			f.mu.Lock()
			delete(f.data, string(args[1]))
			f.mu.Unlock()
			fmt.Fprint(conn, ":1\r\n")
		default:
			fmt.Fprint(conn, "-ERR unknown command\r\n")
		}
	}
}

func readCommand(r *bufio.Reader) ([][]byte, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(header, "*") {
		return nil, errors.New("expected array header")
	}
	count, err := strconv.Atoi(strings.TrimSpace(header[1:]))
	if err != nil || count < 1 {
		return nil, errors.New("bad array header")
	}
	args := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		sizeLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(sizeLine, "$")))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := readFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, buf[:size])
	}
	return args, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func TestValkeyProviderRoundTrip(t *testing.T) {
	server := startFakeValkey(t)
	provider, err := NewValkeyProvider(ValkeyConfig{Addr: server.addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer provider.Close()

	ctx := context.Background()
	if err := provider.Set(ctx, "slicewatch:rules:slice-a", []byte(`[{"metric":"latency_ms"}]`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := provider.Get(ctx, "slicewatch:rules:slice-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `[{"metric":"latency_ms"}]` {
		t.Fatalf("unexpected payload: %s", got)
	}

	if err := provider.Del(ctx, "slicewatch:rules:slice-a"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := provider.Get(ctx, "slicewatch:rules:slice-a"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss after delete, got %v", err)
	}
}

func TestValkeyProviderMissOnUnknownKey(t *testing.T) {
	server := startFakeValkey(t)
	provider, err := NewValkeyProvider(ValkeyConfig{Addr: server.addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := provider.Get(context.Background(), "absent"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func TestValkeyProviderFailsFastWhenUnreachable(t *testing.T) {
	// Grab a free port and close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	if _, err := NewValkeyProvider(ValkeyConfig{Addr: addr, DialTimeout: 200 * time.Millisecond}); err == nil {
		t.Fatal("expected connection failure at construction")
	}
}

func TestValkeyProviderRequiresAddr(t *testing.T) {
	if _, err := NewValkeyProvider(ValkeyConfig{}); err == nil {
		t.Fatal("expected error for missing addr")
	}
}
