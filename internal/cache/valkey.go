package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// ValkeyConfig holds connection parameters for the Valkey server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// ValkeyProvider stores rule payloads in a Valkey or Redis compatible
// server through a minimal RESP client. Each command dials a fresh
// connection; the provider only sees cache-miss traffic from the rule
// sources, so connection pooling is not worth carrying here.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider validates connectivity with a PING so a bad address
// or credentials fail at startup rather than on the first rule lookup.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	applyValkeyDefaults(&cfg)

	p := &ValkeyProvider{cfg: cfg}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	reply, err := p.do(ctx, "PING")
	if err != nil {
		return nil, err
	}
	if reply.kind != '+' || string(reply.data) != "PONG" {
		return nil, fmt.Errorf("valkey: unexpected PING reply %q", reply.data)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if reply.isNil {
		return nil, ErrCacheMiss
	}
	if reply.kind != '$' {
		return nil, fmt.Errorf("valkey: unexpected GET reply type %q", reply.kind)
	}
	return reply.data, nil
}

// Set stores bytes under key; a positive ttl expires the entry server-side.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{"SET", key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	reply, err := p.do(ctx, args...)
	if err != nil {
		return err
	}
	if reply.kind != '+' || string(reply.data) != "OK" {
		return fmt.Errorf("valkey: unexpected SET reply %q", reply.data)
	}
	return nil
}

// Del removes a key; deleting an absent key is not an error.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", key)
	return err
}

// Close releases nothing; connections are per-command.
func (p *ValkeyProvider) Close() error { return nil }

// do runs one command on a fresh connection, retrying timeouts with a
// short exponential backoff.
func (p *ValkeyProvider) do(ctx context.Context, args ...string) (respReply, error) {
	attempts := p.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return respReply{}, err
		}
		reply, err := p.exchange(ctx, args)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() || attempt == attempts-1 {
			return respReply{}, err
		}
		time.Sleep(time.Duration(25<<attempt) * time.Millisecond)
	}
	return respReply{}, lastErr
}

func (p *ValkeyProvider) exchange(ctx context.Context, args []string) (respReply, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return respReply{}, err
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	if err := p.handshake(conn, r, w); err != nil {
		return respReply{}, err
	}

	if err := conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
		return respReply{}, err
	}
	if err := writeCommand(w, args); err != nil {
		return respReply{}, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return respReply{}, err
	}
	return readReply(r)
}

func (p *ValkeyProvider) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	if !p.cfg.TLS {
		return dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	host, _, err := net.SplitHostPort(p.cfg.Addr)
	if err != nil {
		host = p.cfg.Addr
	}
	return tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: host,
	})
}

// handshake authenticates and selects the database when configured.
func (p *ValkeyProvider) handshake(conn net.Conn, r *bufio.Reader, w *bufio.Writer) error {
	run := func(args ...string) error {
		if err := conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
			return err
		}
		if err := writeCommand(w, args); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
			return err
		}
		reply, err := readReply(r)
		if err != nil {
			return err
		}
		if reply.kind != '+' {
			return fmt.Errorf("valkey: %s rejected: %q", args[0], reply.data)
		}
		return nil
	}

	if p.cfg.Password != "" {
		args := []string{"AUTH", p.cfg.Password}
		if p.cfg.Username != "" {
			args = []string{"AUTH", p.cfg.Username, p.cfg.Password}
		}
		if err := run(args...); err != nil {
			return err
		}
	}
	if p.cfg.DB > 0 {
		if err := run("SELECT", strconv.Itoa(p.cfg.DB)); err != nil {
			return err
		}
	}
	return nil
}

// respReply holds one decoded RESP reply. kind is the protocol prefix
// byte; isNil marks the null bulk string.
type respReply struct {
	kind  byte
	data  []byte
	isNil bool
}

func writeCommand(w *bufio.Writer, args []string) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(args)); err != nil {
		return err
	}
	for _, arg := range args {
		if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(arg), arg); err != nil {
			return err
		}
	}
	return w.Flush()
}

func readReply(r *bufio.Reader) (respReply, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	line, err := readLine(r)
	if err != nil {
		return respReply{}, err
	}

	switch prefix {
	case '+', ':':
		return respReply{kind: prefix, data: line}, nil
	case '-':
		return respReply{}, fmt.Errorf("valkey: %s", line)
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, fmt.Errorf("valkey: bad bulk length %q", line)
		}
		if size < 0 {
			return respReply{kind: prefix, isNil: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("valkey: bulk string not CRLF terminated")
		}
		return respReply{kind: prefix, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("valkey: unexpected reply prefix %q", prefix)
	}
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, errors.New("valkey: line not CRLF terminated")
	}
	return line[:len(line)-2], nil
}

func applyValkeyDefaults(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}
