package manager

import (
	"context"
	"net"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/isriam/ssh-manager/pkg/logger"
)

// DefaultProbeTimeout matches the ConnectTimeout written into stanzas.
const DefaultProbeTimeout = 10 * time.Second

// ProbeResult is the outcome of one connectivity test. Reachable means
// TCP got through; AuthOK means the SSH handshake authenticated too.
type ProbeResult struct {
	Name      string
	Reachable bool
	AuthOK    bool
	Message   string
	Elapsed   time.Duration
}

// probeTarget builds the dial address and client config for a probe.
// A missing or unparsable identity file downgrades to auth-less probing
// rather than failing; reachability can still be measured.
func probeTarget(c *Connection, timeout time.Duration) (string, *ssh.ClientConfig) {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(c.HostName, strconv.Itoa(port))

	username := c.User
	if username == "" {
		username = currentUsername()
	}

	var auth []ssh.AuthMethod
	if c.IdentityFile != "" {
		if method, err := keyAuth(c.IdentityFile); err == nil {
			auth = append(auth, method)
		} else {
			logger.Debugf("probe %s: identity %s unusable: %v", c.Name, c.IdentityFile, err)
		}
	}

	cfg := &ssh.ClientConfig{
		User: username,
		Auth: auth,
		// the probe measures reachability and auth, it never runs
		// commands; host key verification stays the real client's job
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
	return addr, cfg
}

func keyAuth(path string) (ssh.AuthMethod, error) {
	data, err := os.ReadFile(expandUserAndEnv(path))
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return os.Getenv("LOGNAME")
}

// Probe tests one connection. A refused or timed-out TCP dial reports
// unreachable; a completed dial with a failed handshake still proves the
// host is there and is reported that way.
func Probe(ctx context.Context, c *Connection, timeout time.Duration) ProbeResult {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	res := ProbeResult{Name: c.Name}
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	addr, cfg := probeTarget(c, timeout)

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		res.Message = "unreachable: " + err.Error()
		return res
	}
	defer conn.Close()
	res.Reachable = true

	_ = conn.SetDeadline(time.Now().Add(timeout))
	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		if isAuthError(err) {
			res.Message = "host reachable, authentication failed"
		} else {
			res.Message = "handshake failed: " + err.Error()
		}
		return res
	}
	client := ssh.NewClient(cc, chans, reqs)
	_ = client.Close()

	res.AuthOK = true
	res.Message = "connection successful"
	return res
}

func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

// ProbeAll tests connections concurrently, at most limit at a time
// (default 4), and returns results in input order.
func ProbeAll(ctx context.Context, conns []*Connection, timeout time.Duration, limit int) []ProbeResult {
	if limit <= 0 {
		limit = 4
	}
	results := make([]ProbeResult, len(conns))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range conns {
		i, c := i, c
		g.Go(func() error {
			results[i] = Probe(ctx, c, timeout)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
