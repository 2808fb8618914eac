package manager

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"
)

// listenTCP returns a listener on a loopback port the test owns.
func listenTCP(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return ln, port
}

func TestProbeTarget_DefaultsPortAndUser(t *testing.T) {
	addr, cfg := probeTarget(&Connection{Name: "a", HostName: "example.com"}, 2*time.Second)
	if addr != "example.com:22" {
		t.Fatalf("expected default port in addr, got %q", addr)
	}
	if cfg.User == "" {
		t.Fatalf("expected a fallback username")
	}
	if cfg.Timeout != 2*time.Second {
		t.Fatalf("expected timeout carried through, got %v", cfg.Timeout)
	}

	addr, cfg = probeTarget(&Connection{Name: "b", HostName: "h", User: "admin", Port: 2222}, time.Second)
	if addr != "h:2222" {
		t.Fatalf("unexpected addr %q", addr)
	}
	if cfg.User != "admin" {
		t.Fatalf("expected explicit user, got %q", cfg.User)
	}
}

func TestProbeTarget_MissingIdentityDowngradesToNoAuth(t *testing.T) {
	_, cfg := probeTarget(&Connection{Name: "a", HostName: "h", IdentityFile: "/does/not/exist"}, time.Second)
	if len(cfg.Auth) != 0 {
		t.Fatalf("expected no auth methods for missing key, got %d", len(cfg.Auth))
	}
}

func TestProbe_RefusedPortIsUnreachable(t *testing.T) {
	ln, port := listenTCP(t)
	ln.Close() // free the port so the dial is refused

	res := Probe(context.Background(), &Connection{Name: "a", HostName: "127.0.0.1", Port: port}, 2*time.Second)
	if res.Reachable {
		t.Fatalf("expected unreachable, got %+v", res)
	}
	if res.AuthOK {
		t.Fatalf("expected auth not ok, got %+v", res)
	}
}

func TestProbe_NonSSHListenerIsReachableWithoutAuth(t *testing.T) {
	ln, port := listenTCP(t)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	res := Probe(context.Background(), &Connection{Name: "a", HostName: "127.0.0.1", Port: port}, 2*time.Second)
	if !res.Reachable {
		t.Fatalf("expected reachable, got %+v", res)
	}
	if res.AuthOK {
		t.Fatalf("expected handshake to fail against a bare TCP listener, got %+v", res)
	}
}

func TestProbeAll_KeepsInputOrder(t *testing.T) {
	ln, port := listenTCP(t)
	ln.Close()

	conns := []*Connection{
		{Name: "first", HostName: "127.0.0.1", Port: port},
		{Name: "second", HostName: "127.0.0.1", Port: port},
		{Name: "third", HostName: "127.0.0.1", Port: port},
	}
	results := ProbeAll(context.Background(), conns, time.Second, 2)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"first", "second", "third"} {
		if results[i].Name != want {
			t.Fatalf("expected results in input order, got %v", results)
		}
	}
}
