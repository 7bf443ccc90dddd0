package smtp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// startServer runs a server on an ephemeral port and returns its address
// and a cancel func that triggers graceful shutdown.
func startServer(t *testing.T, deliverer *mockDeliverer) (string, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	server := New(ServerConfig{
		ListenAddr:  "127.0.0.1:0",
		Hostname:    "mx.test",
		Deliverer:   deliverer,
		ReadTimeout: 5 * time.Second,
	})

	done := make(chan error, 1)
	go func() { done <- server.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("server returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop after cancellation")
		}
	})

	// Wait for the listener to come up.
	deadline := time.Now().Add(5 * time.Second)
	for server.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never started listening")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return server.Addr().String(), cancel
}

func TestServer_ConcurrentSessions(t *testing.T) {
	deliverer := newMockDeliverer()
	addr, _ := startServer(t, deliverer)

	// Two peers run independent transactions at the same time.
	conns := make([]net.Conn, 2)
	readers := make([]*bufio.Reader, 2)
	for i := range conns {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("dial %d failed: %v", i, err)
		}
		defer conn.Close()
		conns[i] = conn
		readers[i] = bufio.NewReader(conn)
		if got := readLine(t, readers[i]); !strings.HasPrefix(got, "220 ") {
			t.Fatalf("greeting %d: got %q", i, got)
		}
	}

	domains := []string{"one.test", "two.test"}
	for i, conn := range conns {
		expect(t, conn, readers[i], "MAIL FROM:<sender@origin.net>", "250")
		expect(t, conn, readers[i], "RCPT TO:<user@"+domains[i]+">", "250")
		expect(t, conn, readers[i], "DATA", "354")
	}
	for i, conn := range conns {
		sendCmd(t, conn, "body for "+domains[i])
		sendCmd(t, conn, ".")
		if reply := readLine(t, readers[i]); !strings.HasPrefix(reply, "250 ") {
			t.Fatalf("after body %d: got %q", i, reply)
		}
		expect(t, conn, readers[i], "QUIT", "221")
	}

	for i, domain := range domains {
		msg := deliverer.message(domain)
		if msg == nil {
			t.Fatalf("no delivery for %s", domain)
		}
		if want := "body for " + domain; msg.Body[0] != want {
			t.Errorf("domain %d body: got %q, want %q", i, msg.Body[0], want)
		}
	}
}

func TestServer_ShutdownNotifiesIdlePeer(t *testing.T) {
	deliverer := newMockDeliverer()
	addr, cancel := startServer(t, deliverer)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	if got := readLine(t, reader); !strings.HasPrefix(got, "220 ") {
		t.Fatalf("greeting: got %q", got)
	}

	cancel()

	// The session finishes the in-flight command, then announces the
	// shutdown with 421 before closing.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	expect(t, conn, reader, "NOOP", "250")
	reply, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading shutdown notice: %v", err)
	}
	if !strings.HasPrefix(reply, "421 ") {
		t.Fatalf("shutdown notice: got %q, want 421", reply)
	}
}
