package podnet

import (
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cfhamlet/go-pod-channel/pkg/podchannel"
	"github.com/gorilla/websocket"
)

// startEchoServer runs a TCP echo service for the relay to connect to.
func startEchoServer(t *testing.T) string {
	t.Helper()
	nl, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			conn, err := nl.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				io.Copy(c, c)
				c.Close()
			}(conn)
		}
	}()
	t.Cleanup(func() { nl.Close() })
	return nl.Addr().String()
}

// startRelay wires a Host and an Engine targeting the echo service.
func startRelay(t *testing.T, target string) (*podchannel.Engine, *Host) {
	t.Helper()
	lg := testLogger(t)
	h := NewHost(lg)
	cfg := podchannel.DefaultConfig()
	cfg.ConnectTarget = target
	e, err := podchannel.NewEngine(lg, cfg, h, h)
	if err != nil {
		t.Fatalf("NewEngine() returned error: %s", err)
	}
	h.AttachSink(e)
	e.Start()
	t.Cleanup(func() {
		e.StartShutdown(nil)
		e.WaitShutdown()
		h.StartShutdown(nil)
		h.WaitShutdown()
	})
	return e, h
}

func readExactly(t *testing.T, conn net.Conn, n int) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read returned error: %s", err)
	}
	return string(buf)
}

func TestTCPRelayEndToEnd(t *testing.T) {
	_, h := startRelay(t, startEchoServer(t))

	l, err := NewTCPListener(testLogger(t), h, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener() returned error: %s", err)
	}
	go l.Serve()
	t.Cleanup(func() {
		l.StartShutdown(nil)
		l.WaitShutdown()
	})

	client, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial relay returned error: %s", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	if got := readExactly(t, client, 4); got != "ping" {
		t.Errorf("echoed %q, want ping", got)
	}

	// Second round trip over the same channel.
	if _, err := client.Write([]byte("again")); err != nil {
		t.Fatal(err)
	}
	if got := readExactly(t, client, 5); got != "again" {
		t.Errorf("echoed %q, want again", got)
	}
}

func TestTCPRelayClientCloseReachesTarget(t *testing.T) {
	target := startEchoServer(t)
	e, h := startRelay(t, target)

	l, err := NewTCPListener(testLogger(t), h, "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go l.Serve()
	t.Cleanup(func() {
		l.StartShutdown(nil)
		l.WaitShutdown()
	})

	client, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Write([]byte("bye")); err != nil {
		t.Fatal(err)
	}
	if got := readExactly(t, client, 3); got != "bye" {
		t.Fatalf("echoed %q, want bye", got)
	}
	client.Close()

	// The relay drains and closes the target side too, so the engine must
	// release the pair instead of leaking it.
	waitFor(t, "channel to close", func() bool {
		return e.Stats().String() == "[0/1]"
	})
}

func TestWebsocketRelayEndToEnd(t *testing.T) {
	_, h := startRelay(t, startEchoServer(t))

	wl := NewWebsocketListener(testLogger(t), h, "127.0.0.1:0")
	srv := httptest.NewServer(wl)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	wsConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial returned error: %s", err)
	}
	defer wsConn.Close()

	if err := wsConn.WriteMessage(websocket.BinaryMessage, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	wsConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, msg, err := wsConn.ReadMessage()
	if err != nil {
		t.Fatalf("websocket read returned error: %s", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", msgType)
	}
	if string(msg) != "ping" {
		t.Errorf("echoed %q, want ping", msg)
	}
}
