package podnet

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"
)

// WebsocketListener upgrades HTTP requests and feeds the resulting message
// streams to a Host. Binary messages carry the payload bytes; message
// boundaries are not preserved across the relay, matching stream semantics.
type WebsocketListener struct {
	*asyncobj.Helper

	log      logger.Logger
	host     *Host
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewWebsocketListener returns a listener serving addr. It can also be
// mounted on an existing mux via ServeHTTP, in which case Serve is not used.
func NewWebsocketListener(log logger.Logger, host *Host, addr string) *WebsocketListener {
	l := &WebsocketListener{
		log:  log.ForkLogStr(fmt.Sprintf("<WebsocketListener %s>", addr)),
		host: host,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	l.server = &http.Server{Addr: addr, Handler: l}
	l.Helper = asyncobj.NewHelper(l.log, l)
	l.SetIsActivated()
	return l
}

// ServeHTTP implements http.Handler: it upgrades the request and hands the
// websocket stream to the Host.
func (l *WebsocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.WLogf("upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	if _, err := l.host.Accept(&wsTransport{conn: wsConn}); err != nil {
		l.log.WLogf("websocket connection from %s refused: %v", r.RemoteAddr, err)
	}
}

// Serve runs the listener's own HTTP server until shutdown.
func (l *WebsocketListener) Serve() error {
	err := l.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// HandleOnceShutdown closes the HTTP server, unblocking Serve. Called
// exactly once by the asyncobj Helper.
func (l *WebsocketListener) HandleOnceShutdown(completionErr error) error {
	if err := l.server.Close(); err != nil && completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// wsTransport adapts a message-oriented websocket connection to the
// stream-oriented Transport surface. The pump goroutines give it exactly one
// concurrent reader and one concurrent writer, which is all gorilla allows.
type wsTransport struct {
	conn   *websocket.Conn
	reader io.Reader
}

func (t *wsTransport) Read(p []byte) (int, error) {
	for {
		if t.reader == nil {
			msgType, r, err := t.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
				continue
			}
			t.reader = r
		}
		n, err := t.reader.Read(p)
		if err == io.EOF {
			t.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (t *wsTransport) Write(p []byte) (int, error) {
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *wsTransport) Close() error {
	deadline := time.Now().Add(time.Second)
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return t.conn.Close()
}
