package ac

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const TransportReadSize = 2048

// A byte stream to the panel server. Chunk boundaries carry no meaning;
// framing is done by `FrameReader`.
type Transport interface {
	// blocks until data arrives or `deadline` passes.
	// A passed deadline is reported as `os.ErrDeadlineExceeded` and does not break the transport.
	Receive(deadline time.Time) ([]byte, error)
	Send(data []byte) error
	Close() error
}

type TransportSettings struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// tcp keepalive idle time and probe interval
	KeepAlive time.Duration
}

// (ctx, address)
type DialTransportFunc func(ctx context.Context, address string, settings *TransportSettings) (Transport, error)

// Dials `ws://` and `wss://` addresses as a websocket, anything else as tcp.
// A `tcp://` prefix is accepted.
func DialTransport(ctx context.Context, address string, settings *TransportSettings) (Transport, error) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		wsTransport, err := DialWsTransport(ctx, address, settings)
		if err != nil {
			return nil, err
		}
		return wsTransport, nil
	}
	tcpTransport, err := DialTcpTransport(ctx, strings.TrimPrefix(address, "tcp://"), settings)
	if err != nil {
		return nil, err
	}
	return tcpTransport, nil
}

type TcpTransport struct {
	conn         net.Conn
	writeTimeout time.Duration
	buffer       []byte
}

func DialTcpTransport(ctx context.Context, address string, settings *TransportSettings) (*TcpTransport, error) {
	dialer := &net.Dialer{
		Timeout:   settings.ConnectTimeout,
		KeepAlive: settings.KeepAlive,
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return NewTcpTransport(conn, settings.WriteTimeout), nil
}

func NewTcpTransport(conn net.Conn, writeTimeout time.Duration) *TcpTransport {
	return &TcpTransport{
		conn:         conn,
		writeTimeout: writeTimeout,
		buffer:       make([]byte, TransportReadSize),
	}
}

func (self *TcpTransport) Receive(deadline time.Time) ([]byte, error) {
	if err := self.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	n, err := self.conn.Read(self.buffer)
	if 0 < n {
		// any error is reported again by the next read
		data := make([]byte, n)
		copy(data, self.buffer[:n])
		return data, nil
	}
	if err == nil {
		return nil, nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, os.ErrDeadlineExceeded
	}
	if errors.Is(err, io.EOF) {
		return nil, ErrDisconnected
	}
	return nil, err
}

func (self *TcpTransport) Send(data []byte) error {
	if 0 < self.writeTimeout {
		self.conn.SetWriteDeadline(time.Now().Add(self.writeTimeout))
	}
	_, err := self.conn.Write(data)
	return err
}

func (self *TcpTransport) Close() error {
	return self.conn.Close()
}

type wsChunk struct {
	data []byte
	err  error
}

// Carries the line protocol over a websocket. Each text or binary message is a chunk of
// the stream. A websocket read deadline cannot be recovered from, so a reader goroutine
// forwards chunks and the deadline is applied to the wait instead.
type WsTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	ws           *websocket.Conn
	writeTimeout time.Duration

	receive   chan wsChunk
	closeOnce sync.Once
}

func DialWsTransport(ctx context.Context, url string, settings *TransportSettings) (*WsTransport, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: settings.ConnectTimeout,
		NetDialContext: (&net.Dialer{
			Timeout:   settings.ConnectTimeout,
			KeepAlive: settings.KeepAlive,
		}).DialContext,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWsTransport(ctx, ws, settings.WriteTimeout), nil
}

func NewWsTransport(ctx context.Context, ws *websocket.Conn, writeTimeout time.Duration) *WsTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &WsTransport{
		ctx:          cancelCtx,
		cancel:       cancel,
		ws:           ws,
		writeTimeout: writeTimeout,
		receive:      make(chan wsChunk),
	}
	go transport.run()
	return transport
}

func (self *WsTransport) run() {
	defer self.cancel()

	for {
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = ErrDisconnected
			}
			select {
			case <-self.ctx.Done():
			case self.receive <- wsChunk{err: err}:
			}
			return
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			select {
			case <-self.ctx.Done():
				return
			case self.receive <- wsChunk{data: message}:
			}
		default:
			glog.V(2).Infof("[ws]other=%d\n", messageType)
		}
	}
}

func (self *WsTransport) Receive(deadline time.Time) ([]byte, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-self.ctx.Done():
		return nil, ErrDisconnected
	case chunk := <-self.receive:
		return chunk.data, chunk.err
	case <-timer.C:
		return nil, os.ErrDeadlineExceeded
	}
}

func (self *WsTransport) Send(data []byte) error {
	if 0 < self.writeTimeout {
		self.ws.SetWriteDeadline(time.Now().Add(self.writeTimeout))
	}
	return self.ws.WriteMessage(websocket.TextMessage, data)
}

func (self *WsTransport) Close() error {
	var err error
	self.closeOnce.Do(func() {
		self.cancel()
		err = self.ws.Close()
	})
	return err
}
