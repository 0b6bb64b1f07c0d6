package ac

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/shopspring/decimal"
)

const ClientProtocolVersion = "1.1"
const MinServerProtocolVersion = "1.0"

const DefaultPanelPort = 5896

type ConnectionState int

const (
	Disconnected      ConnectionState = 0
	Connecting        ConnectionState = 1
	AwaitingHandshake ConnectionState = 2
	Connected         ConnectionState = 3
)

func (self ConnectionState) String() string {
	switch self {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingHandshake:
		return "awaiting_handshake"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("connection_state(%d)", int(self))
	}
}

type PanelClientSettings struct {
	TransportSettings

	// period of the update tick, and the longest a receive blocks
	UpdatePeriod time.Duration
	// wait after any connection ends, before the next attempt
	ReconnectTimeout time.Duration
	// additional wait after a dial error other than a timeout, e.g. connection refused
	ReconnectErrorTimeout time.Duration

	ClientVersion    string
	MinServerVersion string
	AppName          string

	DialTransport DialTransportFunc
}

func DefaultPanelClientSettings() *PanelClientSettings {
	return &PanelClientSettings{
		TransportSettings: TransportSettings{
			ConnectTimeout: 10 * time.Second,
			WriteTimeout:   5 * time.Second,
			KeepAlive:      1 * time.Second,
		},
		UpdatePeriod:          1 * time.Second,
		ReconnectTimeout:      1 * time.Second,
		ReconnectErrorTimeout: 9 * time.Second,
		ClientVersion:         ClientProtocolVersion,
		MinServerVersion:      MinServerProtocolVersion,
		DialTransport:         DialTransport,
	}
}

type ConnectFunction func()

// Keeps one connection to the panel server open, recovering it indefinitely.
//
// A single loop (`Run`) connects, performs the handshake, reads and dispatches messages,
// and runs the update tick. All callbacks run synchronously on this loop, so a slow
// callback delays every other AC and the next tick.
// `Send` may be called from any goroutine.
type PanelClient struct {
	address  string
	settings *PanelClientSettings

	pt     *PtClient
	acs    *ACRegistry
	blocks *BlockRegistry

	connectCallbacks    *CallbackList[ConnectFunction]
	disconnectCallbacks *CallbackList[ConnectFunction]
	updateCallbacks     *CallbackList[ConnectFunction]

	sendLock  sync.Mutex
	transport Transport

	stateLock     sync.Mutex
	state         ConnectionState
	serverVersion string

	status statusHolder
}

func NewPanelClientWithDefaults(server string, port int) *PanelClient {
	return NewPanelClient(
		net.JoinHostPort(server, strconv.Itoa(port)),
		NewPtClientWithDefaults(server),
		DefaultPanelClientSettings(),
	)
}

func NewPanelClient(address string, pt *PtClient, settings *PanelClientSettings) *PanelClient {
	if settings.DialTransport == nil {
		settings.DialTransport = DialTransport
	}
	client := &PanelClient{
		address:             address,
		settings:            settings,
		pt:                  pt,
		connectCallbacks:    NewCallbackList[ConnectFunction](),
		disconnectCallbacks: NewCallbackList[ConnectFunction](),
		updateCallbacks:     NewCallbackList[ConnectFunction](),
		state:               Disconnected,
	}
	client.acs = NewACRegistry(client, pt)
	client.blocks = NewBlockRegistry(client, pt)
	client.refreshStatus()
	return client
}

func (self *PanelClient) Address() string {
	return self.address
}

func (self *PanelClient) ACs() *ACRegistry {
	return self.acs
}

func (self *PanelClient) Blocks() *BlockRegistry {
	return self.blocks
}

func (self *PanelClient) Pt() *PtClient {
	return self.pt
}

func (self *PanelClient) State() ConnectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *PanelClient) setState(state ConnectionState) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.state != state {
		glog.V(1).Infof("[pc]%s -> %s\n", self.state, state)
	}
	self.state = state
}

// the server protocol version of the current connection, or ""
func (self *PanelClient) ServerVersion() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.serverVersion
}

// runs after every AC's connect hook, each time the handshake completes
func (self *PanelClient) AddConnectCallback(callback ConnectFunction) func() {
	return self.connectCallbacks.Subscribe(callback)
}

// runs after every AC's disconnect hook, each time an opened connection ends
func (self *PanelClient) AddDisconnectCallback(callback ConnectFunction) func() {
	return self.disconnectCallbacks.Subscribe(callback)
}

// runs every update period while connected, after every AC's update hook
func (self *PanelClient) AddUpdateCallback(callback ConnectFunction) func() {
	return self.updateCallbacks.Subscribe(callback)
}

func (self *PanelClient) Status() ClientStatus {
	return self.status.get()
}

// must be called on the loop
func (self *PanelClient) refreshStatus() {
	acStatuses := []ACStatus{}
	for _, acn := range self.acs.All() {
		acStatuses = append(acStatuses, acStatus(acn))
	}
	self.status.set(ClientStatus{
		Connection:       self.State().String(),
		Address:          self.address,
		ServerVersion:    self.ServerVersion(),
		ACs:              acStatuses,
		SubscribedBlocks: self.blocks.SubscribedIds(),
		UpdateTime:       time.Now(),
	})
}

// Sends one frame. Fire and forget: a failure is logged and not retried.
func (self *PanelClient) Send(message string) {
	self.sendLock.Lock()
	defer self.sendLock.Unlock()

	if err := CheckFrame(message); err != nil {
		glog.Errorf("[pc]send error = %s\n", err)
		return
	}
	if self.transport == nil {
		glog.Errorf("[pc]send error = %s (%s)\n", ErrNotConnected, message)
		return
	}
	glog.V(2).Infof("[pc]< %s\n", message)
	if err := self.transport.Send([]byte(message + "\n")); err != nil {
		glog.Errorf("[pc]send error = %s\n", err)
	}
}

func (self *PanelClient) setTransport(transport Transport) {
	self.sendLock.Lock()
	defer self.sendLock.Unlock()
	self.transport = transport
}

// Connects and keeps reconnecting until `ctx` is done.
// Returns the context error.
func (self *PanelClient) Run(ctx context.Context) error {
	for {
		wait := self.settings.ReconnectTimeout
		var err error
		if glog.V(2) {
			_, err = TraceWithReturnError(fmt.Sprintf("[pc]connect %s", self.address), func() (ConnectionState, error) {
				connectErr := self.connect(ctx)
				return self.State(), connectErr
			})
		} else {
			err = self.connect(ctx)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		var dialErr *dialError
		switch {
		case errors.As(err, &dialErr):
			var netErr net.Error
			if errors.As(dialErr.err, &netErr) && netErr.Timeout() {
				glog.Infof("[pc]unable to connect to %s = %s\n", self.address, dialErr.err)
			} else {
				glog.Infof("[pc]connect error %s = %s\n", self.address, dialErr.err)
				wait += self.settings.ReconnectErrorTimeout
			}
		case errors.Is(err, ErrIncompatibleProtocol):
			glog.Infof("[pc]%s\n", err)
		case errors.Is(err, ErrDisconnected):
			glog.Infof("[pc]disconnected from server\n")
		case err != nil:
			glog.Infof("[pc]connection error = %s\n", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

type dialError struct {
	err error
}

func (self *dialError) Error() string {
	return fmt.Sprintf("Dial error: %s", self.err)
}

func (self *dialError) Unwrap() error {
	return self.err
}

// one connection attempt. Returns when the connection ends.
// Every AC and disconnect callback is notified before this returns, if the transport was opened.
func (self *PanelClient) connect(ctx context.Context) error {
	self.setState(Connecting)
	glog.V(1).Infof("[pc]connecting to %s\n", self.address)

	transport, err := self.settings.DialTransport(ctx, self.address, &self.settings.TransportSettings)
	if err != nil {
		self.setState(Disconnected)
		return &dialError{err: err}
	}

	stopClose := context.AfterFunc(ctx, func() {
		transport.Close()
	})

	self.setTransport(transport)
	self.setState(AwaitingHandshake)
	self.refreshStatus()

	self.Send(FormatMessage(NoId, "HELLO", self.settings.ClientVersion, self.settings.AppName))
	err = self.listen(ctx, transport)

	self.setTransport(nil)
	stopClose()
	transport.Close()

	self.acs.disconnect()
	for _, callback := range self.disconnectCallbacks.Get() {
		HandleError("disconnect", callback)
	}

	self.stateLock.Lock()
	self.serverVersion = ""
	self.stateLock.Unlock()
	self.setState(Disconnected)
	self.refreshStatus()
	return err
}

// reads and dispatches until the transport fails.
// The receive deadline is the next tick, so ticks run on time regardless of traffic.
func (self *PanelClient) listen(ctx context.Context, transport Transport) error {
	frameReader := NewFrameReader()
	nextUpdate := time.Now().Add(self.settings.UpdatePeriod)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := transport.Receive(nextUpdate)
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return err
		}

		for _, frame := range frameReader.Write(data) {
			if err := self.processFrame(ctx, frame); err != nil {
				// the remaining frames of this transport are not processed
				return err
			}
		}

		if now := time.Now(); !now.Before(nextUpdate) {
			nextUpdate = now.Add(self.settings.UpdatePeriod)
			if self.State() == Connected {
				self.update()
			}
		}

		self.refreshStatus()
	}
}

func (self *PanelClient) update() {
	self.acs.update()
	for _, callback := range self.updateCallbacks.Get() {
		HandleError("update", callback)
	}
}

// Routes one frame. Returns an error only when the connection must end.
func (self *PanelClient) processFrame(ctx context.Context, frame string) (returnErr error) {
	frame = strings.TrimSpace(frame)
	glog.V(2).Infof("[pc]> %s\n", frame)

	message := ParseMessage(frame)
	if !message.Routable() {
		return nil
	}

	var err error
	HandleError("message", func() {
		switch message.Upper(1) {
		case "HELLO":
			returnErr = self.onHello(message)
		case "PING":
			if message.Upper(2) == "REQ-RESP" {
				if 4 <= message.Len() {
					self.Send(FormatMessage(NoId, "PONG", message.Field(3)))
				} else {
					self.Send(FormatMessage(NoId, "PONG"))
				}
			}
		case "AC":
			if message.Len() < 4 || message.Field(0) != NoId {
				err = fmt.Errorf("%w %s", ErrMalformedMessage, message)
			} else if message.Field(2) != NoId {
				err = self.acs.onMessage(message)
			} else if message.Upper(3) == "BLOCKS" {
				err = self.blocks.onMessage(ctx, message)
			}
		default:
			glog.V(1).Infof("[pc]ignore %s\n", message)
		}
	})
	if err != nil {
		glog.Warningf("[pc]drop frame = %s\n", err)
	}
	return
}

// validates the server version and enters Connected
func (self *PanelClient) onHello(message Message) error {
	if err := message.Require(3); err != nil {
		return fmt.Errorf("%w %s", ErrIncompatibleProtocol, err)
	}
	serverVersion, err := decimal.NewFromString(strings.TrimSpace(message.Field(2)))
	if err != nil {
		return fmt.Errorf("%w Unreadable version %q.", ErrIncompatibleProtocol, message.Field(2))
	}
	minVersion, err := decimal.NewFromString(self.settings.MinServerVersion)
	if err != nil {
		return fmt.Errorf("%w Bad minimum version %q.", ErrIncompatibleProtocol, self.settings.MinServerVersion)
	}
	if serverVersion.LessThan(minVersion) {
		return fmt.Errorf("%w Server version %s < %s.", ErrIncompatibleProtocol, serverVersion, minVersion)
	}

	glog.Infof("[pc]server version %s\n", serverVersion)
	self.stateLock.Lock()
	self.serverVersion = serverVersion.String()
	self.stateLock.Unlock()
	self.setState(Connected)

	self.acs.connect()
	for _, callback := range self.connectCallbacks.Get() {
		HandleError("connect", callback)
	}
	self.blocks.sendAllRegistrations()
	return nil
}
