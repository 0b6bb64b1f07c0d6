package ac

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang/glog"
)

type State int

const (
	StateStopped State = 0
	StateRunning State = 1
	StatePaused  State = 2
)

func (self State) String() string {
	switch self {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(self))
	}
}

// the color the panel shows an AC in after it was started or stopped
const HighlightColor uint32 = 0xFFFF00

const (
	VerbStart  = "START"
	VerbStop   = "STOP"
	VerbPause  = "PAUSE"
	VerbResume = "RESUME"
)

// inbound control verb -> next state
var controlTransitions = map[string]State{
	VerbStart:  StateRunning,
	VerbStop:   StateStopped,
	VerbPause:  StatePaused,
	VerbResume: StateRunning,
}

// outbound frames go through a sender. `PanelClient` is the only production sender.
type Sender interface {
	Send(message string)
}

type ACFunction func(acn *AC)

// One automatic controller. The panel server drives its state with CONTROL messages,
// the AC reports back with DONE, ERROR, STATE and FG-COLOR.
//
// Hooks run on the client loop. An AC is not safe for concurrent use outside of the loop.
type AC struct {
	id string

	sender Sender
	pt     *PtClient

	password   string
	state      State
	registered bool
	statusText []string
	color      uint32

	registerCallbacks   *CallbackList[ACFunction]
	unregisterCallbacks *CallbackList[ACFunction]
	startCallbacks      *CallbackList[ACFunction]
	stopCallbacks       *CallbackList[ACFunction]
	pauseCallbacks      *CallbackList[ACFunction]
	resumeCallbacks     *CallbackList[ACFunction]
	updateCallbacks     *CallbackList[ACFunction]
	connectCallbacks    *CallbackList[ACFunction]
	disconnectCallbacks *CallbackList[ACFunction]
}

func NewAC(id string, sender Sender, pt *PtClient) *AC {
	return &AC{
		id:                  id,
		sender:              sender,
		pt:                  pt,
		state:               StateStopped,
		statusText:          []string{},
		color:               HighlightColor,
		registerCallbacks:   NewCallbackList[ACFunction](),
		unregisterCallbacks: NewCallbackList[ACFunction](),
		startCallbacks:      NewCallbackList[ACFunction](),
		stopCallbacks:       NewCallbackList[ACFunction](),
		pauseCallbacks:      NewCallbackList[ACFunction](),
		resumeCallbacks:     NewCallbackList[ACFunction](),
		updateCallbacks:     NewCallbackList[ACFunction](),
		connectCallbacks:    NewCallbackList[ACFunction](),
		disconnectCallbacks: NewCallbackList[ACFunction](),
	}
}

func (self *AC) Id() string {
	return self.id
}

func (self *AC) State() State {
	return self.state
}

func (self *AC) Running() bool {
	return self.state == StateRunning
}

func (self *AC) Paused() bool {
	return self.state == StatePaused
}

func (self *AC) Stopped() bool {
	return self.state == StateStopped
}

func (self *AC) Registered() bool {
	return self.registered
}

func (self *AC) Password() string {
	return self.password
}

func (self *AC) Color() uint32 {
	return self.color
}

// sets the password used by the next automatic (re)registration without sending anything
func (self *AC) SetPassword(password string) {
	self.password = password
}

func (self *AC) AddRegisterCallback(callback ACFunction) func() {
	return self.registerCallbacks.Subscribe(callback)
}

func (self *AC) AddUnregisterCallback(callback ACFunction) func() {
	return self.unregisterCallbacks.Subscribe(callback)
}

func (self *AC) AddStartCallback(callback ACFunction) func() {
	return self.startCallbacks.Subscribe(callback)
}

func (self *AC) AddStopCallback(callback ACFunction) func() {
	return self.stopCallbacks.Subscribe(callback)
}

func (self *AC) AddPauseCallback(callback ACFunction) func() {
	return self.pauseCallbacks.Subscribe(callback)
}

func (self *AC) AddResumeCallback(callback ACFunction) func() {
	return self.resumeCallbacks.Subscribe(callback)
}

// called every update period while connected, after the automatic re-registration
func (self *AC) AddUpdateCallback(callback ACFunction) func() {
	return self.updateCallbacks.Subscribe(callback)
}

func (self *AC) AddConnectCallback(callback ACFunction) func() {
	return self.connectCallbacks.Subscribe(callback)
}

func (self *AC) AddDisconnectCallback(callback ACFunction) func() {
	return self.disconnectCallbacks.Subscribe(callback)
}

// a message with a line break is logged and not sent
func (self *AC) send(fields ...string) {
	message := FormatMessage(append([]string{NoId, "AC", self.id}, fields...)...)
	if err := CheckFrame(message); err != nil {
		glog.Errorf("[ac]%s send error = %s\n", self.id, err)
		return
	}
	self.sender.Send(message)
}

// Signals that the AC finished its task.
func (self *AC) Done() {
	self.send("CONTROL", "DONE")
}

// Shows an error to the dispatcher.
func (self *AC) DispError(message string) {
	self.send("CONTROL", "ERROR", "DISPBOTTOM", message)
}

func (self *AC) Register(password string) {
	self.statusText = []string{}
	self.password = password
	self.send("LOGIN", password)
}

func (self *AC) Unregister() {
	self.password = ""
	self.send("LOGOUT")
}

// Sets the color of the AC block in the panel, e.g. to indicate a warning.
func (self *AC) SetColor(color uint32) {
	self.color = color
	self.send("CONTROL", "FG-COLOR", fmt.Sprintf("%06x", color&0xFFFFFF))
}

// The status text is shown in the panel under INFO in the AC block's menu.

func (self *AC) StatusText() []string {
	lines := make([]string, len(self.statusText))
	copy(lines, self.statusText)
	return lines
}

// Adds text to the status. Text with line breaks becomes several lines.
// Nothing is added when any line contains a brace.
func (self *AC) StatusAdd(text string) error {
	lines := strings.Split(strings.ReplaceAll(text, "\r", ""), "\n")
	for _, line := range lines {
		if strings.ContainsAny(line, "{}") {
			return fmt.Errorf("%w %q", ErrStatusTextBrace, line)
		}
	}
	self.statusText = append(self.statusText, lines...)
	return nil
}

func (self *AC) StatusClear() {
	self.statusText = []string{}
}

// sends the whole status text
func (self *AC) StatusSend() error {
	lines := self.statusText
	if len(lines) == 0 {
		// an empty text is sent as a single empty line
		lines = []string{""}
	}
	text, err := EncodeStatusText(lines)
	if err != nil {
		return err
	}
	self.send("CONTROL", "STATE", text)
	return nil
}

func (self *AC) PtGet(ctx context.Context, path string) (PtData, error) {
	return self.pt.Get(ctx, path)
}

// authenticates as this AC
func (self *AC) PtPut(ctx context.Context, path string, body PtData) (PtData, error) {
	return self.pt.Put(ctx, path, body, self.id, self.password)
}

func (self *AC) call(tag string, callbacks *CallbackList[ACFunction]) {
	for _, callback := range callbacks.Get() {
		HandleError(tag, func() {
			callback(self)
		}, func(err error) {
			glog.Errorf("[ac]%s %s callback %s failed = %s\n", self.id, tag, CallbackName(callback), err)
		})
	}
}

// registers again with the stored password, then runs the connect callbacks
func (self *AC) connect() {
	self.Register(self.password)
	self.call("connect", self.connectCallbacks)
}

func (self *AC) disconnect() {
	self.call("disconnect", self.disconnectCallbacks)
}

// re-sends the registration while not registered, then runs the update callbacks
func (self *AC) update() {
	if !self.registered {
		self.Register(self.password)
	}
	self.call("update", self.updateCallbacks)
}

// `-;AC;<id>;AUTH;...` and `-;AC;<id>;CONTROL;<verb>`
func (self *AC) onMessage(message Message) error {
	switch message.Upper(3) {
	case "AUTH":
		if err := message.Require(5); err != nil {
			return err
		}
		self.onAuth(message)
	case "CONTROL":
		if err := message.Require(5); err != nil {
			return err
		}
		self.onControl(message.Upper(4))
	default:
		glog.V(1).Infof("[ac]%s ignore %s\n", self.id, message)
	}
	return nil
}

func (self *AC) onAuth(message Message) {
	switch strings.ToLower(message.Field(4)) {
	case "ok":
		self.registered = true
		glog.V(1).Infof("[ac]%s registered\n", self.id)
		self.call("register", self.registerCallbacks)
	case "nok":
		// not retried from here. The update tick re-sends the registration.
		self.registered = false
		glog.Errorf("[ac]%s registration error %s: %s\n", self.id, message.Field(5), message.Field(6))
	case "logout":
		self.registered = false
		glog.V(1).Infof("[ac]%s unregistered\n", self.id)
		self.call("unregister", self.unregisterCallbacks)
	default:
		glog.Warningf("[ac]%s unknown auth result %q\n", self.id, message.Field(4))
	}
}

func (self *AC) onControl(verb string) {
	nextState, ok := controlTransitions[verb]
	if !ok {
		glog.Warningf("[ac]%s unknown control verb %q\n", self.id, verb)
		return
	}
	glog.V(1).Infof("[ac]%s %s -> %s\n", self.id, self.state, nextState)
	self.state = nextState

	switch verb {
	case VerbStart:
		self.color = HighlightColor
		self.call("start", self.startCallbacks)
	case VerbStop:
		self.color = HighlightColor
		self.call("stop", self.stopCallbacks)
	case VerbPause:
		self.call("pause", self.pauseCallbacks)
	case VerbResume:
		self.call("resume", self.resumeCallbacks)
	}
}
