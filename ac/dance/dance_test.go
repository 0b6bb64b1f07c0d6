package dance

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/kmzbrnoi/ac-go/ac"
)

const testTimeout = 5 * time.Second

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

type testPtPut struct {
	Path     string
	User     string
	Password string
}

// a fake PT server with one JSON response per path
type testPt struct {
	stateLock sync.Mutex
	responses map[string]any
	puts      []testPtPut
}

func newTestPt(t *testing.T) (*testPt, *ac.PtClient) {
	testPt := &testPt{
		responses: map[string]any{
			"/jc": map[string]any{
				"jc": []any{
					map[string]any{"id": 7, "name": "Klb S1 > Klb PriblL", "type": "VC"},
					map[string]any{"id": 8, "name": "Klb L1 > Klb S2", "type": "PC"},
				},
			},
			"/jc/7": map[string]any{
				"jc": map[string]any{"id": 7, "state": map[string]any{"active": false}},
			},
			"/jc/7/state": map[string]any{
				"success": true,
			},
			"/blocks": map[string]any{
				"blocks": []any{
					map[string]any{"id": 12, "name": "Klb K1"},
				},
			},
			"/blocks/12": map[string]any{
				"block": map[string]any{"id": 12, "blockState": map[string]any{"state": "free"}},
			},
		},
	}
	server := httptest.NewServer(testPt)
	t.Cleanup(server.Close)
	return testPt, ac.NewPtClient(&ac.PtClientSettings{
		BaseUrl: server.URL,
	})
}

func (self *testPt) SetResponse(path string, response any) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.responses[path] = response
}

func (self *testPt) Puts() []testPtPut {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	puts := make([]testPtPut, len(self.puts))
	copy(puts, self.puts)
	return puts
}

func (self *testPt) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if r.Method == http.MethodPut {
		user, password, _ := r.BasicAuth()
		self.puts = append(self.puts, testPtPut{
			Path:     r.URL.Path,
			User:     user,
			Password: password,
		})
	}
	response, ok := self.responses[r.URL.Path]
	if !ok {
		http.Error(w, "Not found.", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(response)
}

type testPanelConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// starts a client against a fake panel server and returns the server side of the first connection
func runTestPanel(t *testing.T, client func(address string) *ac.PanelClient) *testPanelConn {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Equal(t, err, nil)
	t.Cleanup(func() {
		listener.Close()
	})

	conns := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			conns <- conn
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client(listener.Addr().String()).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case conn := <-conns:
		t.Cleanup(func() {
			conn.Close()
		})
		return &testPanelConn{
			conn:   conn,
			reader: bufio.NewReader(conn),
		}
	case <-time.After(testTimeout):
		t.Fatalf("No connection.")
		return nil
	}
}

func (self *testPanelConn) Write(t *testing.T, frames ...string) {
	_, err := self.conn.Write([]byte(strings.Join(frames, "\n") + "\n"))
	assert.Equal(t, err, nil)
}

func (self *testPanelConn) WaitFrame(t *testing.T, frame string) {
	self.conn.SetReadDeadline(time.Now().Add(testTimeout))
	for {
		line, err := self.reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Waiting for %q: %s", frame, err)
		}
		if strings.TrimRight(line, "\r\n") == frame {
			return
		}
	}
}

func newTestClient(pt *ac.PtClient, steps []Step) func(address string) *ac.PanelClient {
	return func(address string) *ac.PanelClient {
		settings := ac.DefaultPanelClientSettings()
		settings.UpdatePeriod = 20 * time.Millisecond
		settings.ReconnectTimeout = 50 * time.Millisecond
		settings.ReconnectErrorTimeout = 0
		settings.AppName = "dance"
		client := ac.NewPanelClient(address, pt, settings)
		client.ACs().GetOrCreate("5000").SetPassword("pw")
		NewDancerWithDefaults(context.Background(), client, "5000", steps)
		return client
	}
}

func TestDance(t *testing.T) {
	testPt, pt := newTestPt(t)
	steps := []Step{
		NewStepDelay(10 * time.Millisecond),
		NewStepJC("Klb S1 > Klb PriblL"),
		NewStepWaitForBlock("Klb K1", TrackIsOccupied),
	}
	conn := runTestPanel(t, newTestClient(pt, steps))

	conn.WaitFrame(t, "-;HELLO;1.1;dance")
	conn.Write(t, "-;HELLO;1.1", "-;AC;5000;AUTH;ok", "-;AC;5000;CONTROL;START")

	conn.WaitFrame(t, "-;AC;5000;CONTROL;STATE;{{Aktuální krok: 1: Čekání 10ms}}")
	conn.WaitFrame(t, "-;AC;5000;CONTROL;STATE;{{Aktuální krok: 2: Stavění JC Klb S1 > Klb PriblL}}")
	conn.WaitFrame(t, "-;AC;5000;CONTROL;STATE;{{Aktuální krok: 3: Čekání na stav bloku Klb K1}}")
	conn.WaitFrame(t, "-;AC;-;BLOCKS;REGISTER;{12}")

	assert.Equal(t, testPt.Puts(), []testPtPut{
		{Path: "/jc/7/state", User: "5000", Password: "pw"},
	})

	testPt.SetResponse("/blocks/12", map[string]any{
		"block": map[string]any{"id": 12, "blockState": map[string]any{"state": "occupied"}},
	})
	conn.Write(t, "-;AC;-;BLOCKS;CHANGE;12")
	conn.WaitFrame(t, "-;AC;-;BLOCKS;UNREGISTER;{12}")
	conn.WaitFrame(t, "-;AC;5000;CONTROL;DONE")
}

func TestDanceActiveJC(t *testing.T) {
	testPt, pt := newTestPt(t)
	testPt.SetResponse("/jc/7", map[string]any{
		"jc": map[string]any{"id": 7, "state": map[string]any{"active": true}},
	})
	steps := []Step{
		NewStepJC("Klb S1 > Klb PriblL"),
	}
	conn := runTestPanel(t, newTestClient(pt, steps))

	conn.WaitFrame(t, "-;HELLO;1.1;dance")
	conn.Write(t, "-;HELLO;1.1", "-;AC;5000;AUTH;ok", "-;AC;5000;CONTROL;START")
	conn.WaitFrame(t, "-;AC;5000;CONTROL;DONE")
	assert.Equal(t, testPt.Puts(), []testPtPut{})
}

func TestDanceStartError(t *testing.T) {
	_, pt := newTestPt(t)
	steps := []Step{
		NewStepDelay(time.Hour),
		// only a PC jc has this name
		NewStepJC("Klb L1 > Klb S2"),
	}
	conn := runTestPanel(t, newTestClient(pt, steps))

	conn.WaitFrame(t, "-;HELLO;1.1;dance")
	conn.Write(t, "-;HELLO;1.1", "-;AC;5000;AUTH;ok", "-;AC;5000;CONTROL;START")
	conn.WaitFrame(t, "-;AC;5000;CONTROL;ERROR;DISPBOTTOM;Krok 2: Jízdní cesta Klb L1 > Klb S2 neexistuje!")
	conn.WaitFrame(t, "-;AC;5000;CONTROL;DONE")
}

func TestDanceStop(t *testing.T) {
	_, pt := newTestPt(t)
	steps := []Step{
		NewStepWaitForBlock("Klb K1", TrackIsOccupied),
	}
	conn := runTestPanel(t, newTestClient(pt, steps))

	conn.WaitFrame(t, "-;HELLO;1.1;dance")
	conn.Write(t, "-;HELLO;1.1", "-;AC;5000;AUTH;ok", "-;AC;5000;CONTROL;START")
	conn.WaitFrame(t, "-;AC;-;BLOCKS;REGISTER;{12}")

	// stopping releases the block and clears the status
	conn.Write(t, "-;AC;5000;CONTROL;STOP")
	conn.WaitFrame(t, "-;AC;-;BLOCKS;UNREGISTER;{12}")
	conn.WaitFrame(t, "-;AC;5000;CONTROL;STATE;{{}}")
}
