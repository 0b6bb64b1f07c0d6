package ac

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

type ptRequestRecord struct {
	Method      string
	Path        string
	Query       string
	User        string
	Password    string
	HasAuth     bool
	ContentType string
	Body        PtData
}

// a fake PT server that serves fixed JSON bodies by path and records every request
type testPt struct {
	server *httptest.Server
	pt     *PtClient

	stateLock sync.Mutex
	responses map[string]PtData
	requests  []ptRequestRecord
}

func newTestPt(t *testing.T) *testPt {
	testPt := &testPt{
		responses: map[string]PtData{},
	}
	testPt.server = httptest.NewServer(http.HandlerFunc(testPt.serve))
	t.Cleanup(testPt.server.Close)
	testPt.pt = NewPtClient(&PtClientSettings{
		BaseUrl: testPt.server.URL,
	})
	return testPt
}

// `path` is the request path without the query
func (self *testPt) SetResponse(path string, response PtData) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.responses[path] = response
}

func (self *testPt) Requests() []ptRequestRecord {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	requests := make([]ptRequestRecord, len(self.requests))
	copy(requests, self.requests)
	return requests
}

func (self *testPt) serve(w http.ResponseWriter, r *http.Request) {
	user, password, hasAuth := r.BasicAuth()
	bodyBytes, _ := io.ReadAll(r.Body)
	var body PtData
	json.Unmarshal(bodyBytes, &body)

	self.stateLock.Lock()
	self.requests = append(self.requests, ptRequestRecord{
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       r.URL.RawQuery,
		User:        user,
		Password:    password,
		HasAuth:     hasAuth,
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
	})
	response, ok := self.responses[r.URL.Path]
	self.stateLock.Unlock()

	if !ok {
		http.Error(w, "Not found.", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func TestPtGet(t *testing.T) {
	testPt := newTestPt(t)
	testPt.SetResponse("/blocks/12", PtData{
		"block": map[string]any{"id": 12, "name": "Klb K1"},
	})

	data, err := testPt.pt.Get(context.Background(), "/blocks/12?state=true")
	assert.Equal(t, err, nil)
	block, err := PtObject(data, "block")
	assert.Equal(t, err, nil)
	assert.Equal(t, block["name"], "Klb K1")
	assert.Equal(t, BlockId(block), "12")

	requests := testPt.Requests()
	assert.Equal(t, len(requests), 1)
	assert.Equal(t, requests[0].Method, http.MethodGet)
	assert.Equal(t, requests[0].Path, "/blocks/12")
	assert.Equal(t, requests[0].Query, "state=true")
	assert.Equal(t, requests[0].HasAuth, true)
	assert.Equal(t, requests[0].User, "")
	assert.Equal(t, requests[0].ContentType, "application/json")
}

func TestPtPut(t *testing.T) {
	testPt := newTestPt(t)
	testPt.SetResponse("/jc/7/state", PtData{"success": true})

	acn := NewAC("5000", &testSender{}, testPt.pt)
	acn.SetPassword("pw")
	result, err := acn.PtPut(context.Background(), "/jc/7/state", PtData{"ab": true})
	assert.Equal(t, err, nil)
	assert.Equal(t, result["success"], true)

	requests := testPt.Requests()
	assert.Equal(t, len(requests), 1)
	assert.Equal(t, requests[0].Method, http.MethodPut)
	assert.Equal(t, requests[0].User, "5000")
	assert.Equal(t, requests[0].Password, "pw")
	assert.Equal(t, requests[0].Body, PtData{"ab": true})
}

func TestPtError(t *testing.T) {
	testPt := newTestPt(t)

	_, err := testPt.pt.Get(context.Background(), "missing")
	assert.NotEqual(t, err, nil)
	assert.Equal(t, strings.Contains(err.Error(), "Not found."), true)
	assert.Equal(t, testPt.Requests()[0].Path, "/missing")
}

func TestPtData(t *testing.T) {
	data := PtData{
		"block":  map[string]any{"id": "a"},
		"blocks": []any{map[string]any{"id": float64(1)}, map[string]any{"id": "b"}},
		"count":  float64(2),
		"mixed":  []any{map[string]any{}, "x"},
	}

	_, err := PtObject(data, "missing")
	assert.NotEqual(t, err, nil)
	_, err = PtObject(data, "count")
	assert.NotEqual(t, err, nil)

	blocks, err := PtList(data, "blocks")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(blocks), 2)
	assert.Equal(t, BlockId(blocks[0]), "1")
	assert.Equal(t, BlockId(blocks[1]), "b")

	_, err = PtList(data, "mixed")
	assert.NotEqual(t, err, nil)
	_, err = PtList(data, "block")
	assert.NotEqual(t, err, nil)
}
