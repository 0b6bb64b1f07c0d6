package ac

import (
	"context"
	"errors"
	"flag"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

// records every sent frame
type testSender struct {
	stateLock sync.Mutex
	messages  []string
}

func (self *testSender) Send(message string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.messages = append(self.messages, message)
}

func (self *testSender) Messages() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	messages := make([]string, len(self.messages))
	copy(messages, self.messages)
	return messages
}

func (self *testSender) Reset() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.messages = nil
}

func TestCallbackList(t *testing.T) {
	callbacks := NewCallbackList[func() int]()
	assert.Equal(t, callbacks.Len(), 0)

	aId := callbacks.Add(func() int { return 1 })
	unsubB := callbacks.Subscribe(func() int { return 2 })
	callbacks.Add(func() int { return 3 })
	assert.Equal(t, callbacks.Len(), 3)

	values := func() []int {
		out := []int{}
		for _, callback := range callbacks.Get() {
			out = append(out, callback())
		}
		return out
	}
	assert.Equal(t, values(), []int{1, 2, 3})

	unsubB()
	assert.Equal(t, values(), []int{1, 3})
	// removing twice is a no-op
	unsubB()
	assert.Equal(t, values(), []int{1, 3})

	assert.Equal(t, callbacks.Remove(aId), true)
	assert.Equal(t, callbacks.Remove(aId), false)
	assert.Equal(t, values(), []int{3})
}

func TestCallbackListSnapshot(t *testing.T) {
	// a list returned by `Get` is not affected by later changes
	callbacks := NewCallbackList[func()]()
	unsub := callbacks.Subscribe(func() {})
	snapshot := callbacks.Get()
	unsub()
	callbacks.Add(func() {})
	callbacks.Add(func() {})
	assert.Equal(t, len(snapshot), 1)
	assert.Equal(t, callbacks.Len(), 2)
}

func TestHandleError(t *testing.T) {
	var handledErr error
	handled := false
	r := HandleError("test", func() {
		panic("boom")
	}, func() {
		handled = true
	}, func(err error) {
		handledErr = err
	})
	assert.Equal(t, r, "boom")
	assert.Equal(t, handled, true)
	assert.NotEqual(t, handledErr, nil)
	assert.Equal(t, handledErr.Error(), "boom")

	r = HandleError("test", func() {})
	assert.Equal(t, r, nil)
}

func TestHandleErrorCanceled(t *testing.T) {
	var handledErr error
	HandleError("test", func() {
		panic(context.Canceled)
	}, func(err error) {
		handledErr = err
	})
	assert.Equal(t, errors.Is(handledErr, context.Canceled), true)
}

func TestTraceWithReturnError(t *testing.T) {
	result, err := TraceWithReturnError("test", func() (int, error) {
		return 1, nil
	})
	assert.Equal(t, result, 1)
	assert.Equal(t, err, nil)

	testErr := errors.New("test")
	_, err = TraceWithReturnError("test", func() (string, error) {
		return "", testErr
	})
	assert.Equal(t, err, testErr)
}
