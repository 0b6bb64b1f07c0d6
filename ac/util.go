package ac

import (
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
)

type callbackEntry[T any] struct {
	callbackId ulid.ULID
	callback   T
}

// makes a copy of the list on update
// callbacks are identified by the id returned from `Add`, since func values are not comparable
type CallbackList[T any] struct {
	mutex     sync.Mutex
	callbacks []callbackEntry[T]
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: []callbackEntry[T]{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.callbacks))
	for _, entry := range self.callbacks {
		callbacks = append(callbacks, entry.callback)
	}
	return callbacks
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbacks)
}

func (self *CallbackList[T]) Add(callback T) ulid.ULID {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := ulid.Make()
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = append(nextCallbacks, callbackEntry[T]{
		callbackId: callbackId,
		callback:   callback,
	})
	self.callbacks = nextCallbacks
	return callbackId
}

// returns true if the callback was present
func (self *CallbackList[T]) Remove(callbackId ulid.ULID) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.IndexFunc(self.callbacks, func(entry callbackEntry[T]) bool {
		return entry.callbackId == callbackId
	})
	if i < 0 {
		// not present
		return false
	}
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = slices.Delete(nextCallbacks, i, i+1)
	self.callbacks = nextCallbacks
	return true
}

// adds the callback and returns the unsubscribe function
func (self *CallbackList[T]) Subscribe(callback T) func() {
	callbackId := self.Add(callback)
	return func() {
		self.Remove(callbackId)
	}
}
