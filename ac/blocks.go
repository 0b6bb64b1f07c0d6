package ac

import (
	"context"
	"fmt"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/golang/glog"
)

// a block as returned by PT
type Block = PtData

type BlockFunction func(block Block)

// Change callbacks for panel blocks. Callbacks are attached either to specific block ids
// or to the global set, which receives every change.
//
// Attaching a callback does not tell the server about it. Use `Register` or `RegisterChange`.
// Every id with a specific callback is registered again after each reconnect.
type BlockRegistry struct {
	sender Sender
	pt     *PtClient

	stateLock       sync.Mutex
	globalCallbacks *CallbackList[BlockFunction]
	blockCallbacks  map[string]*CallbackList[BlockFunction]
}

func NewBlockRegistry(sender Sender, pt *PtClient) *BlockRegistry {
	return &BlockRegistry{
		sender:          sender,
		pt:              pt,
		globalCallbacks: NewCallbackList[BlockFunction](),
		blockCallbacks:  map[string]*CallbackList[BlockFunction]{},
	}
}

func (self *BlockRegistry) blockCallbackList(blockId string) *CallbackList[BlockFunction] {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbacks, ok := self.blockCallbacks[blockId]
	if !ok {
		callbacks = NewCallbackList[BlockFunction]()
		self.blockCallbacks[blockId] = callbacks
	}
	return callbacks
}

// Attaches `callback` to each of `blockIds`, or to the global set when no ids are given.
// The returned function detaches it from every set it was attached to.
func (self *BlockRegistry) OnBlockChange(callback BlockFunction, blockIds ...string) func() {
	if len(blockIds) == 0 {
		return self.globalCallbacks.Subscribe(callback)
	}

	unsubs := []func(){}
	for _, blockId := range uniqueIds(blockIds) {
		unsubs = append(unsubs, self.blockCallbackList(blockId).Subscribe(callback))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Attaches `callback` and registers the ids with the server.
// The returned function detaches the callback and unregisters the ids that no other callback is attached to.
func (self *BlockRegistry) RegisterChange(callback BlockFunction, blockIds ...string) func() {
	unsub := self.OnBlockChange(callback, blockIds...)
	self.Register(blockIds...)
	return func() {
		unsub()
		if unusedIds := self.unusedIds(blockIds); 0 < len(unusedIds) {
			self.Unregister(unusedIds...)
		}
	}
}

// the ids without any specific callback
func (self *BlockRegistry) unusedIds(blockIds []string) []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	unusedIds := []string{}
	for _, blockId := range uniqueIds(blockIds) {
		if callbacks, ok := self.blockCallbacks[blockId]; !ok || callbacks.Len() == 0 {
			unusedIds = append(unusedIds, blockId)
		}
	}
	return unusedIds
}

func (self *BlockRegistry) Register(blockIds ...string) {
	self.send("REGISTER", blockIds)
}

func (self *BlockRegistry) Unregister(blockIds ...string) {
	self.send("UNREGISTER", blockIds)
}

func (self *BlockRegistry) send(command string, blockIds []string) {
	self.sender.Send(FormatMessage(NoId, "AC", NoId, "BLOCKS", command, EncodeIdList(blockIds)))
}

// the ids that currently have at least one specific callback, ordered
func (self *BlockRegistry) SubscribedIds() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	blockIds := []string{}
	for blockId, callbacks := range self.blockCallbacks {
		if 0 < callbacks.Len() {
			blockIds = append(blockIds, blockId)
		}
	}
	sort.Strings(blockIds)
	return blockIds
}

func (self *BlockRegistry) sendAllRegistrations() {
	if blockIds := self.SubscribedIds(); 0 < len(blockIds) {
		self.Register(blockIds...)
	}
}

// `-;AC;-;BLOCKS;<verb>;...`
func (self *BlockRegistry) onMessage(ctx context.Context, message Message) error {
	if err := message.Require(5); err != nil {
		return err
	}

	switch message.Upper(4) {
	case "REGISTER":
		if err := message.Require(7); err != nil {
			return err
		}
		if message.Upper(6) == "ERR" {
			reason := ""
			if 8 <= message.Len() {
				reason = message.Field(7)
			}
			glog.Errorf("[blocks]%s register error: %s\n", message.Field(5), reason)
		} else {
			glog.V(1).Infof("[blocks]%s register %s\n", message.Field(5), message.Field(6))
		}
	case "CHANGE":
		if err := message.Require(6); err != nil {
			return err
		}
		self.callChange(ctx, message.Field(5))
	case "LIST":
		// not consumed
	default:
		glog.V(1).Infof("[blocks]ignore %s\n", message)
	}
	return nil
}

// fetches the block state, then runs the global callbacks followed by the callbacks for the block
func (self *BlockRegistry) callChange(ctx context.Context, blockId string) {
	data, err := self.pt.Get(ctx, fmt.Sprintf("/blocks/%s?state=true", blockId))
	if err != nil {
		glog.Errorf("[blocks]%s state fetch error = %s\n", blockId, err)
		return
	}
	block, err := PtObject(data, "block")
	if err != nil {
		glog.Errorf("[blocks]%s state fetch error = %s\n", blockId, err)
		return
	}

	callbacks := self.globalCallbacks.Get()
	self.stateLock.Lock()
	if blockCallbacks, ok := self.blockCallbacks[blockId]; ok {
		callbacks = append(callbacks, blockCallbacks.Get()...)
	}
	self.stateLock.Unlock()

	for _, callback := range callbacks {
		HandleError("blocks change", func() {
			callback(block)
		}, func(err error) {
			glog.Errorf("[blocks]%s change callback %s failed = %s\n", blockId, CallbackName(callback), err)
		})
	}
}

// Lists every block known to the panel server, keyed by block id.
// With `state` the current block state is included.
func (self *BlockRegistry) List(ctx context.Context, state bool) (map[string]Block, error) {
	path := "/blocks"
	if state {
		path += "?state=true"
	}
	data, err := self.pt.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	blocks, err := PtList(data, "blocks")
	if err != nil {
		return nil, err
	}
	blocksById := map[string]Block{}
	for _, block := range blocks {
		blocksById[BlockId(block)] = block
	}
	return blocksById, nil
}

// the id of a PT block as the string used on the wire
func BlockId(block Block) string {
	return PtId(block)
}

func uniqueIds(ids []string) []string {
	idSet := mapset.NewThreadUnsafeSet[string](ids...)
	orderedIds := idSet.ToSlice()
	sort.Strings(orderedIds)
	return orderedIds
}
