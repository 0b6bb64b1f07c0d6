package blockcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/kmzbrnoi/ac-go/ac"
)

// Keeps the last known state of each block that was asked for.
// A state is fetched from PT once, then replaced by the state carried by every block change.
// Only blocks that some registration covers receive changes from the server.

type BlockCacheSettings struct {
	// PT path of a block state, formatted with the block id
	StatePath string
	// key of the state, both in the PT response and in a changed block
	StateKey string
}

func DefaultBlockCacheSettings() *BlockCacheSettings {
	return &BlockCacheSettings{
		StatePath: "/blokStav/%s",
		StateKey:  "blokStav",
	}
}

type BlockCache struct {
	pt       *ac.PtClient
	settings *BlockCacheSettings

	stateLock sync.Mutex
	states    map[string]ac.PtData

	unsub func()
}

func NewBlockCacheWithDefaults(client *ac.PanelClient) *BlockCache {
	return NewBlockCache(client.Pt(), client.Blocks(), DefaultBlockCacheSettings())
}

func NewBlockCache(pt *ac.PtClient, blocks *ac.BlockRegistry, settings *BlockCacheSettings) *BlockCache {
	blockCache := &BlockCache{
		pt:       pt,
		settings: settings,
		states:   map[string]ac.PtData{},
	}
	blockCache.unsub = blocks.OnBlockChange(blockCache.onBlockChange)
	return blockCache
}

func (self *BlockCache) State(ctx context.Context, blockId string) (ac.PtData, error) {
	self.stateLock.Lock()
	state, ok := self.states[blockId]
	self.stateLock.Unlock()
	if ok {
		return state, nil
	}

	data, err := self.pt.Get(ctx, fmt.Sprintf(self.settings.StatePath, blockId))
	if err != nil {
		return nil, err
	}
	state, err = ac.PtObject(data, self.settings.StateKey)
	if err != nil {
		return nil, err
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	// a change that arrived during the fetch is newer
	if changedState, ok := self.states[blockId]; ok {
		return changedState, nil
	}
	self.states[blockId] = state
	return state, nil
}

func (self *BlockCache) Forget(blockId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.states, blockId)
}

// detaches the cache from block changes
func (self *BlockCache) Close() {
	self.unsub()
}

func (self *BlockCache) onBlockChange(block ac.Block) {
	blockId := ac.BlockId(block)
	state, err := ac.PtObject(block, self.settings.StateKey)
	if err != nil {
		glog.V(1).Infof("[cache]%s change without state = %s\n", blockId, err)
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.states[blockId] = state
}
