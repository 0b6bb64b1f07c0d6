package dance

import (
	"context"
	"fmt"
	"time"

	"github.com/kmzbrnoi/ac-go/ac"
)

const DefaultJCType = "VC"

// Builds a jc. A jc that is already active counts as built.
type StepJC struct {
	Name string
	Type string

	jc ac.PtData
}

func NewStepJC(name string) *StepJC {
	return &StepJC{
		Name: name,
		Type: DefaultJCType,
	}
}

func (self *StepJC) Start(ctx context.Context, dancer *Dancer) error {
	_, err := dancer.jcId(ctx, self.Type, self.Name)
	return err
}

func (self *StepJC) Update(ctx context.Context, dancer *Dancer) error {
	if self.jc == nil {
		jcId, err := dancer.jcId(ctx, self.Type, self.Name)
		if err != nil {
			return err
		}
		data, err := dancer.AC().PtGet(ctx, fmt.Sprintf("/jc/%s?state=true", jcId))
		if err != nil {
			return err
		}
		jc, err := ac.PtObject(data, "jc")
		if err != nil {
			return err
		}
		self.jc = jc
	}

	if state, err := ac.PtObject(self.jc, "state"); err == nil && state["active"] == true {
		self.jc = nil
		dancer.StepDone()
		return nil
	}

	result, err := dancer.AC().PtPut(ctx, fmt.Sprintf("/jc/%s/state", ac.PtId(self.jc)), ac.PtData{})
	if err != nil {
		return err
	}
	if result["success"] == true {
		self.jc = nil
		dancer.StepDone()
	}
	return nil
}

func (self *StepJC) Reset(dancer *Dancer) {
	self.jc = nil
}

func (self *StepJC) Description() string {
	return fmt.Sprintf("Stavění JC %s", self.Name)
}

// Waits for a fixed time, counted from the first update.
type StepDelay struct {
	Delay time.Duration

	finish time.Time
}

func NewStepDelay(delay time.Duration) *StepDelay {
	return &StepDelay{
		Delay: delay,
	}
}

func (self *StepDelay) Start(ctx context.Context, dancer *Dancer) error {
	return nil
}

func (self *StepDelay) Update(ctx context.Context, dancer *Dancer) error {
	now := time.Now()
	if self.finish.IsZero() {
		self.finish = now.Add(self.Delay)
	}
	if now.After(self.finish) {
		self.finish = time.Time{}
		dancer.StepDone()
	}
	return nil
}

func (self *StepDelay) Reset(dancer *Dancer) {
	self.finish = time.Time{}
}

func (self *StepDelay) Description() string {
	return fmt.Sprintf("Čekání %s", self.Delay)
}

type BlockChecker func(block ac.Block) bool

// Waits until `Checker` accepts the state of a block.
// The block is checked once, then on each of its changes.
type StepWaitForBlock struct {
	Name    string
	Checker BlockChecker

	blockId string
	unsub   func()
}

func NewStepWaitForBlock(name string, checker BlockChecker) *StepWaitForBlock {
	return &StepWaitForBlock{
		Name:    name,
		Checker: checker,
	}
}

func (self *StepWaitForBlock) Start(ctx context.Context, dancer *Dancer) error {
	_, err := dancer.blockId(ctx, self.Name)
	return err
}

func (self *StepWaitForBlock) Update(ctx context.Context, dancer *Dancer) error {
	if self.unsub != nil {
		// waiting for a change
		return nil
	}

	blockId, err := dancer.blockId(ctx, self.Name)
	if err != nil {
		return err
	}
	data, err := dancer.AC().PtGet(ctx, fmt.Sprintf("/blocks/%s?state=true", blockId))
	if err != nil {
		return err
	}
	block, err := ac.PtObject(data, "block")
	if err != nil {
		return err
	}

	if self.Checker(block) {
		dancer.StepDone()
		return nil
	}
	self.blockId = blockId
	self.unsub = dancer.Blocks().RegisterChange(func(block ac.Block) {
		self.onBlockChange(dancer, block)
	}, blockId)
	return nil
}

func (self *StepWaitForBlock) onBlockChange(dancer *Dancer, block ac.Block) {
	if self.unsub == nil || ac.BlockId(block) != self.blockId {
		return
	}
	if !dancer.AC().Running() {
		return
	}
	if self.Checker(block) {
		self.Reset(dancer)
		dancer.StepDone()
	}
}

func (self *StepWaitForBlock) Reset(dancer *Dancer) {
	if self.unsub != nil {
		self.unsub()
		self.unsub = nil
	}
	self.blockId = ""
}

func (self *StepWaitForBlock) Description() string {
	return fmt.Sprintf("Čekání na stav bloku %s", self.Name)
}

// accepts a block whose `blockState.state` is `state`
func BlockStateIs(state string) BlockChecker {
	return func(block ac.Block) bool {
		blockState, err := ac.PtObject(block, "blockState")
		if err != nil {
			return false
		}
		return blockState["state"] == state
	}
}

func TrackIsOccupied(block ac.Block) bool {
	return BlockStateIs("occupied")(block)
}
