package dance

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/kmzbrnoi/ac-go/ac"
)

// A dancer drives one AC through a predefined list of steps.
// Steps are numbered from 1. On start every step is checked, then the steps run in order,
// each advanced by the update tick or by block changes. When the last step is done the AC
// signals DONE. Progress is shown to the dispatcher in the status text.

var ErrJCNotFound = errors.New("JC not found.")
var ErrBlockNotFound = errors.New("Block not found.")

// an error with a message for the dispatcher
type notFoundError struct {
	err     error
	message string
}

func (self *notFoundError) Error() string {
	return self.message
}

func (self *notFoundError) Unwrap() error {
	return self.err
}

type Step interface {
	// Checks the step when the AC starts. An error aborts the start.
	Start(ctx context.Context, dancer *Dancer) error
	// Advances the step while it is current. A finished step calls `dancer.StepDone`.
	Update(ctx context.Context, dancer *Dancer) error
	// drops any progress, when the AC stops
	Reset(dancer *Dancer)
	Description() string
}

type Dancer struct {
	ctx context.Context

	acn    *ac.AC
	blocks *ac.BlockRegistry
	steps  []Step

	// current step, 1-based. 0 before the first start.
	stepi int

	// jc type -> jc name -> jc id
	jcIds map[string]map[string]string
	// block name -> block id
	blockIds map[string]string

	unsubs []func()
}

func NewDancerWithDefaults(ctx context.Context, client *ac.PanelClient, acId string, steps []Step) *Dancer {
	return NewDancer(ctx, client.ACs().GetOrCreate(acId), client.Blocks(), steps)
}

func NewDancer(ctx context.Context, acn *ac.AC, blocks *ac.BlockRegistry, steps []Step) *Dancer {
	dancer := &Dancer{
		ctx:      ctx,
		acn:      acn,
		blocks:   blocks,
		steps:    steps,
		jcIds:    map[string]map[string]string{},
		blockIds: map[string]string{},
	}
	dancer.unsubs = []func(){
		acn.AddStartCallback(dancer.onStart),
		acn.AddStopCallback(dancer.onStop),
		acn.AddUpdateCallback(dancer.onUpdate),
	}
	return dancer
}

// detaches the dancer from its AC
func (self *Dancer) Close() {
	for _, unsub := range self.unsubs {
		unsub()
	}
	self.unsubs = nil
	self.resetSteps()
}

func (self *Dancer) AC() *ac.AC {
	return self.acn
}

func (self *Dancer) Blocks() *ac.BlockRegistry {
	return self.blocks
}

func (self *Dancer) StepIndex() int {
	return self.stepi
}

func (self *Dancer) currentStep() (Step, bool) {
	if 1 <= self.stepi && self.stepi <= len(self.steps) {
		return self.steps[self.stepi-1], true
	}
	return nil, false
}

func (self *Dancer) onStart(acn *ac.AC) {
	glog.Infof("[dance]%s start\n", acn.Id())
	self.resetSteps()

	for i, step := range self.steps {
		if err := step.Start(self.ctx, self); err != nil {
			glog.Errorf("[dance]%s step %d cannot start = %s\n", acn.Id(), i+1, err)
			acn.DispError(fmt.Sprintf("Krok %d: %s", i+1, err))
			acn.Done()
			return
		}
	}

	self.stepi = 1
	self.sendStep()
	self.update()
}

func (self *Dancer) onStop(acn *ac.AC) {
	self.resetSteps()
	acn.StatusClear()
	if err := acn.StatusSend(); err != nil {
		glog.Errorf("[dance]%s status error = %s\n", acn.Id(), err)
	}
}

func (self *Dancer) onUpdate(acn *ac.AC) {
	self.update()
}

func (self *Dancer) update() {
	if !self.acn.Running() {
		return
	}

	step, ok := self.currentStep()
	if !ok {
		glog.Infof("[dance]%s done\n", self.acn.Id())
		self.acn.Done()
		return
	}
	if err := step.Update(self.ctx, self); err != nil {
		// retried on the next update
		glog.Errorf("[dance]%s step %d error = %s\n", self.acn.Id(), self.stepi, err)
	}
}

// Moves to the next step and advances it right away.
func (self *Dancer) StepDone() {
	glog.Infof("[dance]%s step %d done, going to step %d\n", self.acn.Id(), self.stepi, self.stepi+1)
	self.stepi += 1
	self.sendStep()
	self.update()
}

func (self *Dancer) sendStep() {
	step, ok := self.currentStep()
	if !ok {
		return
	}
	if self.acn.Running() {
		self.acn.StatusClear()
		line := fmt.Sprintf("Aktuální krok: %d: %s", self.stepi, step.Description())
		if err := self.acn.StatusAdd(line); err != nil {
			glog.Errorf("[dance]%s status error = %s\n", self.acn.Id(), err)
		}
	}
	if err := self.acn.StatusSend(); err != nil {
		glog.Errorf("[dance]%s status error = %s\n", self.acn.Id(), err)
	}
}

func (self *Dancer) resetSteps() {
	for _, step := range self.steps {
		step.Reset(self)
	}
}

// resolves a jc name of the given type through PT. The list is fetched once per type.
func (self *Dancer) jcId(ctx context.Context, jcType string, name string) (string, error) {
	jcIds, ok := self.jcIds[jcType]
	if !ok {
		data, err := self.acn.PtGet(ctx, "/jc")
		if err != nil {
			return "", err
		}
		jcs, err := ac.PtList(data, "jc")
		if err != nil {
			return "", err
		}
		jcIds = map[string]string{}
		for _, jc := range jcs {
			if jc["type"] == jcType {
				if name, ok := jc["name"].(string); ok {
					jcIds[name] = ac.PtId(jc)
				}
			}
		}
		self.jcIds[jcType] = jcIds
	}

	jcId, ok := jcIds[name]
	if !ok {
		return "", &notFoundError{
			err:     ErrJCNotFound,
			message: fmt.Sprintf("Jízdní cesta %s neexistuje!", name),
		}
	}
	return jcId, nil
}

// resolves a block name through PT. The list is fetched once.
func (self *Dancer) blockId(ctx context.Context, name string) (string, error) {
	if len(self.blockIds) == 0 {
		blocks, err := self.blocks.List(ctx, false)
		if err != nil {
			return "", err
		}
		for blockId, block := range blocks {
			if name, ok := block["name"].(string); ok {
				self.blockIds[name] = blockId
			}
		}
	}

	blockId, ok := self.blockIds[name]
	if !ok {
		return "", &notFoundError{
			err:     ErrBlockNotFound,
			message: fmt.Sprintf("Blok %s neexistuje!", name),
		}
	}
	return blockId, nil
}
