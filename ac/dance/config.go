package dance

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Steps file:
//
//	steps:
//	  - jc: Klb S1 > Klb PriblL
//	  - delay: 5s
//	  - jc: {name: Klb L1 > Klb S2, type: PC}
//	  - wait_for_block: {name: Klb K1, state: occupied}

var ErrBadStep = errors.New("Bad step.")

type StepsConfig struct {
	Steps []StepConfig `yaml:"steps"`
}

// exactly one of the fields is set
type StepConfig struct {
	JC           *JCConfig           `yaml:"jc,omitempty"`
	Delay        string              `yaml:"delay,omitempty"`
	WaitForBlock *WaitForBlockConfig `yaml:"wait_for_block,omitempty"`
}

type JCConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type,omitempty"`
}

// a plain string is the jc name
func (self *JCConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		self.Name = value.Value
		return nil
	}
	type jcConfig JCConfig
	return value.Decode((*jcConfig)(self))
}

type WaitForBlockConfig struct {
	Name  string `yaml:"name"`
	State string `yaml:"state"`
}

func LoadSteps(path string) ([]Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSteps(data)
}

func ParseSteps(data []byte) ([]Step, error) {
	var config StepsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	steps := []Step{}
	for i, stepConfig := range config.Steps {
		step, err := stepConfig.Step()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (self *StepConfig) Step() (Step, error) {
	var steps []Step
	if self.JC != nil {
		if self.JC.Name == "" {
			return nil, fmt.Errorf("%w Missing jc name.", ErrBadStep)
		}
		step := NewStepJC(self.JC.Name)
		if self.JC.Type != "" {
			step.Type = self.JC.Type
		}
		steps = append(steps, step)
	}
	if self.Delay != "" {
		delay, err := time.ParseDuration(self.Delay)
		if err != nil {
			return nil, fmt.Errorf("%w %s", ErrBadStep, err)
		}
		steps = append(steps, NewStepDelay(delay))
	}
	if self.WaitForBlock != nil {
		if self.WaitForBlock.Name == "" || self.WaitForBlock.State == "" {
			return nil, fmt.Errorf("%w Missing block name or state.", ErrBadStep)
		}
		steps = append(steps, NewStepWaitForBlock(self.WaitForBlock.Name, BlockStateIs(self.WaitForBlock.State)))
	}

	if len(steps) != 1 {
		return nil, fmt.Errorf("%w Expected one of jc, delay, wait_for_block.", ErrBadStep)
	}
	return steps[0], nil
}
