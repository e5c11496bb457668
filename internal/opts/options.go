/*
 * Copyright 2022 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package opts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Strategy string

const (
	LinearScan    Strategy = "linear-scan"
	GraphColoring Strategy = "graph-coloring"
)

func (self *Strategy) UnmarshalYAML(node *yaml.Node) error {
	if v, err := ParseStrategy(node.Value); err != nil {
		return err
	} else {
		*self = v
		return nil
	}
}

// Options controls one allocation. ResolverRegister names a general purpose
// register the move resolver may use to break cycles, or -1 to use the
// target's scratch register.
type Options struct {
	Strategy         Strategy `yaml:"strategy"`
	Fallback         bool     `yaml:"fallback"`
	Verify           bool     `yaml:"verify"`
	Remat            bool     `yaml:"remat"`
	SplitAtLoopEdges bool     `yaml:"split_at_loop_edges"`
	Trace            bool     `yaml:"trace"`
	MaxStackSlots    int      `yaml:"max_stack_slots"`
	ResolverRegister int      `yaml:"resolver_register"`
}

func (self *Options) Validate() error {
	if _, err := ParseStrategy(string(self.Strategy)); err != nil {
		return err
	} else if self.MaxStackSlots <= 0 {
		return fmt.Errorf("lsra: max_stack_slots must be positive, got %d", self.MaxStackSlots)
	} else if self.ResolverRegister < -1 {
		return fmt.Errorf("lsra: invalid resolver register %d", self.ResolverRegister)
	} else {
		return nil
	}
}

func GetDefaultOptions() Options {
	return Options{
		Strategy:         DefaultStrategy,
		Fallback:         Fallback,
		Verify:           Verify,
		Remat:            Remat,
		SplitAtLoopEdges: SplitAtLoopEdges,
		Trace:            Trace,
		MaxStackSlots:    MaxStackSlots,
		ResolverRegister: -1,
	}
}

// LoadFile reads a YAML file on top of the defaults. Keys missing from the
// file keep their default values.
func LoadFile(path string) (Options, error) {
	ret := GetDefaultOptions()
	buf, err := os.ReadFile(path)

	/* read the file */
	if err != nil {
		return ret, err
	}

	/* decode the overrides */
	if err = yaml.Unmarshal(buf, &ret); err != nil {
		return ret, fmt.Errorf("lsra: invalid option file %s: %w", path, err)
	}

	/* validate the result */
	if err = ret.Validate(); err != nil {
		return ret, err
	}
	return ret, nil
}
