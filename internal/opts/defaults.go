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
	"strings"

	"github.com/xyproto/env/v2"
)

const (
	_DefaultStrategy      = LinearScan // splits and spills under register pressure
	_DefaultMaxStackSlots = 4096       // spill slots per function
)

var (
	DefaultStrategy  = parseStrategy("LSRA_STRATEGY", _DefaultStrategy)
	Fallback         = parseBool("LSRA_FALLBACK", true)
	Verify           = parseBool("LSRA_VERIFY", false)
	Remat            = parseBool("LSRA_REMAT", true)
	SplitAtLoopEdges = parseBool("LSRA_SPLIT_AT_LOOP_EDGES", true)
	Trace            = parseBool("LSRA_TRACE", false)
	MaxStackSlots    = parseOrDefault("LSRA_MAX_STACK_SLOTS", _DefaultMaxStackSlots, 1)
)

func parseOrDefault(key string, def int, min int) int {
	if !env.Has(key) {
		return def
	} else if ret := env.Int(key, -1); ret < 0 {
		panic("lsra: invalid value for " + key)
	} else if ret < min {
		panic("lsra: value too small for " + key)
	} else {
		return ret
	}
}

func parseBool(key string, def bool) bool {
	if !env.Has(key) {
		return def
	} else {
		return env.Bool(key)
	}
}

func parseStrategy(key string, def Strategy) Strategy {
	if ret, err := ParseStrategy(env.Str(key, string(def))); err != nil {
		panic("lsra: invalid value for " + key)
	} else {
		return ret
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch v := Strategy(strings.ToLower(strings.TrimSpace(s))); v {
	case LinearScan, GraphColoring:
		return v, nil
	default:
		return "", &StrategyError{Name: s}
	}
}

type StrategyError struct {
	Name string
}

func (self *StrategyError) Error() string {
	return "lsra: unknown allocation strategy: " + self.Name
}
