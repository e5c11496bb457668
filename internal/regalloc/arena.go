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

package regalloc

import (
    `github.com/cloudwego/lsra/internal/ir`
)

const _ArenaPageSize = 256

// IntervalArena owns every LifeIntervals of one allocation. Intervals live in
// fixed-size pages, so pointers handed out stay valid while the arena grows.
type IntervalArena struct {
    pages [][]LifeIntervals
    size  int
}

func (self *IntervalArena) alloc() *LifeIntervals {
    pg, off := self.size / _ArenaPageSize, self.size % _ArenaPageSize

    /* need a new page */
    if pg == len(self.pages) {
        self.pages = append(self.pages, make([]LifeIntervals, _ArenaPageSize))
    }

    /* initialize the slot */
    p := &self.pages[pg][off]
    *p = LifeIntervals {
        id     : IntervalId(self.size),
        arena  : self,
        next   : NoInterval,
        parent : IntervalId(self.size),
    }

    /* bump the counter */
    self.size++
    return p
}

// NewInterval creates a head interval for the value defined by `inst`.
func (self *IntervalArena) NewInterval(inst *ir.Inst) *LifeIntervals {
    p := self.alloc()
    p.inst = inst
    p.typ = inst.Type
    return p
}

func (self *IntervalArena) newPhysical(loc ir.Location) *LifeIntervals {
    p := self.alloc()
    p.loc = loc
    p.physical = true
    return p
}

func (self *IntervalArena) newTemp(inst *ir.Inst, typ ir.DataType) *LifeIntervals {
    p := self.alloc()
    p.inst = inst
    p.typ = typ
    p.temp = true
    return p
}

func (self *IntervalArena) At(id IntervalId) *LifeIntervals {
    return &self.pages[int(id) / _ArenaPageSize][int(id) % _ArenaPageSize]
}

func (self *IntervalArena) Len() int {
    return self.size
}

// ForEach visits every interval, split siblings included, in creation order.
func (self *IntervalArena) ForEach(fn func(p *LifeIntervals)) {
    for i := 0; i < self.size; i++ {
        fn(self.At(IntervalId(i)))
    }
}
