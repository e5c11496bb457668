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
    `sort`

    `github.com/cloudwego/lsra/internal/ir`
    `github.com/cloudwego/lsra/internal/opts`
    `gonum.org/v1/gonum/graph/coloring`
    `gonum.org/v1/gonum/graph/simple`
)

// GraphColoring allocates whole intervals by coloring their interference
// graph. Registers are precolored nodes, so a color is either a register or
// a stack slot shared by every member of the color class. Intervals are never
// split: it gives up whenever a spilled interval needs a register, leaving the
// function to linear scan.
type GraphColoring struct {
    la     *LivenessAnalyzer
    opts   opts.Options
    tracer *Tracer
    stats  *Stats
    slots  int
    imms   map[int]int
    ls     *LinearScan
}

func NewGraphColoring(la *LivenessAnalyzer, o opts.Options, tracer *Tracer, stats *Stats) *GraphColoring {
    return &GraphColoring {
        la     : la,
        opts   : o,
        tracer : tracer,
        stats  : stats,
        imms   : make(map[int]int),
        ls     : NewLinearScan(la, o, tracer, stats),
    }
}

func (self *GraphColoring) StackSlots() int {
    return self.slots
}

func (self *GraphColoring) Immediates() map[int]int {
    return self.imms
}

// Run colors both register classes. It returns false when the coloring
// cannot be turned into a valid allocation.
func (self *GraphColoring) Run() bool {
    if self.la.Target().RegisterPairs {
        self.tracer.Event("unsupported", "reason", "register pairs")
        return false
    }

    /* exception handlers need their own slots */
    for _, bb := range self.la.LinearBlocks() {
        if bb.IsCatch {
            self.tracer.Event("unsupported", "reason", "catch block", "block", bb)
            return false
        }
    }

    /* group the intervals by class */
    var nodes [2][]*LifeIntervals
    for _, iv := range append(self.la.Intervals(), self.la.TempIntervals()...) {
        if iv.loc.IsMemory() {
            if iv.NextRegUseAfter(0) != NoLifeNumber {
                return false
            }
        } else if !iv.preassigned || self.ls.allocatable(self.ls.classOf(iv)).Has(iv.loc.Index()) {
            nodes[self.ls.classOf(iv)] = append(nodes[self.ls.classOf(iv)], iv)
        }
    }

    /* color each class */
    for c := range nodes {
        if len(nodes[c]) != 0 && !self.color(regClass(c), nodes[c]) {
            return false
        }
    }
    return true
}

func (self *GraphColoring) color(c regClass, ivs []*LifeIntervals) bool {
    g := simple.NewUndirectedGraph()
    regs := self.ls.allocatable(c).Regs()
    base := int64(self.la.Arena().Len())
    partial := make(map[int64]int)
    colorOf := make(map[int]int, len(regs))

    /* one precolored node per register */
    for i, r := range regs {
        colorOf[r] = i
        partial[base + int64(i)] = i
        g.AddNode(simple.Node(base + int64(i)))
    }

    /* one node per interval, preassigned ones are precolored */
    for _, iv := range ivs {
        g.AddNode(simple.Node(iv.id))
        if iv.preassigned {
            partial[int64(iv.id)] = colorOf[iv.loc.Index()]
        }
    }

    /* interferences between intervals */
    for i, a := range ivs {
        for _, b := range ivs[:i] {
            if a.Intersects(b) != NoLifeNumber {
                g.SetEdge(simple.Edge { F: simple.Node(a.id), T: simple.Node(b.id) })
            }
        }
    }

    /* interferences with blocked registers */
    for _, phys := range self.la.PhysicalIntervals() {
        if i, ok := colorOf[phys.loc.Index()]; ok && phys.loc == self.ls.makeLocation(c, phys.loc.Index()) {
            for _, iv := range ivs {
                if iv.Intersects(phys) != NoLifeNumber {
                    g.SetEdge(simple.Edge { F: simple.Node(iv.id), T: simple.Node(base + int64(i)) })
                }
            }
        }
    }

    /* color the graph */
    k, colors, err := coloring.WelshPowell(g, partial)
    if err != nil || colors == nil {
        self.tracer.Event("failed", "class", c, "error", err)
        return false
    }

    /* map colors to registers or stack slots */
    self.tracer.Event("colored", "class", c, "colors", k, "registers", len(regs))
    sets := coloring.Sets(colors)
    keys := make([]int, 0, len(sets))

    /* assign in color order */
    for color := range sets {
        keys = append(keys, color)
    }

    /* walk through every color */
    sort.Ints(keys)
    for _, color := range keys {
        if !self.assign(c, color, regs, sets[color], base) {
            return false
        }
    }
    return true
}

func (self *GraphColoring) assign(c regClass, color int, regs []int, ids []int64, base int64) bool {
    slot := -1
    arena := self.la.Arena()

    /* scan the class members */
    for _, id := range ids {
        if id >= base {
            continue
        }

        /* colors up to the register count are registers */
        iv := arena.At(IntervalId(id))
        if color < len(regs) {
            iv.loc = self.ls.makeLocation(c, regs[color])
            if iv.temp {
                iv.inst.Temps[iv.tempIdx] = iv.loc
            }
            continue
        }

        /* a spilled interval must never need a register */
        if iv.NextRegUseAfter(0) != NoLifeNumber {
            self.tracer.Event("spill-needs-register", "interval", iv)
            return false
        }

        /* constants are rematerialized */
        self.stats.Spills++
        if self.opts.Remat && iv.inst.Op == ir.OpConstant {
            self.imms[iv.inst.Id] = len(self.imms)
            iv.loc = ir.Immediate(self.imms[iv.inst.Id])
            continue
        }

        /* the class shares one slot */
        if slot < 0 {
            slot = self.slots
            self.slots++
        }

        /* check the stack budget */
        if iv.loc = ir.StackSlot(slot); self.slots > self.opts.MaxStackSlots {
            return false
        }
    }
    return true
}
