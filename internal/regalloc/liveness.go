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
    `fmt`
    `sort`

    `github.com/cloudwego/lsra/internal/arch`
    `github.com/cloudwego/lsra/internal/ir`
    `github.com/oleiade/lane`
)

// LivenessAnalyzer linearizes a graph, numbers its instructions and builds the
// life intervals of every value, physical register block and scratch request.
type LivenessAnalyzer struct {
    graph     *ir.Graph
    target    *arch.Target
    loops     *ir.LoopInfo
    arena     *IntervalArena
    order     []*ir.BasicBlock
    ranges    []LiveRange
    starts    []LifeNumber
    lnOf      []LifeNumber
    insts     []*ir.Inst
    byLn      []*ir.Inst
    values    []*LifeIntervals
    liveIn    []liveSet
    physical  map[ir.Location]*LifeIntervals
    temps     []*LifeIntervals
    pending   map[int][]*ir.Inst
}

func NewLivenessAnalyzer(g *ir.Graph, target *arch.Target) *LivenessAnalyzer {
    return &LivenessAnalyzer {
        graph  : g,
        target : target,
    }
}

// Run performs the analysis. It may be called again after the graph changed,
// which discards every interval built before.
func (self *LivenessAnalyzer) Run() error {
    if err := self.graph.Validate(); err != nil {
        return err
    }

    /* reset the state */
    n := self.graph.MaxInstId()
    self.arena = new(IntervalArena)
    self.order = nil
    self.byLn = nil
    self.temps = nil
    self.lnOf = make([]LifeNumber, n)
    self.insts = make([]*ir.Inst, n)
    self.values = make([]*LifeIntervals, n)
    self.ranges = make([]LiveRange, len(self.graph.Blocks))
    self.liveIn = make([]liveSet, len(self.graph.Blocks))
    self.physical = make(map[ir.Location]*LifeIntervals)
    self.pending = make(map[int][]*ir.Inst)

    /* linear order first */
    if err := self.linearize(); err != nil {
        return err
    }

    /* number the instructions and build the intervals */
    self.number()
    self.build()
    return nil
}

func (self *LivenessAnalyzer) Graph() *ir.Graph              { return self.graph }
func (self *LivenessAnalyzer) Target() *arch.Target          { return self.target }
func (self *LivenessAnalyzer) Arena() *IntervalArena         { return self.arena }
func (self *LivenessAnalyzer) Loops() *ir.LoopInfo           { return self.loops }
func (self *LivenessAnalyzer) LinearBlocks() []*ir.BasicBlock { return self.order }
func (self *LivenessAnalyzer) TempIntervals() []*LifeIntervals { return self.temps }

// Intervals returns the head interval of every value in definition order.
func (self *LivenessAnalyzer) Intervals() []*LifeIntervals {
    var ret []*LifeIntervals
    for _, bb := range self.order {
        for _, p := range bb.Phis {
            ret = append(ret, self.values[p.Id])
        }
        for _, p := range bb.Ins {
            if p.HasDst() {
                ret = append(ret, self.values[p.Id])
            }
        }
    }
    return ret
}

// PhysicalIntervals returns the register blocks sorted by location.
func (self *LivenessAnalyzer) PhysicalIntervals() []*LifeIntervals {
    ret := make([]*LifeIntervals, 0, len(self.physical))
    for _, v := range self.physical {
        ret = append(ret, v)
    }
    sort.Slice(ret, func(i int, j int) bool {
        a, b := ret[i].loc, ret[j].loc
        return a.Kind < b.Kind || (a.Kind == b.Kind && a.Value < b.Value)
    })
    return ret
}

func (self *LivenessAnalyzer) GetInstLifeIntervals(p *ir.Inst) *LifeIntervals {
    if p.Id < len(self.values) {
        return self.values[p.Id]
    } else {
        return nil
    }
}

func (self *LivenessAnalyzer) GetInstLifeNumber(p *ir.Inst) LifeNumber {
    if p.Id < len(self.insts) && self.insts[p.Id] == p {
        return self.lnOf[p.Id]
    } else {
        return NoLifeNumber
    }
}

// GetInstByLifeNumber returns the ordinary instruction numbered `ln`.
func (self *LivenessAnalyzer) GetInstByLifeNumber(ln LifeNumber) *ir.Inst {
    if ln < 0 || ln % LifeNumberGap != 0 || int(ln / LifeNumberGap) >= len(self.byLn) {
        return nil
    } else {
        return self.byLn[ln / LifeNumberGap]
    }
}

// BlockRange returns [start, end) of `bb`. Phis are numbered `start`.
func (self *LivenessAnalyzer) BlockRange(bb *ir.BasicBlock) LiveRange {
    if bb.Id < len(self.ranges) {
        return self.ranges[bb.Id]
    } else {
        return LiveRange { NoLifeNumber, NoLifeNumber }
    }
}

// IsPlaced reports whether `bb` is part of the linear order. Unreachable
// blocks are not.
func (self *LivenessAnalyzer) IsPlaced(bb *ir.BasicBlock) bool {
    return bb.Id < len(self.ranges) && self.ranges[bb.Id].End > self.ranges[bb.Id].Begin
}

func (self *LivenessAnalyzer) IsBlockStart(ln LifeNumber) bool {
    i := sort.Search(len(self.starts), func(i int) bool { return self.starts[i] >= ln })
    return i < len(self.starts) && self.starts[i] == ln
}

// BlockAt returns the block whose range contains `ln`.
func (self *LivenessAnalyzer) BlockAt(ln LifeNumber) *ir.BasicBlock {
    i := sort.Search(len(self.starts), func(i int) bool { return self.starts[i] > ln })
    if i == 0 || ln >= self.ranges[self.order[i - 1].Id].End {
        return nil
    } else {
        return self.order[i - 1]
    }
}

// MaxLifeNumber is the end of the last block.
func (self *LivenessAnalyzer) MaxLifeNumber() LifeNumber {
    if len(self.order) == 0 {
        return 0
    } else {
        return self.ranges[self.order[len(self.order) - 1].Id].End
    }
}

func (self *LivenessAnalyzer) IsLiveIn(bb *ir.BasicBlock, v *ir.Inst) bool {
    return bb.Id < len(self.liveIn) && self.liveIn[bb.Id] != nil && self.liveIn[bb.Id].has(v.Id)
}

// LiveIns returns the values live at the entry of `bb`, phis excluded.
func (self *LivenessAnalyzer) LiveIns(bb *ir.BasicBlock) []*ir.Inst {
    var ret []*ir.Inst
    if bb.Id < len(self.liveIn) && self.liveIn[bb.Id] != nil {
        self.liveIn[bb.Id].forEach(func(id int) {
            ret = append(ret, self.insts[id])
        })
    }
    return ret
}

// PhysicalInterval returns the block interval of register `loc`, nil if the
// register is never blocked.
func (self *LivenessAnalyzer) PhysicalInterval(loc ir.Location) *LifeIntervals {
    return self.physical[loc]
}

/** Linear Order **/

func innerLoopOf(bb *ir.BasicBlock, lp *ir.Loop) *ir.Loop {
    for l := bb.Loop; l != nil; l = l.Parent {
        if l.Parent == lp {
            return l
        }
    }
    return nil
}

func inRegion(bb *ir.BasicBlock, lp *ir.Loop) bool {
    return lp == nil || lp.Contains(bb)
}

func (self *LivenessAnalyzer) linearize() error {
    nb := 0
    self.loops = ir.AnalyzeLoops(self.graph)
    self.region(nil, self.graph.Entry)

    /* every reachable block must be placed, which fails for irreducible loops */
    for _, bb := range self.graph.Blocks {
        if self.loops.Dom.Reachable(bb) {
            nb++
        }
    }

    /* check for placement */
    if nb != len(self.order) {
        return fmt.Errorf("regalloc: irreducible control flow in %s: placed %d of %d blocks", self.graph.Name, len(self.order), nb)
    } else {
        return nil
    }
}

// region places the blocks of loop `lp` (the whole graph when nil) starting
// from `head`. A block is placed after all of its forward predecessors, and
// inner loops are placed as a unit so that loop bodies stay contiguous.
func (self *LivenessAnalyzer) region(lp *ir.Loop, head *ir.BasicBlock) {
    dom := self.loops.Dom
    cnt := make(map[int]int)

    /* inner loops are represented by their headers */
    item := func(bb *ir.BasicBlock) *ir.BasicBlock {
        if l := innerLoopOf(bb, lp); l != nil {
            return l.Header
        } else {
            return bb
        }
    }

    /* forward edges between the items of the region */
    forward := func(bb *ir.BasicBlock, succ *ir.BasicBlock) bool {
        return inRegion(succ, lp) && (lp == nil || succ != lp.Header) && item(bb) != item(succ)
    }

    /* count the forward predecessors */
    for _, bb := range self.graph.Blocks {
        if dom.Reachable(bb) && inRegion(bb, lp) {
            for _, succ := range bb.Succ {
                if forward(bb, succ) {
                    cnt[item(succ).Id]++
                }
            }
        }
    }

    /* place the items */
    st := lane.NewStack()
    st.Push(head)

    /* depth first, the first successor is placed first */
    for !st.Empty() {
        var exits [][2]*ir.BasicBlock
        bb := st.Pop().(*ir.BasicBlock)

        /* a whole inner loop, or a single block */
        if l := innerLoopOf(bb, lp); l != nil {
            self.region(l, bb)
            for _, v := range self.graph.Blocks {
                if l.Contains(v) {
                    for _, succ := range v.Succ {
                        exits = append(exits, [2]*ir.BasicBlock { v, succ })
                    }
                }
            }
        } else {
            self.order = append(self.order, bb)
            for _, succ := range bb.Succ {
                exits = append(exits, [2]*ir.BasicBlock { bb, succ })
            }
        }

        /* release the successors */
        for i := len(exits) - 1; i >= 0; i-- {
            if e := exits[i]; forward(e[0], e[1]) {
                id := item(e[1]).Id
                if cnt[id]--; cnt[id] == 0 {
                    st.Push(item(e[1]))
                }
            }
        }
    }
}

/** Numbering **/

func (self *LivenessAnalyzer) number() {
    ln := LifeNumber(0)
    self.starts = make([]LifeNumber, len(self.order))

    /* phis share the block start, every instruction gets its own number */
    for i, bb := range self.order {
        start := ln
        self.starts[i] = ln
        self.byLn = append(self.byLn, nil)
        ln += LifeNumberGap

        /* phis */
        for _, p := range bb.Phis {
            self.insts[p.Id] = p
            self.lnOf[p.Id] = start
        }

        /* ordinary instructions */
        for _, p := range bb.Ins {
            self.insts[p.Id] = p
            self.lnOf[p.Id] = ln
            self.byLn = append(self.byLn, p)
            ln += LifeNumberGap
        }

        /* the block range */
        self.ranges[bb.Id] = LiveRange { start, ln }
    }
}

/** Interval Construction **/

func (self *LivenessAnalyzer) interval(v *ir.Inst) *LifeIntervals {
    if p := self.values[v.Id]; p != nil {
        return p
    } else {
        panic(fmt.Sprintf("regalloc: v%d is used but never defined", v.Id))
    }
}

func (self *LivenessAnalyzer) loopEnd(lp *ir.Loop) (end LifeNumber) {
    for _, bb := range self.order {
        if lp.Contains(bb) && self.ranges[bb.Id].End > end {
            end = self.ranges[bb.Id].End
        }
    }
    return
}

func (self *LivenessAnalyzer) build() {
    n := len(self.values)

    /* allocate the intervals in linear order */
    for _, bb := range self.order {
        for _, p := range bb.Phis {
            self.values[p.Id] = self.arena.NewInterval(p)
        }
        for _, p := range bb.Ins {
            if p.HasDst() {
                self.values[p.Id] = self.arena.NewInterval(p)
            }
        }
    }

    /* walk the blocks backwards */
    for i := len(self.order) - 1; i >= 0; i-- {
        bb := self.order[i]
        rg := self.ranges[bb.Id]
        live := newLiveSet(n)

        /* live-out is the union of the successors' live-in plus the phi operands */
        for _, succ := range bb.Succ {
            if self.liveIn[succ.Id] != nil {
                live.union(self.liveIn[succ.Id])
            }

            /* catch-phi operands are bound to the throwing instructions instead */
            if !bb.IsCatchEdge(succ) {
                for _, phi := range succ.Phis {
                    v := phi.Inputs[succ.PredIndex(bb)].Value
                    live.add(v.Id)
                    self.interval(v).AddUsePosition(rg.End - 1, false)
                }
            }
        }

        /* live-out values cover the whole block */
        live.forEach(func(id int) {
            self.values[id].AppendRange(rg.Begin, rg.End)
        })

        /* instructions in reverse order */
        for j := len(bb.Ins) - 1; j >= 0; j-- {
            p := bb.Ins[j]
            ln := self.lnOf[p.Id]

            /* the definition */
            if p.HasDst() {
                iv := self.values[p.Id]
                iv.StartFrom(ln)
                iv.AddUsePosition(ln, false)
                live.remove(p.Id)
            }

            /* call clobbers */
            if p.Op.IsCall() {
                self.blockCallClobbers(p, ln)
            }

            /* scratch registers live across the whole instruction */
            for k := range p.Temps {
                iv := self.arena.newTemp(p, ir.Int32)
                iv.tempIdx = k
                iv.AppendRange(ln - 1, ln + 1)
                iv.AddUsePosition(ln, true)
                self.temps = append(self.temps, iv)
            }

            /* the operands are live up to the instruction */
            for k, in := range p.Inputs {
                iv := self.interval(in.Value)
                iv.AppendRange(rg.Begin, ln)
                iv.AddUsePosition(ln, p.InputNeedsRegister(k))
                live.add(in.Value.Id)

                /* fixed operands are moved in right before the instruction */
                if in.Fixed.IsAnyRegister() {
                    self.blockFixedRegister(in.Fixed, in.Value.Type, ln - 1, ln)
                }
            }

            /* catch-phi operands must be alive when this instruction throws */
            for _, v := range self.pending[p.Id] {
                iv := self.interval(v)
                iv.AppendRange(rg.Begin, ln)
                iv.AddUsePosition(ln, false)
                live.add(v.Id)
            }
        }

        /* phis are defined at the block start */
        for _, p := range bb.Phis {
            iv := self.values[p.Id]
            iv.StartFrom(rg.Begin)
            iv.AddUsePosition(rg.Begin, false)
            live.remove(p.Id)

            /* record the catch-phi operands for the throwing instructions */
            if p.Op == ir.OpCatchPhi {
                for k, thr := range p.Throwers {
                    self.pending[thr.Id] = append(self.pending[thr.Id], p.Inputs[k].Value)
                }
            }
        }

        /* values live at a loop header are live in the whole loop */
        if lp := bb.Loop; lp != nil && lp.Header == bb {
            end := self.loopEnd(lp)
            live.forEach(func(id int) {
                self.values[id].AppendGroupRange(rg.Begin, end)
            })

            /* propagate to the loop body */
            for _, v := range self.order {
                if v != bb && lp.Contains(v) && self.liveIn[v.Id] != nil {
                    self.liveIn[v.Id].union(live)
                }
            }
        }

        /* save the live-in set */
        self.liveIn[bb.Id] = live
    }

    /* ABI fixed results are preassigned */
    for _, iv := range self.values {
        if iv != nil && iv.inst.Dst.IsValid() {
            iv.loc = iv.inst.Dst
            iv.preassigned = true
        }
    }
}

func (self *LivenessAnalyzer) blockRegister(loc ir.Location, begin LifeNumber, end LifeNumber) {
    iv, ok := self.physical[loc]
    if !ok {
        iv = self.arena.newPhysical(loc)
        self.physical[loc] = iv
    }
    iv.AppendRange(begin, end)
}

// blockFixedRegister reserves a fixed operand register, both halves of a pair.
func (self *LivenessAnalyzer) blockFixedRegister(loc ir.Location, typ ir.DataType, begin LifeNumber, end LifeNumber) {
    self.blockRegister(loc, begin, end)
    if loc.IsRegister() && isPair(self.target, typ) {
        self.blockRegister(loc.Offset(1), begin, end)
    }
}

func (self *LivenessAnalyzer) blockCallClobbers(p *ir.Inst, ln LifeNumber) {
    var dst ir.Location
    var pair bool

    /* the result register is written by the call itself */
    if p.HasDst() {
        dst = p.Dst
        pair = isPair(self.target, p.Type)
    }

    /* general purpose registers */
    for _, r := range (self.target.GpCallerSaved & self.target.GpAllocatable).Regs() {
        if loc := ir.Register(r); loc != dst && !(pair && loc == dst.Offset(1)) {
            self.blockRegister(loc, ln, ln + 1)
        }
    }

    /* floating point registers */
    for _, r := range (self.target.FpCallerSaved & self.target.FpAllocatable).Regs() {
        if loc := ir.FpRegister(r); loc != dst {
            self.blockRegister(loc, ln, ln + 1)
        }
    }
}

// isPair reports whether values of `typ` take a register pair on `target`.
func isPair(target *arch.Target, typ ir.DataType) bool {
    return target.RegisterPairs && typ.Is64()
}

// isFloatClass reports whether values of `typ` live in floating point registers.
func isFloatClass(target *arch.Target, typ ir.DataType) bool {
    return typ.IsFloat() && target.HasFp()
}
