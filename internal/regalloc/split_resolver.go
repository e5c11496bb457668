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

    `github.com/cloudwego/lsra/internal/ir`
)

// SplitResolver inserts the moves that keep every use looking at the current
// location of its value: between split siblings inside a block, across
// control flow edges (phi operands included) and into the handler slots
// before an instruction that may throw.
type SplitResolver struct {
    la     *LivenessAnalyzer
    graph  *ir.Graph
    tracer *Tracer
    edges  map[int][]*ir.BasicBlock
}

func NewSplitResolver(la *LivenessAnalyzer, tracer *Tracer) *SplitResolver {
    return &SplitResolver {
        la     : la,
        graph  : la.Graph(),
        tracer : tracer,
        edges  : make(map[int][]*ir.BasicBlock),
    }
}

// Run resolves split siblings and control flow edges. Catch handlers are not
// entered through ordinary edges, see SyncCatches.
func (self *SplitResolver) Run() {
    self.ConnectSiblings()
    self.ResolveEdges()
}

// Layout returns the linear block order with the blocks created on critical
// edges placed right after their predecessor.
func (self *SplitResolver) Layout() []*ir.BasicBlock {
    var ret []*ir.BasicBlock
    for _, bb := range self.la.LinearBlocks() {
        ret = append(ret, bb)
        ret = append(ret, self.edges[bb.Id]...)
    }
    return ret
}

// instAt returns the first instruction numbered `ln` or later in the block
// containing `ln`.
func (self *SplitResolver) instAt(ln LifeNumber) *ir.Inst {
    bb := self.la.BlockAt(ln)
    if bb == nil {
        panic(fmt.Sprintf("regalloc: position %d is outside of every block", ln))
    }

    /* skip the moves inserted so far */
    for _, p := range bb.Ins {
        if n := self.la.GetInstLifeNumber(p); n != NoLifeNumber && n >= ln {
            return p
        }
    }

    /* a split must be followed by an instruction of the same block */
    panic(fmt.Sprintf("regalloc: no instruction after position %d in %s", ln, bb))
}

// bundleBefore returns a move bundle right before `p`, reusing one that only
// connects siblings.
func (self *SplitResolver) bundleBefore(p *ir.Inst, kind ir.SpillFillType) *ir.SpillFillData {
    bb := p.Block
    idx := bb.IndexOf(p)

    /* check the previous instruction */
    if idx > 0 {
        if sf := bb.Ins[idx - 1]; sf.IsSpillFill() && !sf.SpillFill.Resolved {
            if k := sf.SpillFill.Kind; k == kind && (k == ir.ConnectSplitSiblings || k == ir.SplitMove) {
                return sf.SpillFill
            }
        }
    }

    /* create a new bundle */
    sf := self.graph.NewSpillFill(kind)
    self.graph.InsertBefore(p, sf)
    return sf.SpillFill
}

// ConnectSiblings emits a move for every split that falls inside a block.
func (self *SplitResolver) ConnectSiblings() {
    for _, head := range self.la.Intervals() {
        for prev, sib := head, head.Sibling(); sib != nil; prev, sib = sib, sib.Sibling() {
            ln := sib.Begin()

            /* block boundaries are resolved on the edges */
            if self.la.IsBlockStart(ln) {
                continue
            }

            /* in-block splits always cut a range */
            if prev.End() != ln {
                panic(fmt.Sprintf("regalloc: split sibling %s does not continue %s", sib, prev))
            }

            /* nothing to move */
            if prev.loc == sib.loc || sib.loc.IsImmediate() {
                continue
            }

            /* move right before the first instruction of the sibling */
            p := self.instAt(ln)
            self.bundleBefore(p, ir.ConnectSplitSiblings).Add(prev.loc, sib.loc, head.typ)
            self.tracer.Event("split-resolver.connect", "value", head.inst.Id, "from", prev.loc, "to", sib.loc, "before", p.Id)
        }
    }
}

// ResolveEdges emits, for every normal edge, the moves of values whose
// location differs across the edge together with the phi operand moves.
func (self *SplitResolver) ResolveEdges() {
    for _, bb := range self.la.LinearBlocks() {
        start := self.la.BlockRange(bb).Begin
        preds := append([]*ir.BasicBlock(nil), bb.Pred...)

        /* resolve each incoming edge */
        for k, pred := range preds {
            if !self.la.IsPlaced(pred) || pred.IsCatchEdge(bb) {
                continue
            }

            /* collect the moves */
            end := self.la.BlockRange(pred).End
            sf := &ir.SpillFillData { Kind: ir.SplitMove }

            /* values live across the edge */
            for _, v := range self.la.LiveIns(bb) {
                iv := self.la.GetInstLifeIntervals(v)
                from, to := iv.FindSiblingAt(end - 1), iv.FindSiblingAt(start)

                /* the value must be alive on both sides */
                if from == nil || to == nil {
                    panic(fmt.Sprintf("regalloc: v%d is live into %s but not at the end of %s", v.Id, bb, pred))
                }

                /* location changed */
                if from.loc != to.loc && !to.loc.IsImmediate() {
                    sf.Add(from.loc, to.loc, iv.typ)
                }
            }

            /* phi operands */
            for _, phi := range bb.Phis {
                in := &phi.Inputs[k]
                to := self.la.GetInstLifeIntervals(phi)
                from := self.la.GetInstLifeIntervals(in.Value).FindSiblingAt(end - 1)

                /* the operand must be alive at the end of the predecessor */
                if from == nil {
                    panic(fmt.Sprintf("regalloc: phi operand v%d is dead at the end of %s", in.Value.Id, pred))
                }

                /* record the operand location */
                in.Loc = from.loc
                if from.loc != to.loc {
                    sf.Add(from.loc, to.loc, phi.Type)
                }
            }

            /* place the moves on the edge */
            if len(sf.Moves) != 0 {
                self.placeOnEdge(pred, bb, sf)
            }
        }
    }
}

func (self *SplitResolver) placeOnEdge(pred *ir.BasicBlock, succ *ir.BasicBlock, sf *ir.SpillFillData) {
    p := self.graph.NewSpillFill(sf.Kind)
    p.SpillFill = sf

    /* the only way out of the predecessor */
    if tr := pred.Terminator(); tr.Op == ir.OpJump && len(pred.NormalSuccs()) == 1 {
        self.graph.InsertBefore(tr, p)
        self.tracer.Event("split-resolver.edge", "from", pred, "to", succ, "at", "end", "moves", sf)
        return
    }

    /* the only way into the successor */
    if len(succ.Pred) == 1 && len(succ.Phis) == 0 {
        self.graph.InsertAtStart(succ, p)
        self.tracer.Event("split-resolver.edge", "from", pred, "to", succ, "at", "start", "moves", sf)
        return
    }

    /* critical edge, give it a block of its own */
    bb := self.graph.SplitEdge(pred, succ)
    self.graph.InsertBefore(bb.Terminator(), p)
    self.edges[pred.Id] = append(self.edges[pred.Id], bb)
    self.tracer.Event("split-resolver.edge", "from", pred, "to", succ, "at", bb, "moves", sf)
}

// SyncCatches copies, right before every instruction that may throw inside a
// try block, the values live into its handlers into their handler slots and
// the catch-phi operands of that instruction into the catch-phi slots.
func (self *SplitResolver) SyncCatches() {
    for _, bb := range self.la.LinearBlocks() {
        if !bb.IsTry() {
            continue
        }

        /* scan the original instructions */
        for _, p := range append([]*ir.Inst(nil), bb.Ins...) {
            if p.IsSpillFill() || !p.Op.CanThrow() {
                continue
            }

            /* build the moves for every handler */
            ln := self.la.GetInstLifeNumber(p)
            sf := &ir.SpillFillData { Kind: ir.CatchSync }
            dst := make(map[ir.Location]bool)

            /* add a move once per destination */
            add := func(src ir.Location, loc ir.Location, typ ir.DataType) {
                if src != loc && !dst[loc] {
                    dst[loc] = true
                    sf.Add(src, loc, typ)
                }
            }

            /* values and catch-phis of each handler */
            for _, c := range bb.Catches {
                start := self.la.BlockRange(c).Begin
                for _, v := range self.la.LiveIns(c) {
                    iv := self.la.GetInstLifeIntervals(v)
                    if src, home := iv.FindSiblingAt(ln), iv.FindSiblingAt(start); src != nil && home != nil {
                        add(src.loc, home.loc, iv.typ)
                    }
                }

                /* operands bound to this instruction */
                for _, phi := range c.Phis {
                    for k, thr := range phi.Throwers {
                        if thr == p {
                            in := &phi.Inputs[k]
                            src := self.la.GetInstLifeIntervals(in.Value).FindSiblingAt(ln)

                            /* the operand must be alive at the instruction */
                            if src == nil {
                                panic(fmt.Sprintf("regalloc: catch-phi operand v%d is dead at %s", in.Value.Id, p))
                            }

                            /* record the operand location */
                            in.Loc = src.loc
                            add(src.loc, self.la.GetInstLifeIntervals(phi).loc, phi.Type)
                        }
                    }
                }
            }

            /* insert before the instruction */
            if len(sf.Moves) != 0 {
                sp := self.graph.NewSpillFill(ir.CatchSync)
                sp.SpillFill = sf
                self.graph.InsertBefore(p, sp)
                self.tracer.Event("split-resolver.catch", "inst", p.Id, "moves", sf)
            }
        }
    }
}
