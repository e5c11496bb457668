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

    `github.com/cloudwego/lsra/internal/arch`
    `github.com/cloudwego/lsra/internal/ir`
    `github.com/cloudwego/lsra/internal/opts`
)

// SpillFillsResolver turns bundles of parallel moves into sequences of moves
// with the same effect when executed one after another.
type SpillFillsResolver struct {
    target   *arch.Target
    resolver int
    slot     ir.Location
    usedSlot bool
    moves    int
}

// NewSpillFillsResolver creates a resolver. `slot` is the stack slot used to
// break cycles on targets without a scratch register.
func NewSpillFillsResolver(target *arch.Target, o opts.Options, slot ir.Location) *SpillFillsResolver {
    return &SpillFillsResolver {
        target   : target,
        resolver : o.ResolverRegister,
        slot     : slot,
    }
}

// UsesStackSlot reports whether any cycle was broken through the stack slot.
func (self *SpillFillsResolver) UsesStackSlot() bool {
    return self.usedSlot
}

// Moves is the number of moves emitted so far.
func (self *SpillFillsResolver) Moves() int {
    return self.moves
}

// atomsOf splits a location into the 32-bit units a value of `typ` occupies.
func atomsOf(target *arch.Target, loc ir.Location, typ ir.DataType) []ir.Location {
    if !isPair(target, typ) || loc.IsImmediate() {
        return []ir.Location { loc }
    } else {
        return []ir.Location { loc, loc.Offset(1) }
    }
}

// isScratch reports whether `loc` is private to the resolver.
func (self *SpillFillsResolver) isScratch(loc ir.Location) bool {
    switch {
        case loc.IsRegister()   : return self.target.GpScratch.Has(loc.Index()) || loc.Index() == self.resolver
        case loc.IsFpRegister() : return self.target.FpScratch.Has(loc.Index())
        case loc.IsStackSlot()  : return self.slot.IsValid() && loc == self.slot
        default                 : return false
    }
}

// HasConflict reports whether executing the moves in order differs from
// executing them in parallel: some move reads a location an earlier move
// already wrote. Resolver scratch locations are never live across a bundle.
func (self *SpillFillsResolver) HasConflict(moves []ir.SpillFill) bool {
    written := make(map[ir.Location]bool)
    for _, mv := range moves {
        for _, loc := range atomsOf(self.target, mv.Src, mv.Type) {
            if written[loc] && !self.isScratch(loc) {
                return true
            }
        }
        for _, loc := range atomsOf(self.target, mv.Dst, mv.Type) {
            written[loc] = true
        }
    }
    return false
}

// expand drops moves that do nothing and decomposes register pairs and
// double slots into their halves.
func (self *SpillFillsResolver) expand(moves []ir.SpillFill) (ret []ir.SpillFill) {
    for _, mv := range moves {
        if mv.Src == mv.Dst || mv.Dst.IsImmediate() {
            continue
        }

        /* immediates are materialized as a whole */
        if mv.Src.IsImmediate() || !isPair(self.target, mv.Type) {
            ret = append(ret, mv)
            continue
        }

        /* both halves */
        for i := 0; i < 2; i++ {
            ret = append(ret, ir.SpillFill {
                Src  : mv.Src.Offset(i),
                Dst  : mv.Dst.Offset(i),
                Type : ir.Int32,
            })
        }
    }
    return
}

// Resolve returns the sequential form of a parallel bundle. Destinations in
// the outgoing argument area come first, moves from immediates come last,
// everything else is ordered so that no location is overwritten before it
// has been read, breaking cycles through a scratch location.
func (self *SpillFillsResolver) Resolve(moves []ir.SpillFill) []ir.SpillFill {
    var ret []ir.SpillFill
    var imms []ir.SpillFill
    var table []ir.SpillFill

    /* split into the three groups */
    for _, mv := range self.expand(moves) {
        switch {
            case mv.Dst.IsStackArgument() : ret = append(ret, mv)
            case mv.Src.IsImmediate()     : imms = append(imms, mv)
            default                       : table = append(table, mv)
        }
    }

    /* index the moves by destination, and count the readers of each location */
    fanin := make(map[ir.Location]int)
    index := make(map[ir.Location]int, len(table))

    /* every location is written at most once */
    for i, mv := range table {
        if _, ok := index[mv.Dst]; ok {
            panic(fmt.Sprintf("regalloc: %s is written twice in one bundle", mv.Dst))
        }
        index[mv.Dst] = i
        fanin[mv.Src]++
    }

    /* locations nobody reads can be written right away */
    var work []ir.Location
    for _, mv := range table {
        if fanin[mv.Dst] == 0 {
            work = append(work, mv.Dst)
        }
    }

    /* walk the chains backwards from their ends */
    done := make([]bool, len(table))
    for len(work) != 0 {
        dst := work[len(work) - 1]
        work = work[:len(work) - 1]

        /* emit the move */
        i := index[dst]
        mv := table[i]
        done[i] = true
        ret = append(ret, mv)

        /* the source is free once its last reader is done */
        if fanin[mv.Src]--; fanin[mv.Src] == 0 {
            if j, ok := index[mv.Src]; ok && !done[j] {
                work = append(work, mv.Src)
            }
        }
    }

    /* whatever is left forms cycles */
    for i, mv := range table {
        if !done[i] {
            ret = self.breakCycle(ret, table, index, done, mv)
        }
    }

    /* immediates are loaded last */
    ret = append(ret, imms...)
    self.moves += len(ret)
    return ret
}

func (self *SpillFillsResolver) breakCycle(ret []ir.SpillFill, table []ir.SpillFill, index map[ir.Location]int, done []bool, first ir.SpillFill) []ir.SpillFill {
    x0 := first.Dst
    tmp := self.scratchFor(first.Type)

    /* save the value of the first location */
    ret = append(ret, ir.SpillFill {
        Src  : x0,
        Dst  : tmp,
        Type : self.readType(table, index, x0, first.Type),
    })

    /* rotate the cycle */
    for cur := x0;; {
        i := index[cur]
        mv := table[i]
        done[i] = true

        /* closed the cycle */
        if mv.Src == x0 {
            return append(ret, ir.SpillFill {
                Src  : tmp,
                Dst  : cur,
                Type : mv.Type,
            })
        }

        /* shift the value along */
        ret = append(ret, mv)
        cur = mv.Src

        /* every location of a cycle is written exactly once */
        if j, ok := index[cur]; !ok || done[j] {
            panic("regalloc: broken move cycle at " + cur.String())
        }
    }
}

// readType is the type of the value moved out of `loc` within the cycle.
func (self *SpillFillsResolver) readType(table []ir.SpillFill, index map[ir.Location]int, loc ir.Location, def ir.DataType) ir.DataType {
    for _, mv := range table {
        if mv.Src == loc {
            return mv.Type
        }
    }
    return def
}

// scratchFor picks the location that holds a value during a cycle break.
func (self *SpillFillsResolver) scratchFor(typ ir.DataType) ir.Location {
    if isFloatClass(self.target, typ) {
        if r := self.target.FpScratchReg(); r != arch.NoReg {
            return ir.FpRegister(r)
        }
    } else if self.resolver >= 0 {
        return ir.Register(self.resolver)
    } else if r := self.target.GpScratchReg(); r != arch.NoReg {
        return ir.Register(r)
    }

    /* no scratch register on this target */
    if !self.slot.IsValid() {
        panic("regalloc: no scratch location to break a move cycle")
    }

    /* fall back to the stack */
    self.usedSlot = true
    return self.slot
}

// ResolveGraph resolves every bundle of the graph in place and removes the
// ones left empty.
func (self *SpillFillsResolver) ResolveGraph(g *ir.Graph) {
    for _, bb := range g.Blocks {
        ins := bb.Ins[:0]
        for _, p := range bb.Ins {
            if p.IsSpillFill() && !p.SpillFill.Resolved {
                p.SpillFill.Moves = self.Resolve(p.SpillFill.Moves)
                p.SpillFill.Resolved = true
            }
            if !p.IsSpillFill() || len(p.SpillFill.Moves) != 0 {
                ins = append(ins, p)
            }
        }
        bb.Ins = ins
    }
}
