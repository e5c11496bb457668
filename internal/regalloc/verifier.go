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
    `strings`

    `github.com/cloudwego/lsra/internal/arch`
    `github.com/cloudwego/lsra/internal/ir`
    `github.com/oleiade/lane`
)

// locationState is what every location holds at one program point. A nil
// state belongs to a block not reached yet, where everything is UNKNOWN.
// Otherwise a location present in the map is KNOWN to hold that value, and
// an absent one is a CONFLICT of whatever was written there before.
type locationState map[ir.Location]int

// zeroValue is what a location holds after a copy of the zero register. It
// stands for every zero constant at once.
const zeroValue = -2

func isZeroConst(v *ir.Inst) bool {
    return v.Op == ir.OpConstant && v.Imm == 0
}

func (self locationState) clone() locationState {
    ret := make(locationState, len(self))
    for k, v := range self {
        ret[k] = v
    }
    return ret
}

// meet merges the states of two incoming paths, reporting whether `self`
// changed. Only the values both paths agree on survive.
func (self locationState) meet(other locationState) bool {
    changed := false
    for k, v := range self {
        if w, ok := other[k]; !ok || w != v {
            delete(self, k)
            changed = true
        }
    }
    return changed
}

func (self locationState) String() string {
    var keys []string
    for k, v := range self {
        if v == zeroValue {
            keys = append(keys, fmt.Sprintf("%s=zero", k))
        } else {
            keys = append(keys, fmt.Sprintf("%s=v%d", k, v))
        }
    }
    sort.Strings(keys)
    return "{" + strings.Join(keys, ", ") + "}"
}

// Verifier proves that every instruction reads each operand from a location
// that holds that very value on every path reaching it.
type Verifier struct {
    la     *LivenessAnalyzer
    graph  *ir.Graph
    target *arch.Target
    imms   map[int]int
    in     map[int]locationState
    out    map[int]locationState
    throws map[int]locationState
}

// NewVerifier creates a verifier of an allocated graph. `imms` maps constant
// instructions to the constant table slots they were rematerialized to.
func NewVerifier(la *LivenessAnalyzer, imms map[int]int) *Verifier {
    return &Verifier {
        la     : la,
        graph  : la.Graph(),
        target : la.Target(),
        imms   : imms,
    }
}

func (self *Verifier) fail(bb *ir.BasicBlock, p *ir.Inst, format string, args ...interface{}) error {
    return fmt.Errorf("%w: %s: %s: %s: %s", ErrVerification, self.graph.Name, bb, p, fmt.Sprintf(format, args...))
}

// Run computes the location states to a fixed point and then checks every
// instruction against them.
func (self *Verifier) Run() error {
    self.in = make(map[int]locationState)
    self.out = make(map[int]locationState)
    self.throws = make(map[int]locationState)

    /* the constant table is valid from the start */
    entry := make(locationState)
    for id, slot := range self.imms {
        entry[ir.Immediate(slot)] = id
    }

    /* forward dataflow */
    q := lane.NewQueue()
    queued := map[int]bool { self.graph.Entry.Id: true }
    self.in[self.graph.Entry.Id] = entry
    q.Enqueue(self.graph.Entry)

    /* propagate until nothing changes */
    for !q.Empty() {
        bb := q.Dequeue().(*ir.BasicBlock)
        queued[bb.Id] = false
        st := self.in[bb.Id].clone()

        /* run the block */
        if err := self.transfer(bb, st, false); err != nil {
            return err
        }

        /* update the successors */
        self.out[bb.Id] = st
        for _, succ := range bb.Succ {
            if es := self.edgeState(bb, succ); es != nil && self.update(succ, es) && !queued[succ.Id] {
                queued[succ.Id] = true
                q.Enqueue(succ)
            }
        }
    }

    /* check every reached block with the final states */
    for _, bb := range self.graph.Blocks {
        if st, ok := self.in[bb.Id]; ok {
            if err := self.transfer(bb, st.clone(), true); err != nil {
                return err
            }
        }
    }
    return nil
}

func (self *Verifier) update(bb *ir.BasicBlock, st locationState) bool {
    if old, ok := self.in[bb.Id]; !ok {
        self.in[bb.Id] = st
        return true
    } else {
        return old.meet(st)
    }
}

// edgeState is the state entering `succ` from `bb`, nil if the edge is never
// taken.
func (self *Verifier) edgeState(bb *ir.BasicBlock, succ *ir.BasicBlock) locationState {
    var ret locationState
    if !bb.IsCatchEdge(succ) {
        return self.phiState(self.out[bb.Id], succ, func(phi *ir.Inst) *ir.Inst {
            return phi.Inputs[succ.PredIndex(bb)].Value
        })
    }

    /* exceptions leave from the state right before each throwing instruction */
    for _, p := range bb.Ins {
        if st, ok := self.throws[p.Id]; ok {
            thr := p
            es := self.phiState(st, succ, func(phi *ir.Inst) *ir.Inst {
                for k, t := range phi.Throwers {
                    if t == thr {
                        return phi.Inputs[k].Value
                    }
                }
                return nil
            })

            /* merge the throwing points */
            if ret == nil {
                ret = es
            } else {
                ret.meet(es)
            }
        }
    }
    return ret
}

// phiState applies the phis of `succ`: a phi location holding the operand of
// the incoming path now holds the phi.
func (self *Verifier) phiState(st locationState, succ *ir.BasicBlock, input func(*ir.Inst) *ir.Inst) locationState {
    ret := st.clone()
    defined := make(map[*ir.Inst]bool, len(succ.Phis))

    /* read all the operands first */
    for _, phi := range succ.Phis {
        if v := input(phi); v != nil {
            defined[phi] = self.holds(st, phi.Dst, phi.Type, v)
        }
    }

    /* then define all the phis */
    for _, phi := range succ.Phis {
        for _, loc := range atomsOf(self.target, phi.Dst, phi.Type) {
            if defined[phi] {
                ret[loc] = phi.Id
            } else {
                delete(ret, loc)
            }
        }
    }
    return ret
}

func (self *Verifier) holds(st locationState, loc ir.Location, typ ir.DataType, v *ir.Inst) bool {
    if !loc.IsValid() {
        return false
    }

    /* the zero register always reads as zero */
    if self.isZeroReg(loc) && isZeroConst(v) {
        return true
    }

    /* every part of the location */
    for _, atom := range atomsOf(self.target, loc, typ) {
        if id, ok := st[atom]; !ok || (id != v.Id && (id != zeroValue || !isZeroConst(v))) {
            return false
        }
    }
    return true
}

func (self *Verifier) describe(st locationState, loc ir.Location, typ ir.DataType) string {
    var ret []string
    for _, atom := range atomsOf(self.target, loc, typ) {
        if id, ok := st[atom]; ok && id == zeroValue {
            ret = append(ret, "zero")
        } else if ok {
            ret = append(ret, fmt.Sprintf("v%d", id))
        } else {
            ret = append(ret, "conflict")
        }
    }
    return strings.Join(ret, ":")
}

func (self *Verifier) move(st locationState, moves []ir.SpillFill, parallel bool) {
    type write struct {
        loc ir.Location
        id  int
        ok  bool
    }

    /* read the sources */
    var writes []write
    for _, mv := range moves {
        if mv.Dst.IsImmediate() {
            continue
        }

        /* match the parts of both locations */
        dst := atomsOf(self.target, mv.Dst, mv.Type)
        src := atomsOf(self.target, mv.Src, mv.Type)
        for i, loc := range dst {
            id, ok := st[src[i % len(src)]]
            if self.isZeroReg(src[i % len(src)]) {
                id, ok = zeroValue, true
            }
            if w := (write { loc, id, ok }); parallel {
                writes = append(writes, w)
            } else {
                self.store(st, w.loc, w.id, w.ok)
            }
        }
    }

    /* parallel writes */
    for _, w := range writes {
        self.store(st, w.loc, w.id, w.ok)
    }
}

func (self *Verifier) isZeroReg(loc ir.Location) bool {
    return loc.IsRegister() && self.target.ZeroReg != arch.NoReg && loc.Index() == self.target.ZeroReg
}

func (self *Verifier) store(st locationState, loc ir.Location, id int, ok bool) {
    if ok {
        st[loc] = id
    } else {
        delete(st, loc)
    }
}

func (self *Verifier) clobber(st locationState) {
    for loc := range st {
        switch {
            case loc.IsRegister()   : if self.target.GpCallerSaved.Has(loc.Index()) { delete(st, loc) }
            case loc.IsFpRegister() : if self.target.FpCallerSaved.Has(loc.Index()) { delete(st, loc) }
        }
    }
}

func (self *Verifier) transfer(bb *ir.BasicBlock, st locationState, check bool) error {
    for _, p := range bb.Ins {
        if p.IsSpillFill() {
            self.move(st, p.SpillFill.Moves, !p.SpillFill.Resolved)
            continue
        }

        /* the state an exception leaves with */
        if bb.IsTry() && p.Op.CanThrow() {
            self.throws[p.Id] = st.clone()
        }

        /* check the operands */
        if check {
            if err := self.checkInst(bb, p, st); err != nil {
                return err
            }
        }

        /* scratch registers are garbage afterwards */
        for _, loc := range p.Temps {
            delete(st, loc)
        }

        /* calls destroy the caller-saved registers */
        if p.Op.IsCall() {
            self.clobber(st)
        }

        /* define the result */
        if p.HasDst() {
            for _, loc := range atomsOf(self.target, p.Dst, p.Type) {
                if self.isZeroReg(loc) {
                    st[loc] = zeroValue
                } else {
                    st[loc] = p.Id
                }
            }
        }
    }
    return nil
}

func (self *Verifier) checkInst(bb *ir.BasicBlock, p *ir.Inst, st locationState) error {
    ln := self.la.GetInstLifeNumber(p)

    /* jumps of the blocks created on critical edges */
    if ln == NoLifeNumber {
        if len(p.Inputs) == 0 && !p.HasDst() {
            return nil
        } else {
            return self.fail(bb, p, "instruction was not allocated")
        }
    }

    /* every operand */
    for i, in := range p.Inputs {
        want := in.Fixed
        if !want.IsValid() {
            if sib := self.la.GetInstLifeIntervals(in.Value).FindSiblingAt(ln); sib != nil {
                want = sib.loc
            }
        }

        /* read from the expected location */
        if in.Loc != want {
            return self.fail(bb, p, "operand %d (v%d) is read from %s instead of %s", i, in.Value.Id, in.Loc, want)
        }

        /* holding the expected value */
        if !self.holds(st, in.Loc, in.Value.Type, in.Value) {
            return self.fail(bb, p, "operand %d expects v%d in %s, found %s", i, in.Value.Id, in.Loc, self.describe(st, in.Loc, in.Value.Type))
        }
    }

    /* scratch registers are distinct registers */
    for i, loc := range p.Temps {
        if !loc.IsRegister() {
            return self.fail(bb, p, "scratch %d is not a register: %s", i, loc)
        }
        for j := 0; j < i; j++ {
            if p.Temps[j] == loc {
                return self.fail(bb, p, "scratch %d and %d share %s", j, i, loc)
            }
        }
        for _, in := range p.Inputs {
            for _, atom := range atomsOf(self.target, in.Loc, in.Value.Type) {
                if atom == loc {
                    return self.fail(bb, p, "scratch %d overlaps operand v%d in %s", i, in.Value.Id, loc)
                }
            }
        }
    }

    /* the result goes where it was allocated */
    if p.HasDst() {
        if want := self.la.GetInstLifeIntervals(p).loc; p.Dst != want || !p.Dst.IsValid() {
            return self.fail(bb, p, "result is written to %s instead of %s", p.Dst, want)
        }
    }
    return nil
}
