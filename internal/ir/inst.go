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

package ir

import (
    `fmt`
    `strings`
)

// Input is one operand of an instruction. Fixed is the location the operand
// must be in when the instruction executes (an ABI constraint), Loc is where
// the allocator decided the instruction reads it from.
type Input struct {
    Value *Inst
    Fixed Location
    Loc   Location
}

type Inst struct {
    Id        int
    Op        Opcode
    Type      DataType
    Imm       int64
    Inputs    []Input
    Dst       Location
    Temps     []Location
    Throwers  []*Inst
    Block     *BasicBlock
    SpillFill *SpillFillData
}

func (self *Inst) HasDst() bool {
    switch self.Op {
        case OpParameter, OpConstant, OpCompare, OpLoad, OpPhi, OpCatchPhi : return true
        case OpCall, OpCallIndirect                                        : return self.Type != Void
        default                                                            : return self.Op.IsBinary()
    }
}

func (self *Inst) IsPhi() bool {
    return self.Op == OpPhi || self.Op == OpCatchPhi
}

func (self *Inst) IsSpillFill() bool {
    return self.Op == OpSpillFill
}

// InputNeedsRegister reports whether operand `i` must be in a register at the
// instruction. Operands with a fixed location are moved there by the
// allocator and never need one.
func (self *Inst) InputNeedsRegister(i int) bool {
    if self.Inputs[i].Fixed.IsValid() {
        return false
    }

    /* state snapshots and merges read operands from anywhere */
    switch self.Op {
        case OpSaveState, OpPhi, OpCatchPhi, OpCall, OpCallIndirect, OpReturn : return false
        default                                                               : return true
    }
}

func (self *Inst) AddInput(v *Inst) *Inst {
    self.Inputs = append(self.Inputs, Input { Value: v })
    return self
}

// AddCatchInput records that `v` is the value of the catch-phi when `thrower`
// raises an exception.
func (self *Inst) AddCatchInput(v *Inst, thrower *Inst) *Inst {
    if self.Op != OpCatchPhi {
        panic("ir: catch input added to " + self.Op.String())
    }
    self.Inputs = append(self.Inputs, Input { Value: v })
    self.Throwers = append(self.Throwers, thrower)
    return self
}

func (self *Inst) SetFixedInput(i int, loc Location) *Inst {
    self.Inputs[i].Fixed = loc
    return self
}

// SetTemps requests `n` scratch registers live during the instruction.
func (self *Inst) SetTemps(n int) *Inst {
    self.Temps = make([]Location, n)
    return self
}

func (self *Inst) String() string {
    var sb strings.Builder
    if self.Op == OpSpillFill {
        return self.SpillFill.String()
    }

    /* result */
    if self.HasDst() {
        if self.Dst.IsValid() {
            fmt.Fprintf(&sb, "v%d(%s) = ", self.Id, self.Dst)
        } else {
            fmt.Fprintf(&sb, "v%d = ", self.Id)
        }
    }

    /* opcode and type */
    sb.WriteString(self.Op.String())
    if self.Type != Void {
        sb.WriteString("." + self.Type.String())
    }

    /* immediates */
    switch self.Op {
        case OpConstant, OpParameter: fmt.Fprintf(&sb, " %d", self.Imm)
    }

    /* operands */
    for i, v := range self.Inputs {
        if i == 0 {
            sb.WriteString(" ")
        } else {
            sb.WriteString(", ")
        }
        fmt.Fprintf(&sb, "v%d", v.Value.Id)
        if v.Loc.IsValid() {
            fmt.Fprintf(&sb, "(%s)", v.Loc)
        }
    }

    /* scratch registers */
    if len(self.Temps) != 0 {
        fmt.Fprintf(&sb, " temps%v", self.Temps)
    }
    return sb.String()
}

// SpillFillType tells which part of the allocator created a move bundle.
type SpillFillType uint8

const (
    InputFill SpillFillType = iota
    ConnectSplitSiblings
    SplitMove
    CatchSync
)

func (self SpillFillType) String() string {
    switch self {
        case InputFill            : return "input-fill"
        case ConnectSplitSiblings : return "connect-split-siblings"
        case SplitMove            : return "split-move"
        case CatchSync            : return "catch-sync"
        default                   : return fmt.Sprintf("spillfill(%d)", self)
    }
}

type SpillFill struct {
    Src  Location
    Dst  Location
    Type DataType
}

func (self SpillFill) String() string {
    return fmt.Sprintf("%s -> %s [%s]", self.Src, self.Dst, self.Type)
}

// SpillFillData is a bundle of moves. Before resolution all moves of a bundle
// happen in parallel, afterwards they are executed in order.
type SpillFillData struct {
    Kind     SpillFillType
    Moves    []SpillFill
    Resolved bool
}

func (self *SpillFillData) Add(src Location, dst Location, typ DataType) {
    self.Moves = append(self.Moves, SpillFill {
        Src  : src,
        Dst  : dst,
        Type : typ,
    })
}

func (self *SpillFillData) String() string {
    moves := make([]string, len(self.Moves))
    for i, mv := range self.Moves {
        moves[i] = mv.String()
    }
    return fmt.Sprintf("spillfill.%s {%s}", self.Kind, strings.Join(moves, "; "))
}
