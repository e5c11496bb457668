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

// Builder appends instructions to a current block.
type Builder struct {
    g  *Graph
    bb *BasicBlock
}

func NewBuilder(g *Graph) *Builder {
    return &Builder { g: g, bb: g.Entry }
}

func (self *Builder) Graph() *Graph {
    return self.g
}

func (self *Builder) Block() *BasicBlock {
    return self.bb
}

func (self *Builder) At(bb *BasicBlock) *Builder {
    self.bb = bb
    return self
}

func (self *Builder) emit(op Opcode, typ DataType, args ...*Inst) *Inst {
    p := self.g.NewInst(op, typ)
    for _, v := range args {
        p.AddInput(v)
    }
    return self.bb.Append(p)
}

// Param defines the `i`-th incoming argument.
func (self *Builder) Param(i int, typ DataType) *Inst {
    p := self.emit(OpParameter, typ)
    p.Imm = int64(i)
    return p
}

func (self *Builder) Const(typ DataType, v int64) *Inst {
    p := self.emit(OpConstant, typ)
    p.Imm = v
    return p
}

func (self *Builder) Binary(op Opcode, x *Inst, y *Inst) *Inst {
    if !op.IsBinary() {
        panic("ir: not a binary operator: " + op.String())
    }
    return self.emit(op, x.Type, x, y)
}

func (self *Builder) Add(x *Inst, y *Inst) *Inst {
    return self.Binary(OpAdd, x, y)
}

func (self *Builder) Compare(x *Inst, y *Inst) *Inst {
    return self.emit(OpCompare, Bool, x, y)
}

func (self *Builder) Load(typ DataType, addr *Inst) *Inst {
    return self.emit(OpLoad, typ, addr)
}

func (self *Builder) Store(addr *Inst, v *Inst) *Inst {
    return self.emit(OpStore, Void, addr, v)
}

func (self *Builder) NullCheck(v *Inst) *Inst {
    return self.emit(OpNullCheck, Void, v)
}

func (self *Builder) SaveState(vals ...*Inst) *Inst {
    return self.emit(OpSaveState, Void, vals...)
}

func (self *Builder) Call(typ DataType, args ...*Inst) *Inst {
    return self.emit(OpCall, typ, args...)
}

// CallIndirect calls through `target`, which becomes the first operand.
func (self *Builder) CallIndirect(typ DataType, target *Inst, args ...*Inst) *Inst {
    return self.emit(OpCallIndirect, typ, append([]*Inst { target }, args...)...)
}

// Phi creates a phi whose operands are added later with AddInput, in the
// order of the block's predecessors.
func (self *Builder) Phi(typ DataType) *Inst {
    return self.emit(OpPhi, typ)
}

func (self *Builder) CatchPhi(typ DataType) *Inst {
    return self.emit(OpCatchPhi, typ)
}

func (self *Builder) Jump(to *BasicBlock) *Inst {
    p := self.emit(OpJump, Void)
    self.g.AddEdge(self.bb, to)
    return p
}

func (self *Builder) If(cond *Inst, t *BasicBlock, f *BasicBlock) *Inst {
    p := self.emit(OpIf, Void, cond)
    self.g.AddEdge(self.bb, t)
    self.g.AddEdge(self.bb, f)
    return p
}

func (self *Builder) Return(v *Inst) *Inst {
    return self.emit(OpReturn, Void, v)
}

func (self *Builder) ReturnVoid() *Inst {
    return self.emit(OpReturnVoid, Void)
}

// Throw raises `v`. The catch handlers must be attached with Graph.AddCatchEdge.
func (self *Builder) Throw(v *Inst) *Inst {
    return self.emit(OpThrow, Void, v)
}
