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

// Package irgen generates random structured graphs for stress testing the
// register allocator. Every generated graph is well formed: values are
// defined before they are used on every path and phi operands follow the
// predecessor order.
package irgen

import (
    `fmt`

    `github.com/brianvoe/gofakeit/v6`
    `github.com/cloudwego/lsra/internal/ir`
)

type Config struct {
    Blocks  int
    Values  int
    Params  int
    Depth   int
    Floats  bool
    Wide    bool
    Calls   bool
    Temps   bool
    Catches bool
}

func DefaultConfig() Config {
    return Config {
        Blocks  : 24,
        Values  : 8,
        Params  : 4,
        Depth   : 3,
        Floats  : true,
        Wide    : true,
        Calls   : true,
        Temps   : true,
        Catches : false,
    }
}

type Generator struct {
    cfg    Config
    rand   *gofakeit.Faker
    graph  *ir.Graph
    build  *ir.Builder
    vals   []*ir.Inst
    blocks int
    start  int
    throws []*ir.Inst
    scopes [][]*ir.Inst
}

func New(seed int64, cfg Config) *Generator {
    return &Generator {
        cfg  : cfg,
        rand : gofakeit.New(seed),
    }
}

// Generate builds a new graph named `name`.
func (self *Generator) Generate(name string) *ir.Graph {
    self.vals = nil
    self.blocks = 1
    self.graph = ir.NewGraph(name)
    self.build = ir.NewBuilder(self.graph)
    self.enter(self.graph.Entry)

    /* incoming arguments, the first one is always a reference */
    for i := 0; i < self.cfg.Params; i++ {
        if i == 0 {
            self.define(self.build.Param(i, ir.Ref))
        } else {
            self.define(self.build.Param(i, self.valueType()))
        }
    }

    /* the body */
    self.region(0)
    self.build.Return(self.pick(ir.Int32))
    return self.graph
}

func (self *Generator) chance(percent int) bool {
    return self.rand.Number(0, 99) < percent
}

func (self *Generator) define(p *ir.Inst) *ir.Inst {
    self.vals = append(self.vals, p)
    return p
}

func (self *Generator) valueType() ir.DataType {
    types := []ir.DataType { ir.Int32 }
    if self.cfg.Wide {
        types = append(types, ir.Int64)
    }
    if self.cfg.Floats {
        types = append(types, ir.Float32, ir.Float64)
    }
    return types[self.rand.Number(0, len(types) - 1)]
}

func (self *Generator) intType() ir.DataType {
    if self.cfg.Wide && self.chance(30) {
        return ir.Int64
    } else {
        return ir.Int32
    }
}

// pick returns a visible value of type `typ`, materializing a constant when
// there is none.
func (self *Generator) pick(typ ir.DataType) *ir.Inst {
    var cands []*ir.Inst
    for _, v := range self.vals {
        if v.Type == typ {
            cands = append(cands, v)
        }
    }

    /* prefer recent values so that lifetimes stay varied */
    if len(cands) == 0 {
        return self.define(self.build.Const(typ, int64(self.rand.Number(-1, 64))))
    } else if n := len(cands); n > 3 && self.chance(50) {
        return cands[self.rand.Number(n - 3, n - 1)]
    } else {
        return cands[self.rand.Number(0, n - 1)]
    }
}

func (self *Generator) pickAny() *ir.Inst {
    if len(self.vals) == 0 {
        return self.pick(ir.Int32)
    } else {
        return self.vals[self.rand.Number(0, len(self.vals) - 1)]
    }
}

/** Straight-Line Code **/

var intOps = []ir.Opcode {
    ir.OpAdd,
    ir.OpSub,
    ir.OpMul,
    ir.OpAnd,
    ir.OpOr,
    ir.OpXor,
    ir.OpShl,
}

var floatOps = []ir.Opcode {
    ir.OpAdd,
    ir.OpSub,
    ir.OpMul,
}

func (self *Generator) straight(n int) {
    for i := 0; i < n; i++ {
        switch k := self.rand.Number(0, 99); {
            case k < 10 : self.constant()
            case k < 45 : self.intBinary()
            case k < 60 : self.floatBinary()
            case k < 70 : self.memory()
            case k < 85 : self.call()
            case k < 90 : self.nullCheck()
            default     : self.saveState()
        }
    }
}

func (self *Generator) constant() {
    if self.chance(20) {
        self.define(self.build.Const(ir.Int32, 0))
    } else {
        self.define(self.build.Const(self.intType(), int64(self.rand.Int8())))
    }
}

func (self *Generator) intBinary() {
    typ := self.intType()
    op := intOps[self.rand.Number(0, len(intOps) - 1)]
    p := self.define(self.build.Binary(op, self.pick(typ), self.pick(typ)))

    /* some operations need scratch registers */
    if self.cfg.Temps && self.chance(15) {
        p.SetTemps(self.rand.Number(1, 2))
    }
}

func (self *Generator) floatBinary() {
    if !self.cfg.Floats {
        self.intBinary()
        return
    }

    /* pick the precision */
    typ := ir.Float64
    if self.chance(40) {
        typ = ir.Float32
    }

    /* build the operation */
    op := floatOps[self.rand.Number(0, len(floatOps) - 1)]
    self.define(self.build.Binary(op, self.pick(typ), self.pick(typ)))
}

func (self *Generator) memory() {
    if self.chance(50) {
        self.define(self.build.Load(self.valueType(), self.pick(ir.Ref)))
    } else {
        self.build.Store(self.pick(ir.Ref), self.pickAny())
    }
}

// thrower records `p` together with the values visible right before it.
func (self *Generator) thrower(p *ir.Inst) {
    self.throws = append(self.throws, p)
    self.scopes = append(self.scopes, append([]*ir.Inst(nil), self.vals[:len(self.vals) - btoi(p.HasDst())]...))
}

func btoi(v bool) int {
    if v {
        return 1
    } else {
        return 0
    }
}

func (self *Generator) call() {
    var p *ir.Inst
    var args []*ir.Inst

    /* calls are optional */
    if !self.cfg.Calls {
        self.intBinary()
        return
    }

    /* arguments */
    for i := self.rand.Number(0, 5); i > 0; i-- {
        args = append(args, self.pickAny())
    }

    /* the result type */
    typ := ir.Void
    if self.chance(75) {
        typ = self.valueType()
    }

    /* direct or indirect call */
    if self.chance(25) {
        p = self.build.CallIndirect(typ, self.pick(ir.Ref), args...)
    } else {
        p = self.build.Call(typ, args...)
    }

    /* record the result */
    if p.HasDst() {
        self.define(p)
    }
    self.thrower(p)
}

func (self *Generator) nullCheck() {
    self.thrower(self.build.NullCheck(self.pick(ir.Ref)))
}

func (self *Generator) saveState() {
    var vals []*ir.Inst
    for i := self.rand.Number(1, 4); i > 0; i-- {
        vals = append(vals, self.pickAny())
    }
    self.build.SaveState(vals...)
}

/** Control Flow **/

func (self *Generator) newBlock() *ir.BasicBlock {
    self.blocks++
    return self.graph.NewBlock()
}

// enter moves the builder to the new block `bb`.
func (self *Generator) enter(bb *ir.BasicBlock) {
    self.build.At(bb)
    self.start = len(self.vals)
    self.throws = nil
    self.scopes = nil
}

func (self *Generator) block() {
    self.straight(self.rand.Number(1, self.cfg.Values))
}

// seal sometimes attaches an exception handler to the current block once its
// terminator is in place.
func (self *Generator) seal() {
    bb := self.build.Block()
    if !self.cfg.Catches || len(self.throws) == 0 || !self.chance(40) {
        return
    }

    /* the handler */
    h := self.newBlock()
    self.graph.AddCatchEdge(bb, h)
    throws, scopes := self.throws, self.scopes

    /* it only sees the values visible at the block entry */
    vals := self.vals
    self.vals = append([]*ir.Inst(nil), vals[:self.start]...)
    self.enter(h)

    /* catch-phis with one operand per throwing instruction */
    for i := self.rand.Number(0, 2); i > 0; i-- {
        phi := self.build.CatchPhi(ir.Int32)
        for k, thr := range throws {
            phi.AddCatchInput(self.pickFrom(scopes[k], ir.Int32, thr), thr)
        }
        self.define(phi)
    }

    /* the handler body returns */
    self.straight(self.rand.Number(0, 3))
    self.build.Return(self.pick(ir.Int32))
    self.vals = vals
}

// pickFrom selects an operand among `vals`, emitting a constant before `at`
// when none has the right type.
func (self *Generator) pickFrom(vals []*ir.Inst, typ ir.DataType, at *ir.Inst) *ir.Inst {
    var cands []*ir.Inst
    for _, v := range vals {
        if v.Type == typ {
            cands = append(cands, v)
        }
    }

    /* no candidate, insert a constant before the instruction */
    if len(cands) == 0 {
        p := self.graph.NewInst(ir.OpConstant, typ)
        p.Imm = int64(self.rand.Int8())
        self.graph.InsertBefore(at, p)
        return p
    } else {
        return cands[self.rand.Number(0, len(cands) - 1)]
    }
}

// region emits a sequence of blocks starting at the current block and leaves
// the builder at an unterminated block.
func (self *Generator) region(depth int) {
    for n := self.rand.Number(1, 3); n > 0; n-- {
        if depth >= self.cfg.Depth || self.blocks >= self.cfg.Blocks {
            self.straight(self.rand.Number(1, self.cfg.Values))
            continue
        }

        /* pick a shape */
        switch k := self.rand.Number(0, 99); {
            case k < 40 : self.diamond(depth)
            case k < 60 : self.triangle(depth)
            case k < 85 : self.loop(depth)
            default     : self.sequence()
        }
    }
}

func (self *Generator) sequence() {
    self.block()
    next := self.newBlock()
    self.build.Jump(next)
    self.seal()
    self.enter(next)
}

// arm emits one side of a conditional ending with a jump to `join`, and
// returns the value it contributes to the phis of `join`.
func (self *Generator) arm(bb *ir.BasicBlock, join *ir.BasicBlock, depth int) *ir.Inst {
    n := len(self.vals)
    self.enter(bb)
    self.region(depth + 1)

    /* values of the arm are not visible after the join */
    v := self.pick(ir.Int32)
    self.build.Jump(join)
    self.vals = self.vals[:n]
    return v
}

func (self *Generator) diamond(depth int) {
    self.block()

    /* the condition */
    typ := self.valueType()
    cond := self.build.Compare(self.pick(typ), self.pick(typ))
    then, other, join := self.newBlock(), self.newBlock(), self.newBlock()
    self.build.If(cond, then, other)
    self.seal()

    /* both arms */
    x := self.arm(then, join, depth)
    y := self.arm(other, join, depth)
    self.enter(join)

    /* merge the results */
    for i := self.rand.Number(0, 2); i > 0; i-- {
        self.define(self.build.Phi(ir.Int32).AddInput(x).AddInput(y))
    }
}

// triangle leaves the edge skipping the arm critical.
func (self *Generator) triangle(depth int) {
    self.block()
    bb := self.build.Block()
    x := self.pick(ir.Int32)

    /* the condition */
    cond := self.build.Compare(self.pick(ir.Int32), self.pick(ir.Int32))
    then, join := self.newBlock(), self.newBlock()
    self.build.If(cond, then, join)
    self.seal()

    /* only one arm */
    y := self.arm(then, join, depth)
    self.enter(join)

    /* the phi operands follow the predecessor order of the join */
    if self.chance(70) {
        phi := self.build.Phi(ir.Int32)
        for _, p := range join.Pred {
            if p == bb {
                phi.AddInput(x)
            } else {
                phi.AddInput(y)
            }
        }
        self.define(phi)
    }
}

func (self *Generator) loop(depth int) {
    self.block()
    init := self.pick(ir.Int32)

    /* the header */
    head := self.newBlock()
    self.build.Jump(head)
    self.seal()
    self.enter(head)

    /* induction variable, the back edge operand is added later */
    iv := self.define(self.build.Phi(ir.Int32).AddInput(init))

    /* the exit condition */
    body, exit := self.newBlock(), self.newBlock()
    cond := self.build.Compare(iv, self.pick(ir.Int32))
    self.build.If(cond, body, exit)

    /* the body */
    n := len(self.vals)
    self.enter(body)
    self.region(depth + 1)

    /* the back edge */
    step := self.build.Add(iv, self.pick(ir.Int32))
    self.build.Jump(head)
    iv.AddInput(step)
    self.vals = self.vals[:n]

    /* continue after the loop */
    self.enter(exit)
}

func (self *Generator) String() string {
    return fmt.Sprintf("irgen(blocks=%d, values=%d, depth=%d)", self.cfg.Blocks, self.cfg.Values, self.cfg.Depth)
}
