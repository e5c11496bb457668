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

type BasicBlock struct {
    Id      int
    Graph   *Graph
    Phis    []*Inst
    Ins     []*Inst
    Pred    []*BasicBlock
    Succ    []*BasicBlock
    Catches []*BasicBlock
    IsCatch bool
    Loop    *Loop
}

func (self *BasicBlock) String() string {
    return fmt.Sprintf("bb_%d", self.Id)
}

// Append adds `p` at the end of the block, or to the phi list for phis.
func (self *BasicBlock) Append(p *Inst) *Inst {
    p.Block = self
    if p.IsPhi() {
        self.Phis = append(self.Phis, p)
    } else {
        self.Ins = append(self.Ins, p)
    }
    return p
}

// Terminator returns the last instruction if it ends the block.
func (self *BasicBlock) Terminator() *Inst {
    if n := len(self.Ins); n != 0 && self.Ins[n - 1].Op.IsTerminator() {
        return self.Ins[n - 1]
    } else {
        return nil
    }
}

func (self *BasicBlock) PredIndex(p *BasicBlock) int {
    for i, v := range self.Pred {
        if v == p {
            return i
        }
    }
    return -1
}

func (self *BasicBlock) IsTry() bool {
    return len(self.Catches) != 0
}

func (self *BasicBlock) IsCatchEdge(succ *BasicBlock) bool {
    for _, c := range self.Catches {
        if c == succ {
            return true
        }
    }
    return false
}

// NormalSuccs returns the successors reached without an exception.
func (self *BasicBlock) NormalSuccs() []*BasicBlock {
    return self.Succ[:len(self.Succ) - len(self.Catches)]
}

// IndexOf returns the position of `p` within the block, or -1.
func (self *BasicBlock) IndexOf(p *Inst) int {
    for i, v := range self.Ins {
        if v == p {
            return i
        }
    }
    return -1
}

type Graph struct {
    Name   string
    Entry  *BasicBlock
    Blocks []*BasicBlock
    nextId int
}

func NewGraph(name string) *Graph {
    ret := &Graph { Name: name }
    ret.Entry = ret.NewBlock()
    return ret
}

func (self *Graph) NewBlock() *BasicBlock {
    bb := &BasicBlock {
        Id    : len(self.Blocks),
        Graph : self,
    }
    self.Blocks = append(self.Blocks, bb)
    return bb
}

func (self *Graph) NewInst(op Opcode, typ DataType) *Inst {
    self.nextId++
    return &Inst {
        Id   : self.nextId - 1,
        Op   : op,
        Type : typ,
    }
}

// MaxInstId is an upper bound of all instruction ids created so far.
func (self *Graph) MaxInstId() int {
    return self.nextId
}

func (self *Graph) AddEdge(from *BasicBlock, to *BasicBlock) {
    if len(from.Catches) != 0 {
        panic("ir: normal successors must be added before catch handlers")
    }
    from.Succ = append(from.Succ, to)
    to.Pred = append(to.Pred, from)
}

// AddCatchEdge marks `handler` as the exception handler of the try block `from`.
func (self *Graph) AddCatchEdge(from *BasicBlock, handler *BasicBlock) {
    from.Succ = append(from.Succ, handler)
    from.Catches = append(from.Catches, handler)
    handler.Pred = append(handler.Pred, from)
    handler.IsCatch = true
}

// SplitEdge inserts an empty block between `from` and `to` that jumps to `to`.
// Phi operands of `to` keep their positions since the new block takes the
// place of `from` in the predecessor list.
func (self *Graph) SplitEdge(from *BasicBlock, to *BasicBlock) *BasicBlock {
    bb := self.NewBlock()
    jmp := self.NewInst(OpJump, Void)
    bb.Append(jmp)
    bb.Pred = []*BasicBlock { from }
    bb.Succ = []*BasicBlock { to }
    bb.Loop = to.Loop

    /* update the successor */
    for i, v := range from.Succ {
        if v == to {
            from.Succ[i] = bb
            break
        }
    }

    /* update the predecessor */
    for i, p := range to.Pred {
        if p == from {
            to.Pred[i] = bb
            break
        }
    }

    /* loops that contain both ends contain the new block */
    for l := to.Loop; l != nil; l = l.Parent {
        if l.Contains(from) {
            l.Blocks[bb.Id] = struct{}{}
        }
    }
    return bb
}

// InsertBefore places `p` right before `at` in the same block.
func (self *Graph) InsertBefore(at *Inst, p *Inst) {
    bb := at.Block
    idx := bb.IndexOf(at)

    /* must be an ordinary instruction */
    if idx < 0 {
        panic("ir: instruction is not in its block")
    }

    /* insert the instruction */
    p.Block = bb
    bb.Ins = append(bb.Ins, nil)
    copy(bb.Ins[idx + 1:], bb.Ins[idx:])
    bb.Ins[idx] = p
}

// InsertAtStart places `p` before every ordinary instruction of `bb`.
func (self *Graph) InsertAtStart(bb *BasicBlock, p *Inst) {
    p.Block = bb
    bb.Ins = append([]*Inst { p }, bb.Ins...)
}

func (self *Graph) NewSpillFill(kind SpillFillType) *Inst {
    p := self.NewInst(OpSpillFill, Void)
    p.SpillFill = &SpillFillData { Kind: kind }
    return p
}

// Validate checks the structural well-formedness of the graph.
func (self *Graph) Validate() error {
    for _, bb := range self.Blocks {
        tr := bb.Terminator()

        /* every block must be terminated */
        if tr == nil {
            return fmt.Errorf("ir: %s is not terminated", bb)
        }

        /* terminators appear only at the end */
        for _, p := range bb.Ins[:len(bb.Ins) - 1] {
            if p.Op.IsTerminator() {
                return fmt.Errorf("ir: %s has a terminator in the middle: %s", bb, p)
            }
        }

        /* check successor counts */
        nsucc := len(bb.NormalSuccs())
        switch tr.Op {
            case OpJump       : if nsucc != 1 { return fmt.Errorf("ir: %s: jump with %d successors", bb, nsucc) }
            case OpIf         : if nsucc != 2 { return fmt.Errorf("ir: %s: if with %d successors", bb, nsucc) }
            default           : if nsucc != 0 { return fmt.Errorf("ir: %s: %s with successors", bb, tr.Op) }
        }

        /* catch blocks are only entered by throwing */
        for _, succ := range bb.NormalSuccs() {
            if succ.IsCatch {
                return fmt.Errorf("ir: %s: normal edge into catch block %s", bb, succ)
            }
        }

        /* phi operands match the predecessors */
        for _, p := range bb.Phis {
            if p.Op == OpPhi && len(p.Inputs) != len(bb.Pred) {
                return fmt.Errorf("ir: %s: phi v%d has %d inputs for %d predecessors", bb, p.Id, len(p.Inputs), len(bb.Pred))
            }
            if p.Op == OpCatchPhi && !bb.IsCatch {
                return fmt.Errorf("ir: %s: catch-phi v%d outside of a catch block", bb, p.Id)
            }
        }
    }
    return nil
}

func (self *Graph) String() string {
    var sb strings.Builder
    fmt.Fprintf(&sb, "graph %s {\n", self.Name)

    /* dump every block */
    for _, bb := range self.Blocks {
        fmt.Fprintf(&sb, "%s: ; preds = %v\n", bb, bb.Pred)
        for _, p := range bb.Phis {
            fmt.Fprintf(&sb, "    %s\n", p)
        }
        for _, p := range bb.Ins {
            fmt.Fprintf(&sb, "    %s\n", p)
        }
        if len(bb.Succ) != 0 {
            fmt.Fprintf(&sb, "    ; succs = %v\n", bb.Succ)
        }
    }

    /* end of graph */
    sb.WriteString("}")
    return sb.String()
}
