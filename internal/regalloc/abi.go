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
)

// argumentAssigner hands out argument locations in calling convention order.
type argumentAssigner struct {
    target *arch.Target
    gp     int
    fp     int
    stack  int
    param  bool
}

func (self *argumentAssigner) next(typ ir.DataType) ir.Location {
    pair := isPair(self.target, typ)

    /* floating point registers */
    if isFloatClass(self.target, typ) {
        if self.fp < len(self.target.FpParams) {
            self.fp++
            return ir.FpRegister(self.target.FpParams[self.fp - 1])
        } else {
            return self.memory(false)
        }
    }

    /* pairs start at an even register */
    if pair && self.gp % 2 != 0 {
        self.gp++
    }

    /* general purpose registers */
    if n := 1 + btoi(pair); self.gp + n <= len(self.target.GpParams) {
        self.gp += n
        return ir.Register(self.target.GpParams[self.gp - n])
    }

    /* no more registers, the rest goes to the stack */
    self.gp = len(self.target.GpParams)
    return self.memory(pair)
}

func (self *argumentAssigner) memory(pair bool) (loc ir.Location) {
    if pair && self.stack % 2 != 0 {
        self.stack++
    }

    /* parameters are read from the caller's frame */
    if self.param {
        loc = ir.StackParameter(self.stack)
    } else {
        loc = ir.StackArgument(self.stack)
    }

    /* update the stack offset */
    self.stack += 1 + btoi(pair)
    return
}

func btoi(v bool) int {
    if v {
        return 1
    } else {
        return 0
    }
}

// resultLocation is where the calling convention returns values of `typ`.
func resultLocation(target *arch.Target, typ ir.DataType) ir.Location {
    if isFloatClass(target, typ) {
        return ir.FpRegister(target.FpReturn)
    } else {
        return ir.Register(target.GpReturn)
    }
}

// AssignABI binds calling convention locations to parameters, call operands,
// call results and returned values, and puts integer zero constants in the
// zero register when the target has one. It runs once, before liveness.
func AssignABI(g *ir.Graph, target *arch.Target) error {
    var params []*ir.Inst
    args := &argumentAssigner { target: target, param: true }

    /* scan every instruction */
    for _, bb := range g.Blocks {
        for _, p := range bb.Ins {
            switch p.Op {
                case ir.OpParameter    : params = append(params, p)
                case ir.OpConstant     : assignZero(target, p)
                case ir.OpReturn       : p.SetFixedInput(0, resultLocation(target, p.Inputs[0].Value.Type))
                case ir.OpCall         : assignCall(target, p, 0)
                case ir.OpCallIndirect : assignCallIndirect(target, p)
            }
        }
    }

    /* parameters in declaration order */
    sort.Slice(params, func(i int, j int) bool {
        return params[i].Imm < params[j].Imm
    })

    /* assign the parameter locations */
    for i, p := range params {
        if p.Imm != int64(i) {
            return fmt.Errorf("regalloc: parameter %d of %s is missing or duplicated", i, g.Name)
        }
        p.Dst = args.next(p.Type)
    }
    return nil
}

func assignZero(target *arch.Target, p *ir.Inst) {
    if p.Imm == 0 && target.ZeroReg != arch.NoReg && !p.Type.IsFloat() && !isPair(target, p.Type) {
        p.Dst = ir.Register(target.ZeroReg)
    }
}

func assignCall(target *arch.Target, p *ir.Inst, first int) {
    args := &argumentAssigner { target: target }
    for i := first; i < len(p.Inputs); i++ {
        p.SetFixedInput(i, args.next(p.Inputs[i].Value.Type))
    }

    /* the result comes back in the return register */
    if p.HasDst() {
        p.Dst = resultLocation(target, p.Type)
    }
}

func assignCallIndirect(target *arch.Target, p *ir.Inst) {
    if len(p.Inputs) == 0 {
        panic("regalloc: indirect call without a target: " + p.String())
    }

    /* the call target has its own register */
    if target.IndirectCallReg != arch.NoReg {
        p.SetFixedInput(0, ir.Register(target.IndirectCallReg))
    }

    /* the arguments follow */
    assignCall(target, p, 1)
}
