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

// BindLocations records the allocated locations on the instructions: the
// result location, the location every operand is read from and, for operands
// the calling convention pins to a location, an InputFill bundle right before
// the instruction that moves them there.
func BindLocations(la *LivenessAnalyzer, tracer *Tracer) {
    g := la.Graph()
    for _, bb := range la.LinearBlocks() {
        for _, p := range bb.Phis {
            p.Dst = la.GetInstLifeIntervals(p).loc
        }

        /* original instructions only */
        for _, p := range append([]*ir.Inst(nil), bb.Ins...) {
            if !p.IsSpillFill() {
                bindInst(g, la, p, tracer)
            }
        }
    }
}

func bindInst(g *ir.Graph, la *LivenessAnalyzer, p *ir.Inst, tracer *Tracer) {
    var sf *ir.SpillFillData
    ln := la.GetInstLifeNumber(p)

    /* the result lives in the head interval */
    if p.HasDst() {
        p.Dst = la.GetInstLifeIntervals(p).loc
    }

    /* operands */
    for i := range p.Inputs {
        in := &p.Inputs[i]
        sib := la.GetInstLifeIntervals(in.Value).FindSiblingAt(ln)

        /* the operand must be alive here */
        if sib == nil {
            panic(fmt.Sprintf("regalloc: operand v%d of v%d is not alive at %d", in.Value.Id, p.Id, ln))
        }

        /* free operands are read where they are */
        if !in.Fixed.IsValid() {
            in.Loc = sib.loc
            continue
        }

        /* fixed operands are moved in */
        if in.Loc = in.Fixed; sib.loc != in.Fixed {
            if sf == nil {
                sp := g.NewSpillFill(ir.InputFill)
                g.InsertBefore(p, sp)
                sf = sp.SpillFill
            }
            sf.Add(sib.loc, in.Fixed, in.Value.Type)
        }
    }

    /* trace the operand moves */
    if sf != nil {
        tracer.Event("bind.input-fill", "inst", p.Id, "moves", sf)
    }
}
