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
    `testing`

    `github.com/cloudwego/lsra/internal/arch`
    `github.com/cloudwego/lsra/internal/ir`
    `github.com/stretchr/testify/require`
)

type callGraph struct {
    g    *ir.Graph
    vals []*ir.Inst
}

func buildCallGraph() callGraph {
    g := ir.NewGraph("call")
    b := ir.NewBuilder(g)
    v0 := b.Const(ir.Int32, 5)
    v1 := b.Call(ir.Int32)
    v2 := b.Add(v0, v1)
    b.Return(v2)
    return callGraph { g: g, vals: []*ir.Inst { v0, v1, v2 } }
}

func TestVerifier_Accepts(t *testing.T) {
    cg := buildCallGraph()
    res := allocate(t, cg.g, arch.Synthetic(2, 0), testOptions())
    require.NoError(t, NewVerifier(res.Liveness, res.Immediates).Run())
}

func TestVerifier_WrongOperand(t *testing.T) {
    cg := buildCallGraph()
    res := allocate(t, cg.g, arch.Synthetic(2, 0), testOptions())

    /* read the constant from where the call result is */
    cg.vals[2].Inputs[0].Loc = ir.Register(0)
    err := NewVerifier(res.Liveness, res.Immediates).Run()
    require.ErrorIs(t, err, ErrVerification)
    require.Contains(t, err.Error(), "operand 0")
}

func TestVerifier_MissingReload(t *testing.T) {
    cg := buildCallGraph()
    res := allocate(t, cg.g, arch.Synthetic(2, 0), testOptions())

    /* drop the reload in front of the add */
    bb := cg.g.Entry
    idx := bb.IndexOf(cg.vals[2])
    require.True(t, bb.Ins[idx - 1].IsSpillFill())
    bb.Ins = append(bb.Ins[:idx - 1], bb.Ins[idx:]...)

    /* r1 holds nothing useful any more */
    err := NewVerifier(res.Liveness, res.Immediates).Run()
    require.ErrorIs(t, err, ErrVerification)
    require.Contains(t, err.Error(), "expects v0 in r1")
}

func TestVerifier_ClobberedByCall(t *testing.T) {
    cg := buildCallGraph()
    res := allocate(t, cg.g, arch.Synthetic(2, 0), testOptions())

    /* keep the constant in r1 across the call instead of spilling it */
    for _, p := range cg.g.Entry.Ins {
        if p.IsSpillFill() {
            p.SpillFill.Moves = nil
        }
    }
    cg.vals[0].Dst = ir.Register(1)
    res.Liveness.GetInstLifeIntervals(cg.vals[0]).SetLocation(ir.Register(1))

    /* the call destroys it */
    err := NewVerifier(res.Liveness, res.Immediates).Run()
    require.ErrorIs(t, err, ErrVerification)
}

func TestVerifier_ZeroRegisterArguments(t *testing.T) {
    g := ir.NewGraph("zeros")
    b := ir.NewBuilder(g)
    v0 := b.Const(ir.Int64, 0)
    v1 := b.Const(ir.Int64, 0)
    b.Return(b.Call(ir.Int64, v0, v1))

    /* both arguments are copied out of the zero register */
    res := allocate(t, g, arch.ARM64(), testOptions())
    require.Equal(t, ir.Register(31), v0.Dst)
    require.Equal(t, ir.Register(31), v1.Dst)
    require.NoError(t, NewVerifier(res.Liveness, res.Immediates).Run())
}

func TestVerifier_ZeroRegisterMerge(t *testing.T) {
    g := ir.NewGraph("zero_merge")
    b := ir.NewBuilder(g)
    bt, bf, join := g.NewBlock(), g.NewBlock(), g.NewBlock()

    /* entry */
    p := b.Param(0, ir.Int64)
    z0 := b.Const(ir.Int64, 0)
    b.If(b.Compare(p, p), bt, bf)

    /* another zero constant on one path only */
    b.At(bt)
    z1 := b.Const(ir.Int64, 0)
    b.Store(p, z1)
    b.Jump(join)

    /* nothing on the other path */
    b.At(bf)
    b.Jump(join)

    /* the first constant is read after the merge */
    b.At(join)
    b.Return(b.Call(ir.Int64, z0))
    require.NoError(t, g.Validate())

    /* the zero register holds zero on both paths */
    res := allocate(t, g, arch.ARM64(), testOptions())
    require.Equal(t, ir.Register(31), z1.Dst)
    require.NoError(t, NewVerifier(res.Liveness, res.Immediates).Run())
}
