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
    `github.com/cloudwego/lsra/internal/opts`
    `github.com/stretchr/testify/require`
)

type catchGraph struct {
    g    *ir.Graph
    h    *ir.BasicBlock
    vals []*ir.Inst
}

/* bb0: v0 = param 0; v1 = const 7; v2 = call; v3 = add v2, v0; return v3; catch bb1
 * bb1: v4 = catch-phi(v1 @ v2); v5 = add v4, v0; return v5 */
func buildCatchGraph() catchGraph {
    g := ir.NewGraph("catch")
    b := ir.NewBuilder(g)
    h := g.NewBlock()

    /* the try block */
    v0 := b.Param(0, ir.Int32)
    v1 := b.Const(ir.Int32, 7)
    v2 := b.Call(ir.Int32)
    v3 := b.Add(v2, v0)
    b.Return(v3)
    g.AddCatchEdge(g.Entry, h)

    /* the handler */
    b.At(h)
    v4 := b.CatchPhi(ir.Int32).AddCatchInput(v1, v2)
    v5 := b.Add(v4, v0)
    b.Return(v5)

    /* build the result */
    return catchGraph {
        g    : g,
        h    : h,
        vals : []*ir.Inst { v0, v1, v2, v3, v4, v5 },
    }
}

func coloringOptions(fallback bool) opts.Options {
    o := testOptions()
    o.Strategy = opts.GraphColoring
    o.Fallback = fallback
    return o
}

/* v0 = param 0; v1 = param 1; v2 = add v0, v1; return v2 */
func TestGraphColoring_Simple(t *testing.T) {
    g := ir.NewGraph("simple")
    b := ir.NewBuilder(g)
    v0 := b.Param(0, ir.Int64)
    v1 := b.Param(1, ir.Int64)
    v2 := b.Add(v0, v1)
    b.Return(v2)

    /* colored without help */
    res := allocate(t, g, arch.AMD64(), coloringOptions(false))
    require.Equal(t, opts.GraphColoring, res.Strategy)
    require.Equal(t, 0, res.StackSlots)

    /* no two overlapping intervals share a register */
    loc := res.Liveness.GetInstLifeIntervals(v2).Location()
    require.True(t, loc.IsRegister())
    require.NotEqual(t, v0.Dst, v1.Dst)
    require.NotEqual(t, ir.Register(arch.AMD64().GpReturn), loc)
}

func TestGraphColoring_Fallback(t *testing.T) {
    res := allocate(t, buildCatchGraph().g, arch.AMD64(), coloringOptions(true))
    require.Equal(t, opts.LinearScan, res.Strategy)

    /* exception handlers are not supported by the coloring */
    _, err := NewAllocator(arch.AMD64(), coloringOptions(false)).Allocate(buildCatchGraph().g)
    require.ErrorIs(t, err, ErrAllocationFailed)
}

func TestGraphColoring_RegisterPairs(t *testing.T) {
    lg := buildLoopGraph()
    la := runLiveness(t, lg.g, arch.ARM32())
    require.False(t, NewGraphColoring(la, coloringOptions(false), nil, new(Stats)).Run())

    /* linear scan takes over */
    res := allocate(t, buildLoopGraph().g, arch.ARM32(), coloringOptions(true))
    require.Equal(t, opts.LinearScan, res.Strategy)
}
