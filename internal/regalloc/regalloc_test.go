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
    `bytes`
    `fmt`
    `testing`

    `github.com/cloudwego/lsra/internal/arch`
    `github.com/cloudwego/lsra/internal/ir`
    `github.com/cloudwego/lsra/internal/irgen`
    `github.com/cloudwego/lsra/internal/opts`
    `github.com/davecgh/go-spew/spew`
    `github.com/stretchr/testify/require`
)

func TestAllocator_Targets(t *testing.T) {
    targets := []*arch.Target {
        arch.Synthetic(4, 2),
        arch.AMD64(),
        arch.AMD64AVX512(),
        arch.ARM64(),
        arch.ARM32(),
    }

    /* random graphs on every target */
    for _, tr := range targets {
        for seed := int64(1); seed <= 30; seed++ {
            g := irgen.New(seed, irgen.DefaultConfig()).Generate(fmt.Sprintf("%s_%d", tr.Name, seed))
            require.NoError(t, g.Validate())
            allocate(t, g, tr, testOptions())
        }
    }
}

func TestAllocator_Catches(t *testing.T) {
    cfg := irgen.DefaultConfig()
    cfg.Catches = true

    /* handlers read their values from the reserved slots */
    for seed := int64(1); seed <= 30; seed++ {
        g := irgen.New(seed, cfg).Generate(fmt.Sprintf("catch_%d", seed))
        require.NoError(t, g.Validate())
        allocate(t, g, arch.AMD64(), testOptions())
    }
}

func TestAllocator_Strategies(t *testing.T) {
    o := testOptions()
    o.Strategy = opts.GraphColoring
    o.Remat = true

    /* whichever strategy wins, the result verifies */
    for seed := int64(1); seed <= 30; seed++ {
        g := irgen.New(seed, irgen.DefaultConfig()).Generate(fmt.Sprintf("gc_%d", seed))
        res := allocate(t, g, arch.AMD64(), o)
        require.Contains(t, []opts.Strategy { opts.GraphColoring, opts.LinearScan }, res.Strategy)
    }
}

func TestAllocator_ResolverRegister(t *testing.T) {
    o := testOptions()
    o.ResolverRegister = 4
    a := NewAllocator(arch.Synthetic(5, 0), o)
    require.False(t, a.Target().GpAllocatable.Has(4))

    /* the register never holds a value */
    for seed := int64(1); seed <= 10; seed++ {
        g := irgen.New(seed, irgen.DefaultConfig()).Generate("resolver")
        res, err := a.Allocate(g)
        require.NoError(t, err)
        for _, head := range res.Liveness.Intervals() {
            for iv := head; iv != nil; iv = iv.Sibling() {
                require.NotEqual(t, ir.Register(4), iv.Location(), "seed=%d", seed)
            }
        }
    }
}

func TestAllocator_Result(t *testing.T) {
    cg := buildCallGraph()
    res := allocate(t, cg.g, arch.Synthetic(2, 0), testOptions())
    t.Log(spew.Sdump(res.Stats))

    /* registers touched by the function */
    require.Equal(t, opts.LinearScan, res.Strategy)
    require.Equal(t, arch.MaskOf(0, 1), res.UsedRegs)
    require.Zero(t, res.UsedFpRegs)
    require.Equal(t, []*ir.BasicBlock { cg.g.Entry }, res.Layout)
    require.Equal(t, "spills=1 splits=2 evictions=0 moves=3", res.Stats.String())
}

func TestAllocator_CallSites(t *testing.T) {
    cg := buildCallGraph()
    res := allocate(t, cg.g, arch.Synthetic(2, 0), testOptions())

    /* v0 waits on the stack while the call runs */
    call := cg.vals[1]
    require.Contains(t, res.CallSites, call.Id)
    require.Zero(t, res.CallSites[call.Id].Gp)
    require.Zero(t, res.CallSites[call.Id].Fp)

    /* nothing survives a call in a caller-saved register */
    tr := arch.AMD64()
    cfg := irgen.DefaultConfig()
    cfg.Catches = true
    for seed := int64(1); seed <= 30; seed++ {
        g := irgen.New(seed, cfg).Generate(fmt.Sprintf("sites_%d", seed))
        res = allocate(t, g, tr, testOptions())
        for id, cs := range res.CallSites {
            require.Zero(t, cs.Gp & tr.GpCallerSaved, "call v%d", id)
            require.Zero(t, cs.Fp & tr.FpCallerSaved, "call v%d", id)
        }
    }
}

func TestAllocator_InvalidOptions(t *testing.T) {
    o := testOptions()
    o.MaxStackSlots = 0
    res, err := NewAllocator(arch.Synthetic(2, 0), o).Allocate(buildCallGraph().g)
    require.Error(t, err)
    require.Nil(t, res)
}

func TestAllocator_Trace(t *testing.T) {
    var buf bytes.Buffer
    o := testOptions()
    o.Trace = true

    /* every pass is announced */
    a := NewAllocator(arch.Synthetic(2, 0), o)
    a.SetTraceOutput(&buf)
    _, err := a.Allocate(buildCallGraph().g)
    require.NoError(t, err)
    for _, p := range Passes {
        require.Contains(t, buf.String(), "pass name=" + p.Name + "\n")
    }

    /* scoped events */
    require.Contains(t, buf.String(), "linear-scan.spill interval=")
    require.Contains(t, buf.String(), "done graph=call strategy=linear-scan")
}

func TestTracer_Event(t *testing.T) {
    var buf bytes.Buffer
    tr := NewTracer(&buf)
    tr.Scope("a").Event("x", "k", 1)
    tr.Scope("a").Scope("b").Event("y", "k")
    require.Equal(t, "a.x k=1\na.b.y k=<missing>\n", buf.String())

    /* a nil tracer drops everything */
    var nt *Tracer
    require.False(t, nt.Enabled())
    require.Nil(t, nt.Scope("a"))
    require.NotPanics(t, func() { nt.Event("x", "k", 1) })
    require.NotPanics(t, func() { nt.Dump("x", 1) })
}

func TestDrawIntervals(t *testing.T) {
    var buf bytes.Buffer
    lg := buildLoopGraph()
    res := allocate(t, lg.g, arch.Synthetic(2, 0), testOptions())
    DrawIntervals(&buf, res.Liveness)

    /* one column per value */
    require.Contains(t, buf.String(), "<svg")
    require.Contains(t, buf.String(), "</svg>")
    for _, v := range lg.vals {
        require.Contains(t, buf.String(), fmt.Sprintf(">v%d<", v.Id))
    }
}
