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
    `github.com/cloudwego/lsra/internal/irgen`
    `github.com/cloudwego/lsra/internal/opts`
    `github.com/stretchr/testify/require`
)

func allocate(t *testing.T, g *ir.Graph, target *arch.Target, o opts.Options) *Result {
    ret, err := NewAllocator(target, o).Allocate(g)
    require.NoError(t, err, "%s", g)
    return ret
}

func TestStackSlots_Reuse(t *testing.T) {
    ss := newStackSlots(8)
    s0, ok0 := ss.get(false)
    s1, ok1 := ss.get(false)
    require.True(t, ok0 && ok1)
    require.Equal(t, []int { 0, 1 }, []int { s0, s1 })

    /* released slots come back first */
    ss.release(0, false)
    s, _ := ss.get(false)
    require.Equal(t, 0, s)

    /* pairs are aligned */
    p, ok := ss.get(true)
    require.True(t, ok)
    require.Equal(t, 2, p)
    ss.release(2, true)
    p, _ = ss.get(true)
    require.Equal(t, 2, p)
    require.Equal(t, 4, ss.Count())

    /* reserved slots are never recycled */
    r, _ := ss.reserve(false)
    ss.release(r, false)
    s, _ = ss.get(false)
    require.NotEqual(t, r, s)
}

func TestStackSlots_Alignment(t *testing.T) {
    ss := newStackSlots(8)
    ss.get(false)

    /* the odd slot left behind is handed out later */
    p, _ := ss.get(true)
    require.Equal(t, 2, p)
    s, _ := ss.get(false)
    require.Equal(t, 1, s)
}

func TestStackSlots_Overflow(t *testing.T) {
    ss := newStackSlots(2)
    _, ok := ss.get(false)
    require.True(t, ok)
    _, ok = ss.get(false)
    require.True(t, ok)
    _, ok = ss.get(false)
    require.False(t, ok)
}

/* v0 = const 5; v1 = call; v2 = add v0, v1; return v2 */
func TestLinearScan_SpillAcrossCall(t *testing.T) {
    g := ir.NewGraph("call")
    b := ir.NewBuilder(g)
    v0 := b.Const(ir.Int32, 5)
    v1 := b.Call(ir.Int32)
    v2 := b.Add(v0, v1)
    b.Return(v2)

    /* every register is clobbered by the call */
    res := allocate(t, g, arch.Synthetic(2, 0), testOptions())
    iv := res.Liveness.GetInstLifeIntervals(v0)
    require.Equal(t, 1, res.Stats.Spills)
    require.Equal(t, 1, res.StackSlots)
    require.Equal(t, ir.Register(0), iv.Location())
    require.Equal(t, ir.StackSlot(0), iv.FindSiblingAt(4).Location())
    require.Equal(t, ir.Register(1), iv.FindSiblingAt(5).Location())

    /* the call result comes back in the return register */
    require.Equal(t, ir.Register(0), v1.Dst)
    require.Equal(t, ir.Register(1), v2.Inputs[0].Loc)
    require.Equal(t, ir.Register(0), v2.Inputs[1].Loc)
}

/* v0 = const 1; v1 = const 2; v2 = const 3; v3 = add v0, v1; v4 = add v3, v2; return v4 */
func TestLinearScan_SpillCurrent(t *testing.T) {
    g := ir.NewGraph("spill")
    b := ir.NewBuilder(g)
    v0 := b.Const(ir.Int32, 1)
    v1 := b.Const(ir.Int32, 2)
    v2 := b.Const(ir.Int32, 3)
    b.Return(b.Add(b.Add(v0, v1), v2))

    /* the last constant is needed latest */
    res := allocate(t, g, arch.Synthetic(2, 0), testOptions())
    require.Equal(t, 1, res.Stats.Spills)
    require.Equal(t, 0, res.Stats.Evictions)
    require.Equal(t, ir.StackSlot(0), res.Liveness.GetInstLifeIntervals(v2).Location())
    require.Nil(t, res.Liveness.GetInstLifeIntervals(v0).Sibling())
    require.Nil(t, res.Liveness.GetInstLifeIntervals(v1).Sibling())
}

func TestLinearScan_Rematerialize(t *testing.T) {
    g := ir.NewGraph("remat")
    b := ir.NewBuilder(g)
    v0 := b.Const(ir.Int32, 1)
    v1 := b.Const(ir.Int32, 2)
    v2 := b.Const(ir.Int32, 3)
    b.Return(b.Add(b.Add(v0, v1), v2))

    /* the spilled constant is reloaded from the constant table */
    o := testOptions()
    o.Remat = true
    res := allocate(t, g, arch.Synthetic(2, 0), o)
    require.Equal(t, 1, res.Stats.Spills)
    require.Equal(t, 0, res.StackSlots)
    require.Equal(t, map[int]int { v2.Id: 0 }, res.Immediates)
    require.Equal(t, ir.Immediate(0), res.Liveness.GetInstLifeIntervals(v2).Location())
}

/* v0 = const 1; v1 = const 2; v2 = const 3; v3 = add v2, v0; v4 = add v3, v1; return v4 */
func TestLinearScan_Evict(t *testing.T) {
    g := ir.NewGraph("evict")
    b := ir.NewBuilder(g)
    v0 := b.Const(ir.Int32, 1)
    v1 := b.Const(ir.Int32, 2)
    v2 := b.Const(ir.Int32, 3)
    b.Return(b.Add(b.Add(v2, v0), v1))

    /* v1 is used farthest, it gives its register to v2 */
    res := allocate(t, g, arch.Synthetic(2, 0), testOptions())
    iv := res.Liveness.GetInstLifeIntervals(v1)
    require.Equal(t, 1, res.Stats.Evictions)
    require.Equal(t, 1, res.Stats.Spills)
    require.Equal(t, ir.Register(1), iv.Location())
    require.Equal(t, ir.StackSlot(0), iv.FindSiblingAt(6).Location())
    require.Equal(t, ir.Register(1), iv.FindSiblingAt(9).Location())
    require.Equal(t, ir.Register(1), res.Liveness.GetInstLifeIntervals(v2).Location())
    require.Nil(t, res.Liveness.GetInstLifeIntervals(v0).Sibling())
}

/* v0 = call; v1 = const 1; v2 = const 2; v3 = add v1, v2; v4 = add v3, v0; return v4 */
func TestLinearScan_EvictCallResult(t *testing.T) {
    g := ir.NewGraph("pinned")
    b := ir.NewBuilder(g)
    v0 := b.Call(ir.Int32)
    v1 := b.Const(ir.Int32, 1)
    v2 := b.Const(ir.Int32, 2)
    b.Return(b.Add(b.Add(v1, v2), v0))

    /* the call result keeps the return register only where it is defined */
    res := allocate(t, g, arch.Synthetic(2, 0), testOptions())
    iv := res.Liveness.GetInstLifeIntervals(v0)
    require.Equal(t, ir.Register(0), v0.Dst)
    require.Equal(t, 1, res.Stats.Spills)
    require.Equal(t, 1, res.Stats.Evictions)
    require.Equal(t, ir.Register(0), iv.FindSiblingAt(3).Location())
    require.Equal(t, ir.StackSlot(0), iv.FindSiblingAt(6).Location())
    require.Equal(t, ir.Register(1), iv.FindSiblingAt(9).Location())
}

func TestLinearScan_SlotReuse(t *testing.T) {
    g := ir.NewGraph("chain")
    b := ir.NewBuilder(g)
    acc := b.Const(ir.Int32, 1)

    /* every step spills one constant for a short while */
    for i := 0; i < 4; i++ {
        x := b.Const(ir.Int32, int64(i))
        y := b.Const(ir.Int32, int64(i + 100))
        acc = b.Add(b.Add(acc, x), y)
    }

    /* the spill slot is recycled */
    b.Return(acc)
    res := allocate(t, g, arch.Synthetic(2, 0), testOptions())
    require.Equal(t, 4, res.Stats.Spills)
    require.Equal(t, 1, res.StackSlots)
}

func TestLinearScan_LoopInvariant(t *testing.T) {
    lg := buildLoopGraph()
    res := allocate(t, lg.g, arch.Synthetic(4, 0), testOptions())

    /* the bound stays in a register across the whole loop */
    iv := res.Liveness.GetInstLifeIntervals(lg.vals[1])
    require.True(t, iv.Location().IsRegister())
    require.Nil(t, iv.Sibling())
    require.Equal(t, 0, res.Stats.Spills)
}

func TestLinearScan_RegisterPairs(t *testing.T) {
    cfg := irgen.DefaultConfig()
    cfg.Floats = false

    /* 64-bit values take even/odd pairs and aligned slots */
    for seed := int64(1); seed <= 20; seed++ {
        g := irgen.New(seed, cfg).Generate("pairs")
        res := allocate(t, g, arch.ARM32(), testOptions())
        for _, head := range res.Liveness.Intervals() {
            for iv := head; iv != nil; iv = iv.Sibling() {
                if loc := iv.Location(); iv.Type().Is64() && !loc.IsImmediate() {
                    require.Zero(t, loc.Index() % 2, "seed=%d %s", seed, iv)
                }
            }
        }
    }
}

func TestLinearScan_StackBudget(t *testing.T) {
    build := func() *ir.Graph {
        g := ir.NewGraph("budget")
        b := ir.NewBuilder(g)
        v0 := b.Const(ir.Int32, 1)
        v1 := b.Const(ir.Int32, 2)
        v2 := b.Const(ir.Int32, 3)
        v3 := b.Const(ir.Int32, 4)
        b.Return(b.Add(b.Add(b.Add(v0, v1), v2), v3))
        return g
    }

    /* two constants wait on the stack at the same time */
    res := allocate(t, build(), arch.Synthetic(2, 0), testOptions())
    require.Equal(t, 2, res.Stats.Spills)
    require.Equal(t, 2, res.StackSlots)

    /* not enough room */
    o := testOptions()
    o.MaxStackSlots = 1
    _, err := NewAllocator(arch.Synthetic(2, 0), o).Allocate(build())
    require.ErrorIs(t, err, ErrAllocationFailed)

    /* the target limit wins over the options */
    tr := arch.Synthetic(2, 0)
    tr.StackSlots = 1
    require.Equal(t, 1, NewAllocator(tr, testOptions()).opts.MaxStackSlots)
}
