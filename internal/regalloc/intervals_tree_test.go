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
    `sort`
    `testing`

    `github.com/brianvoe/gofakeit/v6`
    `github.com/cloudwego/lsra/internal/ir`
    `github.com/stretchr/testify/require`
)

func randomTreeIntervals(f *gofakeit.Faker, arena *IntervalArena, n int) []*LifeIntervals {
    ret := make([]*LifeIntervals, 0, n)
    for i := 0; i < n; i++ {
        iv := newTestInterval(arena, i)
        iv.SetLocation(ir.Register(i % 8))

        /* ranges are added from the latest to the earliest */
        end := LifeNumber(f.Number(2, 200))
        for k := f.Number(1, 3); k > 0 && end > 1; k-- {
            begin := end - LifeNumber(f.Number(1, 20))
            if begin < 0 {
                begin = 0
            }
            iv.AppendRange(begin, end)
            end = begin - LifeNumber(f.Number(1, 10))
        }
        ret = append(ret, iv)
    }
    return ret
}

func bruteForceLive(ivs []*LifeIntervals, ln LifeNumber, liveInputs bool) []IntervalId {
    var ret []IntervalId
    for _, iv := range ivs {
        if (liveInputs && iv.CoversOrEnds(ln)) || iv.Covers(ln) {
            ret = append(ret, iv.Id())
        }
    }
    return ret
}

func treeLive(tree *LifeIntervalsTree, ln LifeNumber, liveInputs bool) []IntervalId {
    var ret []IntervalId
    tree.VisitIntervals(ln, liveInputs, nil, func(p *LifeIntervals) {
        ret = append(ret, p.Id())
    })
    sort.Slice(ret, func(i int, j int) bool { return ret[i] < ret[j] })
    return ret
}

func TestLifeIntervalsTree_BruteForce(t *testing.T) {
    for seed := int64(1); seed <= 20; seed++ {
        f := gofakeit.New(seed)
        ivs := randomTreeIntervals(f, new(IntervalArena), f.Number(1, 60))
        tree := NewLifeIntervalsTree(ivs)
        require.Equal(t, len(ivs), tree.Len())

        /* every position, both query kinds */
        for ln := LifeNumber(0); ln <= 202; ln++ {
            for _, inputs := range []bool { false, true } {
                require.Equal(t, bruteForceLive(ivs, ln, inputs), treeLive(tree, ln, inputs), "seed=%d ln=%d inputs=%v", seed, ln, inputs)
            }
        }
    }
}

func TestLifeIntervalsTree_Skip(t *testing.T) {
    arena := new(IntervalArena)
    a := newTestInterval(arena, 0)
    a.AppendRange(0, 10)
    a.SetLocation(ir.Register(1))
    b := newTestInterval(arena, 1)
    b.AppendRange(4, 8)
    b.SetLocation(ir.FpRegister(2))

    /* both are live at 5 */
    tree := NewLifeIntervalsTree([]*LifeIntervals { a, b })
    gp, fp := tree.LiveRegisters(5, nil)
    require.Equal(t, []int { 1 }, gp.Regs())
    require.Equal(t, []int { 2 }, fp.Regs())

    /* the result of the instruction is skipped */
    gp, fp = tree.LiveRegisters(5, b.Inst())
    require.Equal(t, []int { 1 }, gp.Regs())
    require.Zero(t, fp)

    /* an empty tree */
    gp, fp = NewLifeIntervalsTree(nil).LiveRegisters(5, nil)
    require.Zero(t, gp)
    require.Zero(t, fp)
}
