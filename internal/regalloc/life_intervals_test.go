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

    `github.com/cloudwego/lsra/internal/ir`
    `github.com/stretchr/testify/require`
)

func newTestInterval(arena *IntervalArena, id int) *LifeIntervals {
    return arena.NewInterval(&ir.Inst { Id: id, Op: ir.OpConstant, Type: ir.Int32 })
}

func TestLifeIntervals_AppendRange(t *testing.T) {
    iv := newTestInterval(new(IntervalArena), 0)
    iv.AppendRange(10, 14)
    iv.AppendRange(2, 6)
    require.Equal(t, []LiveRange { { 2, 6 }, { 10, 14 } }, iv.Ranges())
    require.Equal(t, LifeNumber(2), iv.Begin())
    require.Equal(t, LifeNumber(14), iv.End())
    require.NoError(t, iv.Validate())

    /* extending the earliest range */
    iv.AppendRange(1, 4)
    require.Equal(t, []LiveRange { { 1, 6 }, { 10, 14 } }, iv.Ranges())

    /* adjacent ranges are merged */
    iv.AppendRange(6, 10)
    require.Equal(t, []LiveRange { { 1, 14 } }, iv.Ranges())
    require.Panics(t, func() { iv.AppendRange(4, 4) })
}

func TestLifeIntervals_AppendGroupRange(t *testing.T) {
    iv := newTestInterval(new(IntervalArena), 0)
    iv.AppendRange(30, 32)
    iv.AppendRange(20, 22)
    iv.AppendRange(10, 12)
    iv.AppendRange(2, 4)

    /* a loop covering the two middle ranges */
    iv.AppendGroupRange(8, 24)
    require.Equal(t, []LiveRange { { 2, 4 }, { 8, 24 }, { 30, 32 } }, iv.Ranges())
    require.NoError(t, iv.Validate())
}

func TestLifeIntervals_StartFrom(t *testing.T) {
    iv := newTestInterval(new(IntervalArena), 0)
    iv.StartFrom(6)
    require.Equal(t, []LiveRange { { 6, 7 } }, iv.Ranges())

    /* the definition cuts the live-out range */
    iv = newTestInterval(new(IntervalArena), 1)
    iv.AppendRange(0, 10)
    iv.StartFrom(4)
    require.Equal(t, []LiveRange { { 4, 10 } }, iv.Ranges())
    require.Panics(t, func() { iv.StartFrom(12) })
}

func TestLifeIntervals_UsePositions(t *testing.T) {
    iv := newTestInterval(new(IntervalArena), 0)
    iv.AppendRange(2, 20)
    iv.AddUsePosition(12, true)
    iv.AddUsePosition(2, false)
    iv.AddUsePosition(8, false)
    iv.AddUsePosition(8, true)
    require.Equal(t, []UsePosition { { 2, false }, { 8, true }, { 12, true } }, iv.Uses())
    require.Equal(t, LifeNumber(8), iv.NextUseAfter(3))
    require.Equal(t, LifeNumber(8), iv.NextRegUseAfter(8))
    require.Equal(t, LifeNumber(12), iv.NextRegUseAfter(9))
    require.Equal(t, NoLifeNumber, iv.NextRegUseAfter(13))
    require.NoError(t, iv.Validate())
}

func TestLifeIntervals_Covers(t *testing.T) {
    iv := newTestInterval(new(IntervalArena), 0)
    iv.AppendRange(10, 14)
    iv.AppendRange(2, 6)
    require.True(t, iv.Covers(2))
    require.False(t, iv.Covers(6))
    require.True(t, iv.CoversOrEnds(6))
    require.False(t, iv.Covers(8))
    require.False(t, iv.CoversOrEnds(8))
    require.True(t, iv.Covers(13))
    require.False(t, iv.Covers(14))
    require.True(t, iv.CoversOrEnds(14))
    require.False(t, iv.Covers(1))
}

func TestLifeIntervals_Intersects(t *testing.T) {
    arena := new(IntervalArena)
    a := newTestInterval(arena, 0)
    a.AppendRange(10, 14)
    a.AppendRange(2, 6)
    b := newTestInterval(arena, 1)
    b.AppendRange(5, 11)
    c := newTestInterval(arena, 2)
    c.AppendRange(6, 10)
    require.Equal(t, LifeNumber(5), a.Intersects(b))
    require.Equal(t, LifeNumber(5), b.Intersects(a))
    require.Equal(t, LifeNumber(10), a.IntersectsFrom(b, 6))
    require.Equal(t, NoLifeNumber, a.Intersects(c))
    require.Equal(t, LifeNumber(6), b.Intersects(c))
}

func buildSplitTestInterval() *LifeIntervals {
    iv := newTestInterval(new(IntervalArena), 0)
    iv.AppendRange(10, 14)
    iv.AppendRange(2, 6)
    iv.AddUsePosition(2, false)
    iv.AddUsePosition(6, true)
    iv.AddUsePosition(12, true)
    return iv
}

func TestLifeIntervals_SplitInHole(t *testing.T) {
    iv := buildSplitTestInterval()
    sib := iv.SplitAt(8)
    require.Equal(t, []LiveRange { { 2, 6 } }, iv.Ranges())
    require.Equal(t, []LiveRange { { 10, 14 } }, sib.Ranges())
    require.Equal(t, []UsePosition { { 2, false }, { 6, true } }, iv.Uses())
    require.Equal(t, []UsePosition { { 12, true } }, sib.Uses())
    require.Equal(t, sib, iv.Sibling())
    require.Equal(t, iv, sib.Parent())
    require.True(t, sib.IsSplitSibling())
    require.False(t, iv.IsSplitSibling())
}

func TestLifeIntervals_SplitAtRangeEnd(t *testing.T) {
    iv := buildSplitTestInterval()
    sib := iv.SplitAt(6)
    require.Equal(t, []LiveRange { { 2, 6 } }, iv.Ranges())
    require.Equal(t, []LiveRange { { 10, 14 } }, sib.Ranges())

    /* the last read stays with the range ending there */
    require.Equal(t, []UsePosition { { 2, false }, { 6, true } }, iv.Uses())
    require.Equal(t, []UsePosition { { 12, true } }, sib.Uses())
}

func TestLifeIntervals_SplitInsideRange(t *testing.T) {
    iv := buildSplitTestInterval()
    sib := iv.SplitAt(4)
    require.Equal(t, []LiveRange { { 2, 4 } }, iv.Ranges())
    require.Equal(t, []LiveRange { { 4, 6 }, { 10, 14 } }, sib.Ranges())
    require.Equal(t, []UsePosition { { 6, true }, { 12, true } }, sib.Uses())

    /* split the sibling again, the chain stays ordered */
    last := sib.SplitAt(12)
    require.Equal(t, last, sib.Sibling())
    require.Equal(t, iv, last.Parent())
    require.Equal(t, []UsePosition { { 12, true } }, last.Uses())
    require.Panics(t, func() { iv.SplitAt(2) })
    require.Panics(t, func() { last.SplitAt(14) })
}

func TestLifeIntervals_FindSiblingAt(t *testing.T) {
    iv := buildSplitTestInterval()
    sib := iv.SplitAt(4)
    require.Equal(t, iv, iv.FindSiblingAt(3))
    require.Equal(t, sib, iv.FindSiblingAt(4))
    require.Equal(t, sib, sib.FindSiblingAt(8))
    require.Equal(t, sib, iv.FindSiblingAt(14))
    require.Nil(t, iv.FindSiblingAt(20))
    require.Nil(t, iv.FindSiblingAt(1))
}

func TestLifeIntervals_String(t *testing.T) {
    iv := buildSplitTestInterval()
    iv.SetLocation(ir.Register(3))
    require.Equal(t, "v0#0@r3[2, 6)[10, 14) uses: 2 6! 12!", iv.String())
}

func TestIntervalArena_Pages(t *testing.T) {
    arena := new(IntervalArena)
    first := newTestInterval(arena, 0)
    for i := 1; i < _ArenaPageSize * 2 + 3; i++ {
        newTestInterval(arena, i)
    }

    /* pointers survive growth */
    require.Equal(t, _ArenaPageSize * 2 + 3, arena.Len())
    require.Equal(t, first, arena.At(0))
    require.Equal(t, IntervalId(_ArenaPageSize + 1), arena.At(_ArenaPageSize + 1).Id())

    /* visit in creation order */
    n := 0
    arena.ForEach(func(p *LifeIntervals) {
        require.Equal(t, IntervalId(n), p.Id())
        n++
    })
    require.Equal(t, arena.Len(), n)
}
