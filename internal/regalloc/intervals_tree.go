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

    `github.com/cloudwego/lsra/internal/arch`
    `github.com/cloudwego/lsra/internal/ir`
)

type _TreeNode struct {
    mid    LifeNumber
    min    LifeNumber
    max    LifeNumber
    bucket []*LifeIntervals
    left   *_TreeNode
    right  *_TreeNode
}

// LifeIntervalsTree answers "which register intervals are live at position X"
// queries. Every node keeps the intervals spanning its center sorted by end
// in descending order, so a scan stops at the first one ending too early.
type LifeIntervalsTree struct {
    root   *_TreeNode
    size   int
    target *arch.Target
}

// BuildLifeIntervalsTree indexes every value interval, split siblings
// included, that was assigned a register.
func BuildLifeIntervalsTree(la *LivenessAnalyzer) *LifeIntervalsTree {
    var ivs []*LifeIntervals
    la.Arena().ForEach(func(p *LifeIntervals) {
        if !p.physical && !p.temp && !p.IsEmpty() && p.loc.IsAnyRegister() {
            ivs = append(ivs, p)
        }
    })
    ret := NewLifeIntervalsTree(ivs)
    ret.target = la.Target()
    return ret
}

func NewLifeIntervalsTree(ivs []*LifeIntervals) *LifeIntervalsTree {
    return &LifeIntervalsTree {
        root : buildTreeNode(append([]*LifeIntervals(nil), ivs...)),
        size : len(ivs),
    }
}

func (self *LifeIntervalsTree) Len() int {
    return self.size
}

func buildTreeNode(ivs []*LifeIntervals) *_TreeNode {
    var left []*LifeIntervals
    var right []*LifeIntervals

    /* nothing to build */
    if len(ivs) == 0 {
        return nil
    }

    /* the median of the interval centers always spans at least one interval */
    mids := make([]LifeNumber, len(ivs))
    for i, p := range ivs {
        mids[i] = (p.Begin() + p.End() - 1) / 2
    }

    /* pick the center */
    sort.Slice(mids, func(i int, j int) bool { return mids[i] < mids[j] })
    nd := &_TreeNode { mid: mids[len(mids) / 2], min: MaxLifeNumber, max: NoLifeNumber }

    /* partition the intervals */
    for _, p := range ivs {
        if p.End() <= nd.mid {
            left = append(left, p)
        } else if p.Begin() > nd.mid {
            right = append(right, p)
        } else {
            nd.bucket = append(nd.bucket, p)
            nd.min = minln(nd.min, p.Begin())
            nd.max = maxln(nd.max, p.End())
        }
    }

    /* descending end order */
    sort.SliceStable(nd.bucket, func(i int, j int) bool {
        return nd.bucket[i].End() > nd.bucket[j].End()
    })

    /* build the subtrees */
    nd.left = buildTreeNode(left)
    nd.right = buildTreeNode(right)
    return nd
}

// VisitIntervals calls `fn` for every indexed interval live at `ln`. With
// `liveInputs` an interval ending exactly at `ln` counts as live, which is
// the case of the operands of the instruction at `ln`. Intervals of the value
// defined by `skip` are ignored.
func (self *LifeIntervalsTree) VisitIntervals(ln LifeNumber, liveInputs bool, skip *ir.Inst, fn func(p *LifeIntervals)) {
    for nd := self.root; nd != nil; {
        if ln >= nd.min && ln <= nd.max {
            for _, p := range nd.bucket {
                if end := p.End(); end < ln || (!liveInputs && end == ln) {
                    break
                }

                /* check the ranges themselves, there may be a hole at `ln` */
                if skip != nil && p.inst == skip {
                    continue
                } else if (liveInputs && p.CoversOrEnds(ln)) || p.Covers(ln) {
                    fn(p)
                }
            }
        }

        /* only one subtree may contain `ln` */
        if ln < nd.mid || (ln == nd.mid && liveInputs) {
            nd = nd.left
        } else if ln > nd.mid {
            nd = nd.right
        } else {
            nd = nil
        }
    }
}

// LiveRegisters returns the registers holding values across the instruction
// at `ln`, excluding its own result. Both halves of a pair are reported when
// the tree was built for a target.
func (self *LifeIntervalsTree) LiveRegisters(ln LifeNumber, skip *ir.Inst) (gp arch.RegMask, fp arch.RegMask) {
    self.VisitIntervals(ln, false, skip, func(p *LifeIntervals) {
        regs := []ir.Location { p.loc }
        if self.target != nil {
            regs = atomsOf(self.target, p.loc, p.typ)
        }

        /* mark every register */
        for _, loc := range regs {
            if loc.IsFpRegister() {
                fp = fp.Set(loc.Index())
            } else {
                gp = gp.Set(loc.Index())
            }
        }
    })
    return
}
