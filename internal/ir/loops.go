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
    `sort`

    `github.com/oleiade/lane`
)

// Loop is a natural loop: a header and every block that reaches one of its
// back edges without going through the header.
type Loop struct {
    Header   *BasicBlock
    Latches  []*BasicBlock
    Blocks   map[int]struct{}
    Parent   *Loop
    Children []*Loop
    Depth    int
}

func (self *Loop) Contains(bb *BasicBlock) bool {
    _, ok := self.Blocks[bb.Id]
    return ok
}

func (self *Loop) Size() int {
    return len(self.Blocks)
}

type LoopInfo struct {
    Dom   DominatorTree
    Loops []*Loop
}

// Depth returns the loop nesting depth of `bb`, 0 outside of any loop.
func (self *LoopInfo) Depth(bb *BasicBlock) int {
    if bb.Loop == nil {
        return 0
    } else {
        return bb.Loop.Depth
    }
}

// AnalyzeLoops finds the natural loops of `g`, builds the loop tree and sets
// BasicBlock.Loop to the innermost loop of every block.
func AnalyzeLoops(g *Graph) *LoopInfo {
    dom := BuildDominatorTree(g.Entry)
    hdr := make(map[int]*Loop)
    ret := &LoopInfo { Dom: dom }

    /* reset the block mapping */
    for _, bb := range g.Blocks {
        bb.Loop = nil
    }

    /* an edge to a dominator is a back edge */
    for _, bb := range g.Blocks {
        if dom.Reachable(bb) {
            for _, h := range bb.Succ {
                if dom.Dominates(h, bb) {
                    lp, ok := hdr[h.Id]

                    /* merge loops sharing the same header */
                    if !ok {
                        lp = &Loop { Header: h, Blocks: map[int]struct{} { h.Id: {} } }
                        hdr[h.Id] = lp
                        ret.Loops = append(ret.Loops, lp)
                    }

                    /* add the latch */
                    lp.Latches = append(lp.Latches, bb)
                }
            }
        }
    }

    /* collect the loop bodies */
    for _, lp := range ret.Loops {
        st := lane.NewStack()
        for _, v := range lp.Latches {
            st.Push(v)
        }

        /* walk backwards until reaching the header */
        for !st.Empty() {
            bb := st.Pop().(*BasicBlock)
            if !lp.Contains(bb) {
                lp.Blocks[bb.Id] = struct{}{}
                for _, p := range bb.Pred {
                    st.Push(p)
                }
            }
        }
    }

    /* inner loops first */
    sort.SliceStable(ret.Loops, func(i int, j int) bool {
        return ret.Loops[i].Size() < ret.Loops[j].Size()
    })

    /* the parent is the smallest loop containing the header */
    for i, lp := range ret.Loops {
        for _, v := range ret.Loops[i + 1:] {
            if v.Contains(lp.Header) {
                lp.Parent = v
                v.Children = append(v.Children, lp)
                break
            }
        }
    }

    /* outer loops first when computing the depth and block mapping */
    for i := len(ret.Loops) - 1; i >= 0; i-- {
        lp := ret.Loops[i]
        lp.Depth = 1

        /* nested depth */
        if lp.Parent != nil {
            lp.Depth = lp.Parent.Depth + 1
        }

        /* smaller loops overwrite the mapping */
        for _, bb := range g.Blocks {
            if lp.Contains(bb) {
                bb.Loop = lp
            }
        }
    }
    return ret
}
