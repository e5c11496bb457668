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
    `github.com/oleiade/lane`
)

/** Lengauer-Tarjan over preorder numbers, see https://doi.org/10.1145%2F357062.357071 **/

// DominatorTree maps every reachable block to its immediate dominator.
type DominatorTree struct {
    Root        *BasicBlock
    DominatedBy map[int]*BasicBlock
    DominatorOf map[int][]*BasicBlock
}

// Dominates reports whether every path from the root to `b` goes through `a`.
func (self DominatorTree) Dominates(a *BasicBlock, b *BasicBlock) bool {
    for b != nil {
        if a == b {
            return true
        } else {
            b = self.DominatedBy[b.Id]
        }
    }
    return false
}

// Reachable reports whether `bb` was reached from the root.
func (self DominatorTree) Reachable(bb *BasicBlock) bool {
    _, ok := self.DominatedBy[bb.Id]
    return ok || bb == self.Root
}

// _DomState holds one entry per reachable block, indexed by preorder number.
type _DomState struct {
    order  []*BasicBlock
    index  map[int]int
    parent []int
    semi   []int
    idom   []int
    anc    []int
    label  []int
    bucket [][]int
}

type _DomVisit struct {
    bb     *BasicBlock
    parent int
}

// number walks the graph depth-first, catch handlers included.
func (self *_DomState) number(root *BasicBlock) {
    st := lane.NewStack()
    st.Push(_DomVisit { root, -1 })

    /* a block is numbered when it is popped the first time */
    for !st.Empty() {
        v := st.Pop().(_DomVisit)
        if _, ok := self.index[v.bb.Id]; ok {
            continue
        }

        /* allocate the entry */
        i := len(self.order)
        self.index[v.bb.Id] = i
        self.order = append(self.order, v.bb)
        self.parent = append(self.parent, v.parent)
        self.semi = append(self.semi, i)
        self.idom = append(self.idom, -1)
        self.anc = append(self.anc, -1)
        self.label = append(self.label, i)
        self.bucket = append(self.bucket, nil)

        /* first successor on top */
        for j := len(v.bb.Succ) - 1; j >= 0; j-- {
            if _, ok := self.index[v.bb.Succ[j].Id]; !ok {
                st.Push(_DomVisit { v.bb.Succ[j], i })
            }
        }
    }
}

func (self *_DomState) eval(v int) int {
    if self.anc[v] < 0 {
        return v
    } else {
        self.compress(v)
        return self.label[v]
    }
}

func (self *_DomState) compress(v int) {
    if a := self.anc[v]; self.anc[a] >= 0 {
        self.compress(a)
        if self.semi[self.label[a]] < self.semi[self.label[v]] { self.label[v] = self.label[a] }
        self.anc[v] = self.anc[a]
    }
}

func BuildDominatorTree(bb *BasicBlock) DominatorTree {
    ds := &_DomState { index: make(map[int]int) }
    ds.number(bb)

    /* semidominators in decreasing preorder, with implicit immediate dominators */
    for w := len(ds.order) - 1; w > 0; w-- {
        for _, p := range ds.order[w].Pred {
            if v, ok := ds.index[p.Id]; ok {
                if u := ds.eval(v); ds.semi[u] < ds.semi[w] {
                    ds.semi[w] = ds.semi[u]
                }
            }
        }

        /* link to the spanning tree parent */
        pw := ds.parent[w]
        ds.bucket[ds.semi[w]] = append(ds.bucket[ds.semi[w]], w)
        ds.anc[w] = pw

        /* every vertex semidominated by the parent */
        for _, v := range ds.bucket[pw] {
            if u := ds.eval(v); ds.semi[u] < ds.semi[v] {
                ds.idom[v] = u
            } else {
                ds.idom[v] = pw
            }
        }

        /* the bucket is done */
        ds.bucket[pw] = nil
    }

    /* explicit immediate dominators in increasing preorder */
    for w := 1; w < len(ds.order); w++ {
        if ds.idom[w] != ds.semi[w] {
            ds.idom[w] = ds.idom[ds.idom[w]]
        }
    }

    /* build the tree */
    ret := DominatorTree {
        Root        : bb,
        DominatedBy : make(map[int]*BasicBlock, len(ds.order)),
        DominatorOf : make(map[int][]*BasicBlock),
    }

    /* map the blocks back */
    for w := 1; w < len(ds.order); w++ {
        d := ds.order[ds.idom[w]]
        ret.DominatedBy[ds.order[w].Id] = d
        ret.DominatorOf[d.Id] = append(ret.DominatorOf[d.Id], ds.order[w])
    }
    return ret
}
