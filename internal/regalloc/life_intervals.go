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
    `math`
    `strings`

    `github.com/cloudwego/lsra/internal/ir`
)

// LifeNumber is a linear program position. Instructions are LifeNumberGap
// apart so that odd positions fall between two instructions.
type LifeNumber int32

const (
    LifeNumberGap = 2
    MaxLifeNumber = LifeNumber(math.MaxInt32)
    NoLifeNumber  = LifeNumber(-1)
)

// LiveRange is the half-open interval [Begin, End).
type LiveRange struct {
    Begin LifeNumber
    End   LifeNumber
}

func (self LiveRange) Contains(ln LifeNumber) bool {
    return self.Begin <= ln && ln < self.End
}

func (self LiveRange) String() string {
    return fmt.Sprintf("[%d, %d)", self.Begin, self.End)
}

type UsePosition struct {
    Ln  LifeNumber
    Reg bool
}

type IntervalId int32

const NoInterval = IntervalId(-1)

// LifeIntervals is the lifetime of one value, a physical register or a
// scratch request. Split siblings share the value and form a chain ordered
// by position.
type LifeIntervals struct {
    id          IntervalId
    arena       *IntervalArena
    inst        *ir.Inst
    typ         ir.DataType
    ranges      []LiveRange
    uses        []UsePosition
    loc         ir.Location
    next        IntervalId
    parent      IntervalId
    physical    bool
    preassigned bool
    temp        bool
    split       bool
    tempIdx     int
}

func (self *LifeIntervals) Id() IntervalId         { return self.id }
func (self *LifeIntervals) Inst() *ir.Inst         { return self.inst }
func (self *LifeIntervals) Type() ir.DataType      { return self.typ }
func (self *LifeIntervals) Location() ir.Location  { return self.loc }
func (self *LifeIntervals) IsPhysical() bool       { return self.physical }
func (self *LifeIntervals) IsPreassigned() bool    { return self.preassigned }
func (self *LifeIntervals) IsTemp() bool           { return self.temp }
func (self *LifeIntervals) IsSplitSibling() bool   { return self.split }
func (self *LifeIntervals) Uses() []UsePosition    { return self.uses }

func (self *LifeIntervals) SetLocation(loc ir.Location) {
    self.loc = loc
}

// Ranges returns the ranges in program order.
func (self *LifeIntervals) Ranges() []LiveRange {
    ret := make([]LiveRange, len(self.ranges))
    for i, r := range self.ranges {
        ret[len(ret) - i - 1] = r
    }
    return ret
}

func (self *LifeIntervals) IsEmpty() bool {
    return len(self.ranges) == 0
}

func (self *LifeIntervals) Begin() LifeNumber {
    if len(self.ranges) == 0 {
        return NoLifeNumber
    } else {
        return self.ranges[len(self.ranges) - 1].Begin
    }
}

func (self *LifeIntervals) End() LifeNumber {
    if len(self.ranges) == 0 {
        return NoLifeNumber
    } else {
        return self.ranges[0].End
    }
}

// Parent returns the head of the sibling chain.
func (self *LifeIntervals) Parent() *LifeIntervals {
    return self.arena.At(self.parent)
}

func (self *LifeIntervals) Sibling() *LifeIntervals {
    if self.next == NoInterval {
        return nil
    } else {
        return self.arena.At(self.next)
    }
}

/** Ranges are stored latest first, so that the backward liveness walk appends
 *  at the tail of the slice in the common case. */

// AppendRange adds [begin, end) to the lifetime, merging with any overlapping
// or adjacent range.
func (self *LifeIntervals) AppendRange(begin LifeNumber, end LifeNumber) {
    if begin >= end {
        panic(fmt.Sprintf("regalloc: empty live range [%d, %d)", begin, end))
    }

    /* fast path: at or before the earliest range */
    if n := len(self.ranges); n == 0 || end < self.ranges[n - 1].Begin {
        self.ranges = append(self.ranges, LiveRange { begin, end })
        return
    } else if end <= self.ranges[n - 1].End && begin <= self.ranges[n - 1].Begin {
        self.ranges[n - 1].Begin = begin
        return
    }

    /* general case */
    self.AppendGroupRange(begin, end)
}

// AppendGroupRange adds [begin, end) anywhere in the lifetime and absorbs every
// range it touches. Loop headers use it to extend values over the loop body.
func (self *LifeIntervals) AppendGroupRange(begin LifeNumber, end LifeNumber) {
    var i int
    var ret []LiveRange

    /* ranges entirely after the new one */
    for i = 0; i < len(self.ranges) && self.ranges[i].Begin > end; i++ {
        ret = append(ret, self.ranges[i])
    }

    /* absorb the touching ones */
    for ; i < len(self.ranges) && self.ranges[i].End >= begin; i++ {
        if self.ranges[i].Begin < begin { begin = self.ranges[i].Begin }
        if self.ranges[i].End > end { end = self.ranges[i].End }
    }

    /* the rest is earlier */
    ret = append(ret, LiveRange { begin, end })
    ret = append(ret, self.ranges[i:]...)
    self.ranges = ret
}

// StartFrom moves the beginning of the earliest range to the definition point.
// Values that are never used get a minimal range.
func (self *LifeIntervals) StartFrom(ln LifeNumber) {
    if n := len(self.ranges); n == 0 {
        self.ranges = append(self.ranges, LiveRange { ln, ln + 1 })
    } else if self.ranges[n - 1].End <= ln {
        panic(fmt.Sprintf("regalloc: definition at %d after the last use of %s", ln, self))
    } else {
        self.ranges[n - 1].Begin = ln
    }
}

func (self *LifeIntervals) AddUsePosition(ln LifeNumber, reg bool) {
    i := len(self.uses)
    self.uses = append(self.uses, UsePosition{})

    /* keep the positions sorted */
    for i > 0 && self.uses[i - 1].Ln > ln {
        self.uses[i] = self.uses[i - 1]
        i--
    }

    /* merge duplicates */
    if i > 0 && self.uses[i - 1].Ln == ln {
        self.uses[i - 1].Reg = self.uses[i - 1].Reg || reg
        self.uses = append(self.uses[:i], self.uses[i + 1:]...)
    } else {
        self.uses[i] = UsePosition { ln, reg }
    }
}

// Covers reports whether `ln` lies strictly inside one of the ranges.
func (self *LifeIntervals) Covers(ln LifeNumber) bool {
    for _, r := range self.ranges {
        if r.Contains(ln) {
            return true
        } else if r.End <= ln {
            return false
        }
    }
    return false
}

// CoversOrEnds also accepts `ln` equal to the end of a range, which is where
// a value is read for the last time.
func (self *LifeIntervals) CoversOrEnds(ln LifeNumber) bool {
    for _, r := range self.ranges {
        if r.Begin <= ln && ln <= r.End {
            return true
        } else if r.End < ln {
            return false
        }
    }
    return false
}

// Intersects returns the first position both intervals cover, or NoLifeNumber.
func (self *LifeIntervals) Intersects(other *LifeIntervals) LifeNumber {
    return self.IntersectsFrom(other, 0)
}

// IntersectsFrom is Intersects restricted to positions not before `from`.
func (self *LifeIntervals) IntersectsFrom(other *LifeIntervals, from LifeNumber) LifeNumber {
    i := len(self.ranges) - 1
    j := len(other.ranges) - 1

    /* walk both range lists in program order */
    for i >= 0 && j >= 0 {
        a, b := self.ranges[i], other.ranges[j]
        lo, hi := maxln(a.Begin, b.Begin), minln(a.End, b.End)

        /* clamp to the starting position */
        if lo < from {
            lo = from
        }

        /* found an overlap */
        if lo < hi {
            return lo
        }

        /* advance the one ending first */
        if a.End <= b.End {
            i--
        } else {
            j--
        }
    }
    return NoLifeNumber
}

// NextUseAfter returns the first use at or after `ln`, NoLifeNumber if none.
func (self *LifeIntervals) NextUseAfter(ln LifeNumber) LifeNumber {
    for _, u := range self.uses {
        if u.Ln >= ln {
            return u.Ln
        }
    }
    return NoLifeNumber
}

// NextRegUseAfter returns the first use at or after `ln` that needs a register.
func (self *LifeIntervals) NextRegUseAfter(ln LifeNumber) LifeNumber {
    for _, u := range self.uses {
        if u.Reg && u.Ln >= ln {
            return u.Ln
        }
    }
    return NoLifeNumber
}

// SplitAt cuts the interval at `ln` and returns the new sibling holding the
// part from `ln` on. The sibling is linked right after the receiver.
func (self *LifeIntervals) SplitAt(ln LifeNumber) *LifeIntervals {
    if self.physical {
        panic("regalloc: physical intervals cannot be split")
    }

    /* the split point must be strictly inside */
    if ln <= self.Begin() || ln >= self.End() {
        panic(fmt.Sprintf("regalloc: cannot split %s at %d", self, ln))
    }

    /* allocate the sibling */
    sib := self.arena.alloc()
    sib.inst = self.inst
    sib.typ = self.typ
    sib.parent = self.parent
    sib.temp = self.temp
    sib.split = true
    sib.next = self.next
    self.next = sib.id

    /* ranges entirely after the split point */
    var i int
    for i = 0; i < len(self.ranges) && self.ranges[i].Begin >= ln; i++ {
        sib.ranges = append(sib.ranges, self.ranges[i])
    }

    /* cut the range containing the split point */
    cut := i < len(self.ranges) && self.ranges[i].End > ln
    if cut {
        sib.ranges = append(sib.ranges, LiveRange { ln, self.ranges[i].End })
        self.ranges[i].End = ln
    }

    /* the receiver keeps the earlier ranges */
    self.ranges = append([]LiveRange(nil), self.ranges[i:]...)
    keep := !cut && self.End() == ln

    /* a use exactly at the split point stays with a range ending there */
    for i = 0; i < len(self.uses); i++ {
        if u := self.uses[i].Ln; u > ln || (u == ln && !keep) {
            break
        }
    }

    /* move the uses */
    sib.uses = append(sib.uses, self.uses[i:]...)
    self.uses = self.uses[:i:i]
    return sib
}

// FindSiblingAt returns the sibling holding the value at `ln`. A sibling
// starting exactly at `ln` wins over one ending there.
func (self *LifeIntervals) FindSiblingAt(ln LifeNumber) *LifeIntervals {
    var cand *LifeIntervals
    for it := self.Parent(); it != nil; it = it.Sibling() {
        if it.Begin() <= ln && ln < it.End() {
            return it
        } else if it.End() == ln {
            cand = it
        } else if it.Begin() > ln {
            break
        }
    }
    return cand
}

func (self *LifeIntervals) String() string {
    var sb strings.Builder
    if self.physical {
        fmt.Fprintf(&sb, "phys(%s)", self.loc)
    } else if self.temp {
        fmt.Fprintf(&sb, "temp#%d", self.id)
    } else {
        fmt.Fprintf(&sb, "v%d#%d", self.inst.Id, self.id)
    }

    /* location and ranges */
    if self.loc.IsValid() {
        fmt.Fprintf(&sb, "@%s", self.loc)
    }
    for _, r := range self.Ranges() {
        sb.WriteString(r.String())
    }

    /* use positions */
    if len(self.uses) != 0 {
        sb.WriteString(" uses:")
        for _, u := range self.uses {
            if u.Reg {
                fmt.Fprintf(&sb, " %d!", u.Ln)
            } else {
                fmt.Fprintf(&sb, " %d", u.Ln)
            }
        }
    }
    return sb.String()
}

// Validate checks that the ranges are non-empty, disjoint and non-adjacent,
// and that the use positions are sorted.
func (self *LifeIntervals) Validate() error {
    rs := self.Ranges()
    for i, r := range rs {
        if r.Begin >= r.End {
            return fmt.Errorf("regalloc: %s: empty range %s", self, r)
        } else if i != 0 && rs[i - 1].End >= r.Begin {
            return fmt.Errorf("regalloc: %s: range %s is not after %s", self, r, rs[i - 1])
        }
    }

    /* use positions */
    for i := 1; i < len(self.uses); i++ {
        if self.uses[i].Ln < self.uses[i - 1].Ln {
            return fmt.Errorf("regalloc: %s: unordered use at %d", self, self.uses[i].Ln)
        }
    }
    return nil
}

func minln(a LifeNumber, b LifeNumber) LifeNumber {
    if a < b {
        return a
    } else {
        return b
    }
}

func maxln(a LifeNumber, b LifeNumber) LifeNumber {
    if a > b {
        return a
    } else {
        return b
    }
}
