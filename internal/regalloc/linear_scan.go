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
    `github.com/cloudwego/lsra/internal/arch`
    `github.com/cloudwego/lsra/internal/ir`
    `github.com/cloudwego/lsra/internal/opts`
    `github.com/oleiade/lane`
)

type regClass int

const (
    classGp regClass = iota
    classFp
)

// stackSlots hands out spill slots. Released slots are recycled, reserved
// ones stay taken for the whole function.
type stackSlots struct {
    max      int
    next     int
    free     []int
    reserved map[int]bool
}

func newStackSlots(max int) *stackSlots {
    return &stackSlots {
        max      : max,
        reserved : make(map[int]bool),
    }
}

func (self *stackSlots) take(i int) {
    self.free = append(self.free[:i], self.free[i + 1:]...)
}

func (self *stackSlots) find(s int) int {
    for i, v := range self.free {
        if v == s {
            return i
        }
    }
    return -1
}

// get returns a free slot, an even-aligned pair of slots when `pair` is set.
func (self *stackSlots) get(pair bool) (int, bool) {
    if !pair {
        if n := len(self.free); n != 0 {
            s := self.free[n - 1]
            self.free = self.free[:n - 1]
            return s, true
        }
    } else {
        for i, s := range self.free {
            if s % 2 == 0 {
                if j := self.find(s + 1); j >= 0 {
                    self.take(i)
                    self.take(self.find(s + 1))
                    return s, true
                }
            }
        }
    }

    /* align pairs */
    if pair && self.next % 2 != 0 {
        self.free = append(self.free, self.next)
        self.next++
    }

    /* allocate a new slot */
    s := self.next
    if pair {
        self.next += 2
    } else {
        self.next++
    }
    return s, self.next <= self.max
}

func (self *stackSlots) reserve(pair bool) (int, bool) {
    s, ok := self.get(pair)
    self.reserved[s] = true
    if pair {
        self.reserved[s + 1] = true
    }
    return s, ok
}

func (self *stackSlots) release(s int, pair bool) {
    if !self.reserved[s] {
        self.free = append(self.free, s)
        if pair {
            self.free = append(self.free, s + 1)
        }
    }
}

// Count is the number of slots the frame needs.
func (self *stackSlots) Count() int {
    return self.next
}

// LinearScan is the Wimmer-style linear scan allocator with interval
// splitting. Both register classes are scanned together and share the spill
// slots.
type LinearScan struct {
    la         *LivenessAnalyzer
    target     *arch.Target
    opts       opts.Options
    tracer     *Tracer
    stats      *Stats
    unhandled  *lane.PQueue
    active     []*LifeIntervals
    inactive   []*LifeIntervals
    stack      []*LifeIntervals
    fixed      [2][][]*LifeIntervals
    slots      *stackSlots
    imms       map[int]int
    homes      map[int]ir.Location
    seq        int
    failed     bool
}

func NewLinearScan(la *LivenessAnalyzer, o opts.Options, tracer *Tracer, stats *Stats) *LinearScan {
    return &LinearScan {
        la     : la,
        target : la.Target(),
        opts   : o,
        tracer : tracer,
        stats  : stats,
        slots  : newStackSlots(o.MaxStackSlots),
        imms   : make(map[int]int),
        homes  : make(map[int]ir.Location),
    }
}

// StackSlots is the number of spill slots used.
func (self *LinearScan) StackSlots() int {
    return self.slots.Count()
}

// Immediates maps constant instruction ids to their constant table slot.
func (self *LinearScan) Immediates() map[int]int {
    return self.imms
}

// Run assigns a location to every interval. It returns false when the
// registers cannot satisfy the constraints or the stack budget is exceeded.
func (self *LinearScan) Run() bool {
    self.unhandled = lane.NewPQueue(lane.MINPQ)
    self.prepare()

    /* process intervals by their start position */
    for !self.failed && !self.unhandled.Empty() {
        v, _ := self.unhandled.Pop()
        iv := v.(*LifeIntervals)

        /* allocate the interval */
        if !self.step(iv) {
            self.tracer.Event("failed", "interval", iv)
            return false
        }
    }

    /* check for stack overflow */
    return !self.failed
}

func (self *LinearScan) enqueue(iv *LifeIntervals) {
    self.seq++
    self.unhandled.Push(iv, int(iv.Begin()) << 24 | self.seq & 0xffffff)
}

func (self *LinearScan) classOf(iv *LifeIntervals) regClass {
    if !iv.temp && isFloatClass(self.target, iv.typ) {
        return classFp
    } else {
        return classGp
    }
}

func (self *LinearScan) allocatable(c regClass) arch.RegMask {
    if c == classFp {
        return self.target.FpAllocatable
    } else {
        return self.target.GpAllocatable
    }
}

func (self *LinearScan) nregs(c regClass) int {
    if c == classFp {
        return self.target.FpRegs()
    } else {
        return self.target.GpRegs()
    }
}

func (self *LinearScan) isPair(iv *LifeIntervals) bool {
    return !iv.temp && isPair(self.target, iv.typ)
}

// regsOf returns the registers occupied by a register-allocated interval.
func (self *LinearScan) regsOf(iv *LifeIntervals) []int {
    if r := iv.loc.Index(); self.isPair(iv) && iv.loc.IsRegister() {
        return []int { r, r + 1 }
    } else {
        return []int { r }
    }
}

func (self *LinearScan) makeLocation(c regClass, r int) ir.Location {
    if c == classFp {
        return ir.FpRegister(r)
    } else {
        return ir.Register(r)
    }
}

// splitPosition moves `ln` to the gap before the instruction numbered `ln`,
// so that the connecting move sees the operands of that instruction alive.
// Block boundaries are kept as they are.
func (self *LinearScan) splitPosition(ln LifeNumber) LifeNumber {
    if ln % 2 != 0 || self.la.IsBlockStart(ln) {
        return ln
    } else {
        return ln - 1
    }
}

// optimalSplit moves a split position in (min, max] to the start of the
// block with the lowest loop depth, which keeps reloads out of loops.
func (self *LinearScan) optimalSplit(min LifeNumber, max LifeNumber) LifeNumber {
    if !self.opts.SplitAtLoopEdges {
        return max
    }

    /* the depth at the original position */
    ret := max
    loops := self.la.Loops()
    depth := 0

    /* find the block at the original position */
    if bb := self.la.BlockAt(max); bb != nil {
        depth = loops.Depth(bb)
    }

    /* prefer the latest boundary with the lowest depth */
    orig := depth
    for _, bb := range self.la.LinearBlocks() {
        if start := self.la.BlockRange(bb).Begin; start > min && start <= max {
            if d := loops.Depth(bb); d < depth || (d == depth && d < orig) {
                ret, depth = start, d
            }
        }
    }
    return ret
}

/** Preparation **/

func (self *LinearScan) prepare() {
    for c := range self.fixed {
        self.fixed[c] = make([][]*LifeIntervals, self.nregs(regClass(c)))
    }

    /* physical register blocks */
    for _, iv := range self.la.PhysicalIntervals() {
        if iv.loc.IsFpRegister() {
            self.addFixed(classFp, iv.loc.Index(), iv)
        } else {
            self.addFixed(classGp, iv.loc.Index(), iv)
        }
    }

    /* preassigned registers act as blocks too */
    for _, iv := range self.la.Intervals() {
        if iv.preassigned && iv.loc.IsAnyRegister() {
            for _, r := range self.regsOf(iv) {
                self.addFixed(self.classOf(iv), r, iv)
            }
        }
    }

    /* split the preassigned intervals on conflicts */
    self.resolvePreassignedConflicts()
    self.releasePreassigned()
    self.assignCatchHomes()

    /* everything else goes through the scan */
    for _, iv := range self.la.Intervals() {
        if !iv.preassigned || !iv.loc.IsAnyRegister() {
            self.enqueue(iv)
        }
    }

    /* scratch requests */
    for _, iv := range self.la.TempIntervals() {
        self.enqueue(iv)
    }
}

func (self *LinearScan) addFixed(c regClass, r int, iv *LifeIntervals) {
    if self.allocatable(c).Has(r) {
        self.fixed[c][r] = append(self.fixed[c][r], iv)
    }
}

// resolvePreassignedConflicts splits a preassigned interval right before it
// would overlap a physical block or a later preassigned interval of the same
// register. The remainder competes for a register like any other interval.
func (self *LinearScan) resolvePreassignedConflicts() {
    for c := range self.fixed {
        for _, list := range self.fixed[c] {
            for again := true; again; {
                again = false
                for _, p := range list {
                    if !p.physical && self.resolveConflictsOf(p, list) {
                        again = true
                        break
                    }
                }
            }
        }
    }
}

func (self *LinearScan) resolveConflictsOf(p *LifeIntervals, list []*LifeIntervals) bool {
    for _, q := range list {
        if q == p {
            continue
        }

        /* find the first conflict */
        x := p.Intersects(q)
        if x == NoLifeNumber {
            continue
        }

        /* the one defined later keeps the register */
        victim := p
        if !q.physical && q.Begin() < p.Begin() {
            victim = q
        }

        /* cut it right before the conflict */
        pos := self.splitPosition(x)
        if pos <= victim.Begin() {
            panic("regalloc: preassigned interval conflicts at its own definition: " + victim.String())
        }

        /* the tail is no longer preassigned */
        tail := victim.SplitAt(pos)
        tail.loc = ir.Invalid
        self.enqueue(tail)
        self.stats.Splits++
        self.tracer.Event("preassigned-split", "interval", victim, "at", pos)
        return true
    }
    return false
}

// releasePreassigned keeps a preassigned register only at the definition. The
// rest of the interval is split off right after it and competes for a
// register, preferring the same one, so it can be evicted under pressure.
func (self *LinearScan) releasePreassigned() {
    for _, iv := range self.la.Intervals() {
        if !iv.preassigned || !iv.loc.IsAnyRegister() || !self.allocatable(self.classOf(iv)).Has(iv.loc.Index()) {
            continue
        }

        /* nothing left after the definition */
        pos := self.splitPosition(iv.Begin() + LifeNumberGap)
        if pos <= iv.Begin() || pos >= iv.End() || !iv.Covers(pos) {
            continue
        }

        /* the tail is an ordinary interval */
        tail := iv.SplitAt(pos)
        tail.loc = ir.Invalid
        self.enqueue(tail)
        self.tracer.Event("release", "interval", iv, "at", pos)
    }
}

// assignCatchHomes gives every value live into a catch handler, and every
// catch-phi, a reserved stack slot holding it at the handler entry.
func (self *LinearScan) assignCatchHomes() {
    for _, bb := range self.la.LinearBlocks() {
        if !bb.IsCatch {
            continue
        }

        /* values flowing into the handler */
        start := self.la.BlockRange(bb).Begin
        for _, v := range self.la.LiveIns(bb) {
            sib := self.la.GetInstLifeIntervals(v).FindSiblingAt(start)
            if sib == nil || !sib.Covers(start) {
                continue
            }

            /* split at the handler entry, the tail lives in the home slot */
            if sib.Begin() < start {
                sib = sib.SplitAt(start)
                self.stats.Splits++
                self.enqueue(sib)
            }

            /* bind the home */
            sib.loc = self.home(v)
            sib.preassigned = false
        }

        /* catch-phis live in their home from the start */
        for _, p := range bb.Phis {
            self.la.GetInstLifeIntervals(p).loc = self.home(p)
        }
    }
}

func (self *LinearScan) home(v *ir.Inst) ir.Location {
    if loc, ok := self.homes[v.Id]; ok {
        return loc
    }

    /* reserve a new slot */
    s, ok := self.slots.reserve(isPair(self.target, v.Type))
    if !ok {
        self.failed = true
    }

    /* save the home */
    loc := ir.StackSlot(s)
    self.homes[v.Id] = loc
    return loc
}

// CatchHome returns the reserved slot of a value live into a catch handler.
func (self *LinearScan) CatchHome(v *ir.Inst) (ir.Location, bool) {
    loc, ok := self.homes[v.Id]
    return loc, ok
}

/** Main Loop **/

func (self *LinearScan) step(cur *LifeIntervals) bool {
    self.expire(cur.Begin())

    /* already placed in memory */
    if cur.loc.IsValid() {
        return self.handleStack(cur)
    }

    /* try a free register first, then evict */
    if self.tryAllocateFree(cur) {
        return true
    } else {
        return self.allocateBlocked(cur)
    }
}

func (self *LinearScan) expire(p LifeNumber) {
    var active []*LifeIntervals
    var inactive []*LifeIntervals

    /* active intervals that ended or entered a hole */
    for _, iv := range self.active {
        if iv.End() <= p {
            continue
        } else if iv.Covers(p) {
            active = append(active, iv)
        } else {
            inactive = append(inactive, iv)
        }
    }

    /* inactive intervals that ended or became alive again */
    for _, iv := range self.inactive {
        if iv.End() <= p {
            continue
        } else if iv.Covers(p) {
            active = append(active, iv)
        } else {
            inactive = append(inactive, iv)
        }
    }

    /* release the spill slots, an interval ending at `p` still covers `p - 1` */
    stack := self.stack[:0]
    for _, iv := range self.stack {
        if iv.End() < p {
            self.slots.release(iv.loc.Index(), self.isPair(iv))
        } else {
            stack = append(stack, iv)
        }
    }

    /* update the buckets */
    self.stack = stack
    self.active = active
    self.inactive = inactive
}

// handleStack keeps an interval in its memory location until the first use
// that needs a register.
func (self *LinearScan) handleStack(cur *LifeIntervals) bool {
    p := cur.Begin()
    u := cur.NextRegUseAfter(p)

    /* no register needed at all */
    if u == NoLifeNumber {
        return true
    }

    /* split before the use */
    pos := self.splitPosition(u)
    if pos <= p {
        return false
    }

    /* the rest competes for a register */
    self.enqueue(cur.SplitAt(self.optimalSplit(p, pos)))
    self.stats.Splits++
    return true
}

func (self *LinearScan) assign(cur *LifeIntervals, c regClass, r int) {
    cur.loc = self.makeLocation(c, r)
    self.active = append(self.active, cur)
    self.tracer.Event("assign", "interval", cur)

    /* scratch registers are reported on the instruction */
    if cur.temp {
        cur.inst.Temps[cur.tempIdx] = cur.loc
    }
}

// spill places an interval in memory: a constant table slot for
// rematerializable constants, a stack slot otherwise.
func (self *LinearScan) spill(iv *LifeIntervals) {
    self.stats.Spills++
    self.tracer.Event("spill", "interval", iv)

    /* constants are reloaded from the constant table */
    if self.opts.Remat && iv.inst.Op == ir.OpConstant {
        slot, ok := self.imms[iv.inst.Id]
        if !ok {
            slot = len(self.imms)
            self.imms[iv.inst.Id] = slot
        }
        iv.loc = ir.Immediate(slot)
        return
    }

    /* take a stack slot */
    s, ok := self.slots.get(self.isPair(iv))
    if !ok {
        self.failed = true
    }

    /* keep track for reuse */
    iv.loc = ir.StackSlot(s)
    self.stack = append(self.stack, iv)
}

// hint returns a preferred register for `cur`, or -1.
func (self *LinearScan) hint(cur *LifeIntervals, c regClass) int {
    var loc ir.Location

    /* reload into the register the value had before */
    if cur.split {
        for it := cur.Parent(); it != nil && it != cur; it = it.Sibling() {
            if it.loc.IsAnyRegister() {
                loc = it.loc
            }
        }
    }

    /* phis prefer one of their operands */
    if !loc.IsValid() && !cur.temp && cur.inst.Op == ir.OpPhi && !cur.split {
        for _, in := range cur.inst.Inputs {
            if l := self.la.GetInstLifeIntervals(in.Value).loc; l.IsAnyRegister() {
                loc = l
                break
            }
        }
    }

    /* check the location class */
    if loc.IsValid() && loc == self.makeLocation(c, loc.Index()) {
        return loc.Index()
    } else {
        return -1
    }
}

// candidates returns the registers `cur` may take, pairs are named by their
// even register.
func (self *LinearScan) candidates(cur *LifeIntervals, c regClass) []int {
    var ret []int
    mask := self.allocatable(c)

    /* single registers */
    if !self.isPair(cur) {
        return mask.Regs()
    }

    /* even/odd pairs */
    for _, r := range mask.Regs() {
        if r % 2 == 0 && mask.Has(r + 1) {
            ret = append(ret, r)
        }
    }
    return ret
}

func (self *LinearScan) limitOf(pos []LifeNumber, cur *LifeIntervals, r int) LifeNumber {
    if self.isPair(cur) {
        return minln(pos[r], pos[r + 1])
    } else {
        return pos[r]
    }
}

func (self *LinearScan) setMin(pos []LifeNumber, iv *LifeIntervals, v LifeNumber) {
    for _, r := range self.regsOf(iv) {
        if r < len(pos) && v < pos[r] {
            pos[r] = v
        }
    }
}

func (self *LinearScan) initPositions(c regClass) []LifeNumber {
    ret := make([]LifeNumber, self.nregs(c))
    for _, r := range self.allocatable(c).Regs() {
        ret[r] = MaxLifeNumber
    }
    return ret
}

func (self *LinearScan) tryAllocateFree(cur *LifeIntervals) bool {
    p := cur.Begin()
    c := self.classOf(cur)
    free := self.initPositions(c)

    /* registers of active intervals are taken */
    for _, iv := range self.active {
        if self.classOf(iv) == c {
            self.setMin(free, iv, 0)
        }
    }

    /* inactive intervals are free until they come back */
    for _, iv := range self.inactive {
        if self.classOf(iv) == c {
            if x := iv.IntersectsFrom(cur, p); x != NoLifeNumber {
                self.setMin(free, iv, x)
            }
        }
    }

    /* physical blocks and preassigned intervals */
    for r, list := range self.fixed[c] {
        for _, iv := range list {
            if x := iv.IntersectsFrom(cur, p); x != NoLifeNumber && x < free[r] {
                free[r] = x
            }
        }
    }

    /* pick the register free for the longest time */
    best := -1
    limit := LifeNumber(0)
    for _, r := range self.candidates(cur, c) {
        if v := self.limitOf(free, cur, r); v > limit {
            best, limit = r, v
        }
    }

    /* a hint wins when it covers the whole interval */
    if h := self.hint(cur, c); h >= 0 && self.allocatable(c).Has(h) && (!self.isPair(cur) || h % 2 == 0) {
        if v := self.limitOf(free, cur, h); v >= cur.End() {
            best, limit = h, v
        }
    }

    /* no register available at all */
    if best < 0 || limit <= p {
        return false
    }

    /* available for the whole lifetime */
    if limit >= cur.End() {
        self.assign(cur, c, best)
        return true
    }

    /* scratch registers cannot be split */
    if cur.temp {
        return false
    }

    /* only for a part of it */
    pos := self.splitPosition(limit)
    if pos <= p {
        return false
    }

    /* split and retry the rest later */
    tail := cur.SplitAt(self.optimalSplit(p, pos))
    self.assign(cur, c, best)
    self.enqueue(tail)
    self.stats.Splits++
    return true
}

func (self *LinearScan) allocateBlocked(cur *LifeIntervals) bool {
    p := cur.Begin()
    c := self.classOf(cur)
    use := self.initPositions(c)
    block := self.initPositions(c)

    /* next register use of the active intervals, scratch registers stay */
    for _, iv := range self.active {
        if self.classOf(iv) == c {
            if iv.temp {
                self.setMin(use, iv, 0)
                self.setMin(block, iv, 0)
            } else if u := iv.NextRegUseAfter(p); u != NoLifeNumber {
                self.setMin(use, iv, u)
            }
        }
    }

    /* and of the inactive ones that overlap */
    for _, iv := range self.inactive {
        if self.classOf(iv) == c && iv.IntersectsFrom(cur, p) != NoLifeNumber {
            if u := iv.NextRegUseAfter(p); u != NoLifeNumber {
                self.setMin(use, iv, u)
            }
        }
    }

    /* fixed intervals cannot be evicted */
    for r, list := range self.fixed[c] {
        for _, iv := range list {
            if x := iv.IntersectsFrom(cur, p); x != NoLifeNumber {
                if x < block[r] { block[r] = x }
                if x < use[r] { use[r] = x }
            }
        }
    }

    /* pick the register used farthest in the future */
    best := -1
    next := LifeNumber(0)
    for _, r := range self.candidates(cur, c) {
        if cur.temp && self.limitOf(block, cur, r) < cur.End() {
            continue
        }
        if v := self.limitOf(use, cur, r); v > next {
            best, next = r, v
        }
    }

    /* nothing to choose from */
    if best < 0 {
        return false
    }

    /* the first position where the current interval needs a register */
    first := cur.NextRegUseAfter(p)
    if first == NoLifeNumber {
        first = MaxLifeNumber
    }

    /* every other interval is needed earlier: spill the current one */
    if next < first {
        self.spill(cur)
        if first == MaxLifeNumber {
            return true
        }

        /* reload right before the first register use */
        pos := self.splitPosition(first)
        if pos <= p {
            return false
        }

        /* the rest gets another chance */
        self.enqueue(cur.SplitAt(self.optimalSplit(p, pos)))
        self.stats.Splits++
        return true
    }

    /* the holders need the register right now */
    if next <= p || self.limitOf(block, cur, best) <= p {
        return false
    }

    /* take the register, up to the next fixed use of it */
    if lim := self.limitOf(block, cur, best); lim < cur.End() {
        pos := self.splitPosition(lim)
        if pos <= p {
            return false
        }
        self.enqueue(cur.SplitAt(pos))
        self.stats.Splits++
    }

    /* evict the holders */
    if !self.evictHolders(cur, c, best) {
        return false
    }

    /* assign the register */
    self.assign(cur, c, best)
    return true
}

func (self *LinearScan) overlaps(iv *LifeIntervals, cur *LifeIntervals, r int) bool {
    want := []int { r }
    if self.isPair(cur) {
        want = append(want, r + 1)
    }

    /* check every register of the holder */
    for _, x := range self.regsOf(iv) {
        for _, y := range want {
            if x == y {
                return true
            }
        }
    }
    return false
}

func (self *LinearScan) evictHolders(cur *LifeIntervals, c regClass, r int) bool {
    p := cur.Begin()
    var active []*LifeIntervals
    var inactive []*LifeIntervals

    /* active holders are split at the current position */
    for _, iv := range self.active {
        if self.classOf(iv) != c || !self.overlaps(iv, cur, r) {
            active = append(active, iv)
        } else if !self.evictActive(iv, p) {
            return false
        }
    }

    /* inactive holders keep the register until their hole */
    for _, iv := range self.inactive {
        if self.classOf(iv) != c || !self.overlaps(iv, cur, r) || iv.IntersectsFrom(cur, p) == NoLifeNumber {
            inactive = append(inactive, iv)
        } else {
            self.enqueue(iv.SplitAt(p))
            self.stats.Splits++
            self.stats.Evictions++
        }
    }

    /* update the buckets */
    self.active = active
    self.inactive = inactive
    return true
}

func (self *LinearScan) evictActive(iv *LifeIntervals, p LifeNumber) bool {
    pos := self.splitPosition(p)
    tail := iv

    /* the holder started right here, move it entirely */
    if pos > iv.Begin() {
        tail = iv.SplitAt(pos)
        self.stats.Splits++
    } else {
        iv.loc = ir.Invalid
    }

    /* spill the part crossing the current position */
    self.spill(tail)
    self.stats.Evictions++
    self.tracer.Event("evict", "interval", iv, "at", pos)

    /* reload before the next register use */
    if u := tail.NextRegUseAfter(pos); u != NoLifeNumber {
        at := self.splitPosition(u)
        if at <= p {
            return false
        }
        self.enqueue(tail.SplitAt(self.optimalSplit(p, at)))
        self.stats.Splits++
    }
    return true
}
