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
    `errors`
    `fmt`
    `io`

    `github.com/cloudwego/lsra/internal/arch`
    `github.com/cloudwego/lsra/internal/ir`
    `github.com/cloudwego/lsra/internal/opts`
)

var (
    ErrAllocationFailed = errors.New("regalloc: allocation failed")
    ErrVerification     = errors.New("regalloc: verification failed")
)

type Stats struct {
    Spills    int
    Splits    int
    Evictions int
    Moves     int
}

func (self Stats) String() string {
    return fmt.Sprintf("spills=%d splits=%d evictions=%d moves=%d", self.Spills, self.Splits, self.Evictions, self.Moves)
}

// CallSite lists the registers holding values across one call.
type CallSite struct {
    Gp arch.RegMask
    Fp arch.RegMask
}

// Result is what code generation needs besides the annotated graph.
// CallSites is keyed by the id of the call instruction.
type Result struct {
    Strategy   opts.Strategy
    StackSlots int
    UsedRegs   arch.RegMask
    UsedFpRegs arch.RegMask
    Immediates map[int]int
    CallSites  map[int]CallSite
    Layout     []*ir.BasicBlock
    Liveness   *LivenessAnalyzer
    Stats      Stats
}

// Allocator assigns locations to the values of one graph at a time. It holds
// no per-graph state, so one Allocator may serve several goroutines as long
// as each graph is owned by one of them.
type Allocator struct {
    target *arch.Target
    opts   opts.Options
    trace  io.Writer
}

func NewAllocator(target *arch.Target, o opts.Options) *Allocator {
    tr := *target

    /* the resolver register is never handed out */
    if o.ResolverRegister >= 0 {
        tr.GpAllocatable = tr.GpAllocatable.Clear(o.ResolverRegister)
    }

    /* the tighter stack budget wins */
    if tr.StackSlots > 0 && tr.StackSlots < o.MaxStackSlots {
        o.MaxStackSlots = tr.StackSlots
    }

    /* build the allocator */
    return &Allocator {
        target : &tr,
        opts   : o,
    }
}

// SetTraceOutput sends the allocator events to `w` when tracing is enabled.
func (self *Allocator) SetTraceOutput(w io.Writer) {
    self.trace = w
}

func (self *Allocator) Target() *arch.Target {
    return self.target
}

// allocation carries the state of one graph through the passes.
type allocation struct {
    graph    *ir.Graph
    target   *arch.Target
    opts     opts.Options
    tracer   *Tracer
    la       *LivenessAnalyzer
    strategy opts.Strategy
    slots    int
    imms     map[int]int
    calls    map[int]CallSite
    layout   []*ir.BasicBlock
    stats    Stats
}

type Pass interface {
    Apply(*allocation) error
}

type PassDescriptor struct {
    Pass Pass
    Name string
}

var Passes = [...]PassDescriptor {
    { Name: "Split Resolution"      , Pass: new(SplitResolution) },
    { Name: "Catch Synchronization" , Pass: new(CatchSynchronization) },
    { Name: "Location Binding"      , Pass: new(LocationBinding) },
    { Name: "Spill Fill Resolution" , Pass: new(SpillFillResolution) },
    { Name: "Call Site Registers"   , Pass: new(CallSiteRegisters) },
    { Name: "Verification"          , Pass: new(Verification) },
}

// Allocate binds the calling convention, allocates every value and inserts
// the moves. The graph is annotated in place and must not have been
// allocated before. When the allocation or the verification fails, the
// partial result still carries the intervals for inspection.
func (self *Allocator) Allocate(g *ir.Graph) (*Result, error) {
    var tracer *Tracer
    if self.opts.Trace {
        tracer = NewTracer(self.trace)
    }

    /* check the options */
    if err := self.opts.Validate(); err != nil {
        return nil, err
    }

    /* calling convention first */
    if err := AssignABI(g, self.target); err != nil {
        return nil, err
    }

    /* allocation state */
    ctx := &allocation {
        graph  : g,
        target : self.target,
        opts   : self.opts,
        tracer : tracer,
    }

    /* assign the locations */
    if err := self.assign(ctx); err != nil {
        return &Result { Liveness: ctx.la }, err
    }

    /* resolve the locations */
    for _, p := range Passes {
        ctx.tracer.Event("pass", "name", p.Name)
        if err := p.Pass.Apply(ctx); err != nil {
            return &Result { Strategy: ctx.strategy, Liveness: ctx.la }, err
        }
    }

    /* collect the results */
    ret := &Result {
        Strategy   : ctx.strategy,
        StackSlots : ctx.slots,
        Immediates : ctx.imms,
        CallSites  : ctx.calls,
        Layout     : ctx.layout,
        Liveness   : ctx.la,
        Stats      : ctx.stats,
    }

    /* registers written by the function */
    ret.UsedRegs, ret.UsedFpRegs = usedRegisters(g, self.target)
    ctx.tracer.Event("done", "graph", g.Name, "strategy", ret.Strategy, "slots", ret.StackSlots, "stats", ret.Stats)
    return ret, nil
}

func (self *Allocator) liveness(ctx *allocation) error {
    ctx.la = NewLivenessAnalyzer(ctx.graph, ctx.target)
    return ctx.la.Run()
}

func (self *Allocator) assign(ctx *allocation) error {
    if err := self.liveness(ctx); err != nil {
        return err
    }

    /* try graph coloring first if requested */
    if self.opts.Strategy == opts.GraphColoring {
        stats := Stats{}
        gc := NewGraphColoring(ctx.la, self.opts, ctx.tracer.Scope("graph-coloring"), &stats)

        /* successfully colored */
        if gc.Run() {
            ctx.stats = stats
            ctx.slots = gc.StackSlots()
            ctx.imms = gc.Immediates()
            ctx.strategy = opts.GraphColoring
            return nil
        }

        /* no fallback allowed */
        if !self.opts.Fallback {
            return fmt.Errorf("%w: %s: graph coloring gave up", ErrAllocationFailed, ctx.graph.Name)
        }

        /* start over with fresh intervals */
        ctx.tracer.Event("fallback", "graph", ctx.graph.Name, "strategy", opts.LinearScan)
        if err := self.liveness(ctx); err != nil {
            return err
        }
    }

    /* linear scan */
    ls := NewLinearScan(ctx.la, self.opts, ctx.tracer.Scope("linear-scan"), &ctx.stats)
    if !ls.Run() {
        return fmt.Errorf("%w: %s: linear scan gave up", ErrAllocationFailed, ctx.graph.Name)
    }

    /* save the results */
    ctx.slots = ls.StackSlots()
    ctx.imms = ls.Immediates()
    ctx.strategy = opts.LinearScan
    return nil
}

type (
    SplitResolution      struct{}
    CatchSynchronization struct{}
    LocationBinding      struct{}
    SpillFillResolution  struct{}
    CallSiteRegisters    struct{}
    Verification         struct{}
)

func (SplitResolution) Apply(ctx *allocation) error {
    sr := NewSplitResolver(ctx.la, ctx.tracer)
    sr.Run()
    ctx.layout = sr.Layout()
    return nil
}

func (CatchSynchronization) Apply(ctx *allocation) error {
    NewSplitResolver(ctx.la, ctx.tracer).SyncCatches()
    return nil
}

func (LocationBinding) Apply(ctx *allocation) error {
    BindLocations(ctx.la, ctx.tracer)
    return nil
}

func (SpillFillResolution) Apply(ctx *allocation) error {
    slot := ctx.slots + ctx.slots % 2
    sfr := NewSpillFillsResolver(ctx.target, ctx.opts, ir.StackSlot(slot))

    /* resolve every bundle */
    sfr.ResolveGraph(ctx.graph)
    ctx.stats.Moves = sfr.Moves()

    /* the cycle breaking slot is part of the frame, wide enough for a pair */
    if sfr.UsesStackSlot() {
        ctx.slots = slot + 2
    }
    return nil
}

func (CallSiteRegisters) Apply(ctx *allocation) error {
    tree := BuildLifeIntervalsTree(ctx.la)
    ctx.calls = make(map[int]CallSite)

    /* registers live across every call, the result excluded */
    for _, bb := range ctx.la.LinearBlocks() {
        for _, p := range bb.Ins {
            if p.Op.IsCall() {
                gp, fp := tree.LiveRegisters(ctx.la.GetInstLifeNumber(p), p)
                ctx.calls[p.Id] = CallSite { Gp: gp, Fp: fp }
            }
        }
    }
    return nil
}

func (Verification) Apply(ctx *allocation) error {
    if ctx.opts.Verify {
        return NewVerifier(ctx.la, ctx.imms).Run()
    } else {
        return nil
    }
}

// usedRegisters collects every register the annotated graph touches.
func usedRegisters(g *ir.Graph, target *arch.Target) (gp arch.RegMask, fp arch.RegMask) {
    add := func(loc ir.Location, typ ir.DataType) {
        for _, atom := range atomsOf(target, loc, typ) {
            switch {
                case atom.IsRegister()   : gp = gp.Set(atom.Index())
                case atom.IsFpRegister() : fp = fp.Set(atom.Index())
            }
        }
    }

    /* scan every instruction */
    for _, bb := range g.Blocks {
        for _, p := range append(append([]*ir.Inst(nil), bb.Phis...), bb.Ins...) {
            if p.IsSpillFill() {
                for _, mv := range p.SpillFill.Moves {
                    add(mv.Src, mv.Type)
                    add(mv.Dst, mv.Type)
                }
                continue
            }

            /* results, operands and scratch registers */
            add(p.Dst, p.Type)
            for _, in := range p.Inputs {
                add(in.Loc, in.Value.Type)
            }
            for _, loc := range p.Temps {
                add(loc, ir.Int32)
            }
        }
    }
    return
}
