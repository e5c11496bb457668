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

    `github.com/chenzhuoyu/iasm/x86_64`
    `github.com/cloudwego/lsra/internal/arch`
    `github.com/cloudwego/lsra/internal/ir`
    `github.com/stretchr/testify/require`
)

func TestABI_AMD64Parameters(t *testing.T) {
    var ps []*ir.Inst
    g := ir.NewGraph("params")
    b := ir.NewBuilder(g)

    /* seven integers and a float */
    for i := 0; i < 7; i++ {
        ps = append(ps, b.Param(i, ir.Int64))
    }
    f := b.Param(7, ir.Float64)
    b.Return(ps[0])
    require.NoError(t, AssignABI(g, arch.AMD64()))

    /* the first six go in registers, the rest on the stack */
    require.Equal(t, []ir.Location {
        ir.Register(int(x86_64.RDI)),
        ir.Register(int(x86_64.RSI)),
        ir.Register(int(x86_64.RDX)),
        ir.Register(int(x86_64.RCX)),
        ir.Register(int(x86_64.R8)),
        ir.Register(int(x86_64.R9)),
        ir.StackParameter(0),
    }, []ir.Location { ps[0].Dst, ps[1].Dst, ps[2].Dst, ps[3].Dst, ps[4].Dst, ps[5].Dst, ps[6].Dst })
    require.Equal(t, ir.FpRegister(0), f.Dst)

    /* the result goes back in rax */
    ret := g.Entry.Terminator()
    require.Equal(t, ir.Register(int(x86_64.RAX)), ret.Inputs[0].Fixed)
}

func TestABI_ARM32Pairs(t *testing.T) {
    g := ir.NewGraph("pairs")
    b := ir.NewBuilder(g)
    p0 := b.Param(0, ir.Int32)
    p1 := b.Param(1, ir.Int64)
    p2 := b.Param(2, ir.Int32)
    p3 := b.Param(3, ir.Float64)
    b.Return(p1)
    require.NoError(t, AssignABI(g, arch.ARM32()))

    /* pairs start at even registers and even stack offsets */
    require.Equal(t, ir.Register(0), p0.Dst)
    require.Equal(t, ir.Register(2), p1.Dst)
    require.Equal(t, ir.StackParameter(0), p2.Dst)
    require.Equal(t, ir.StackParameter(2), p3.Dst)
}

func TestABI_Calls(t *testing.T) {
    g := ir.NewGraph("calls")
    b := ir.NewBuilder(g)
    fn := b.Param(0, ir.Ref)
    x := b.Param(1, ir.Int32)
    y := b.Param(2, ir.Float64)
    c := b.CallIndirect(ir.Float64, fn, x, y)
    v := b.Call(ir.Void, x)
    b.Return(c)
    require.NoError(t, AssignABI(g, arch.AMD64()))

    /* the target goes in its own register, arguments follow the convention */
    require.Equal(t, ir.Register(int(x86_64.R10)), c.Inputs[0].Fixed)
    require.Equal(t, ir.Register(int(x86_64.RDI)), c.Inputs[1].Fixed)
    require.Equal(t, ir.FpRegister(0), c.Inputs[2].Fixed)
    require.Equal(t, ir.FpRegister(0), c.Dst)
    require.Equal(t, ir.Register(int(x86_64.RDI)), v.Inputs[0].Fixed)
    require.False(t, v.Dst.IsValid())
}

func TestABI_ZeroRegister(t *testing.T) {
    g := ir.NewGraph("zero")
    b := ir.NewBuilder(g)
    z := b.Const(ir.Int32, 0)
    n := b.Const(ir.Int32, 1)
    f := b.Const(ir.Float64, 0)
    b.Store(b.Param(0, ir.Ref), f)
    b.Return(b.Add(z, n))
    require.NoError(t, AssignABI(g, arch.ARM64()))

    /* only integer zeros are bound to xzr */
    require.Equal(t, ir.Register(31), z.Dst)
    require.Equal(t, "xzr", arch.ARM64().GpName(31))
    require.False(t, n.Dst.IsValid())
    require.False(t, f.Dst.IsValid())
}

func TestABI_MissingParameter(t *testing.T) {
    g := ir.NewGraph("missing")
    b := ir.NewBuilder(g)
    b.Param(0, ir.Int32)
    b.Return(b.Param(2, ir.Int32))
    require.EqualError(t, AssignABI(g, arch.AMD64()), "regalloc: parameter 1 of missing is missing or duplicated")
}
