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
    `fmt`
)

type LocationKind uint8

const (
    LocInvalid LocationKind = iota
    LocRegister
    LocFpRegister
    LocStackSlot
    LocStackParameter
    LocStackArgument
    LocImmediate
)

// Location is where a value lives at a program point. It is a plain value and
// compares with ==.
type Location struct {
    Kind  LocationKind
    Value int32
}

var Invalid = Location{}

func Register(r int) Location       { return Location { LocRegister, int32(r) } }
func FpRegister(r int) Location     { return Location { LocFpRegister, int32(r) } }
func StackSlot(s int) Location      { return Location { LocStackSlot, int32(s) } }
func StackParameter(s int) Location { return Location { LocStackParameter, int32(s) } }
func StackArgument(s int) Location  { return Location { LocStackArgument, int32(s) } }
func Immediate(s int) Location      { return Location { LocImmediate, int32(s) } }

func (self Location) IsValid() bool          { return self.Kind != LocInvalid }
func (self Location) IsRegister() bool       { return self.Kind == LocRegister }
func (self Location) IsFpRegister() bool     { return self.Kind == LocFpRegister }
func (self Location) IsStackSlot() bool      { return self.Kind == LocStackSlot }
func (self Location) IsStackParameter() bool { return self.Kind == LocStackParameter }
func (self Location) IsStackArgument() bool  { return self.Kind == LocStackArgument }
func (self Location) IsImmediate() bool      { return self.Kind == LocImmediate }

func (self Location) IsAnyRegister() bool {
    return self.Kind == LocRegister || self.Kind == LocFpRegister
}

// IsMemory reports stack locations of any flavour.
func (self Location) IsMemory() bool {
    switch self.Kind {
        case LocStackSlot, LocStackParameter, LocStackArgument : return true
        default                                                : return false
    }
}

func (self Location) Index() int {
    return int(self.Value)
}

// Offset returns the same kind of location `n` units further.
func (self Location) Offset(n int) Location {
    return Location { self.Kind, self.Value + int32(n) }
}

func (self Location) String() string {
    switch self.Kind {
        case LocInvalid        : return "invalid"
        case LocRegister       : return fmt.Sprintf("r%d", self.Value)
        case LocFpRegister     : return fmt.Sprintf("f%d", self.Value)
        case LocStackSlot      : return fmt.Sprintf("s%d", self.Value)
        case LocStackParameter : return fmt.Sprintf("p%d", self.Value)
        case LocStackArgument  : return fmt.Sprintf("a%d", self.Value)
        case LocImmediate      : return fmt.Sprintf("imm%d", self.Value)
        default                : panic("invalid location kind")
    }
}
