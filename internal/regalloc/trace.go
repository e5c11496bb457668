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
    `io`
    `strings`

    `github.com/davecgh/go-spew/spew`
)

var traceConfig = spew.ConfigState {
    Indent                  : "    ",
    MaxDepth                : 4,
    DisablePointerAddresses : true,
    DisableCapacities       : true,
    SortKeys                : true,
}

// Tracer writes allocator events as `name key=value ...` lines. A nil Tracer,
// or one without a writer, discards everything.
type Tracer struct {
    w     io.Writer
    scope string
}

func NewTracer(w io.Writer) *Tracer {
    return &Tracer { w: w }
}

func (self *Tracer) Enabled() bool {
    return self != nil && self.w != nil
}

// Scope returns a tracer that prefixes every event with `name`.
func (self *Tracer) Scope(name string) *Tracer {
    if !self.Enabled() {
        return self
    } else if self.scope == "" {
        return &Tracer { w: self.w, scope: name }
    } else {
        return &Tracer { w: self.w, scope: self.scope + "." + name }
    }
}

func (self *Tracer) Event(name string, kv ...interface{}) {
    var sb strings.Builder
    if !self.Enabled() {
        return
    }

    /* event name */
    if self.scope != "" {
        sb.WriteString(self.scope)
        sb.WriteByte('.')
    }

    /* key-value pairs */
    sb.WriteString(name)
    for i := 0; i + 1 < len(kv); i += 2 {
        fmt.Fprintf(&sb, " %v=%v", kv[i], kv[i + 1])
    }

    /* odd argument count */
    if len(kv) % 2 != 0 {
        fmt.Fprintf(&sb, " %v=<missing>", kv[len(kv) - 1])
    }

    /* write the line */
    sb.WriteByte('\n')
    _, _ = io.WriteString(self.w, sb.String())
}

// Dump writes a structural dump of `v` under the heading `name`.
func (self *Tracer) Dump(name string, v interface{}) {
    if self.Enabled() {
        self.Event(name)
        traceConfig.Fdump(self.w, v)
    }
}
