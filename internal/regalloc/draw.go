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

    `github.com/ajstarks/svgo`
    `github.com/cloudwego/lsra/internal/ir`
)

const (
    _DrawRowHeight = 24
    _DrawMargin    = 100
)

func drawColorOf(loc ir.Location) string {
    switch {
        case loc.IsRegister()   : return "black"
        case loc.IsFpRegister() : return "royalblue"
        case loc.IsMemory()     : return "darkorange"
        case loc.IsImmediate()  : return "seagreen"
        default                 : return "lightgray"
    }
}

func drawLabelOf(la *LivenessAnalyzer, ln LifeNumber) string {
    if la.IsBlockStart(ln) {
        return la.BlockAt(ln).String() + ":"
    } else if p := la.GetInstByLifeNumber(ln); p != nil {
        return strings.TrimSpace(p.String())
    } else {
        return ""
    }
}

// DrawIntervals renders the intervals of `la` as an SVG picture, one row per
// life number and one column per value or blocked register. Each sibling is
// drawn in the color of its location kind.
func DrawIntervals(w io.Writer, la *LivenessAnalyzer) {
    maxi := 0
    rows := int(la.MaxLifeNumber() / LifeNumberGap)
    cols := append(la.Intervals(), la.PhysicalIntervals()...)

    /* measure the instruction column */
    for i := 0; i < rows; i++ {
        if n := len(drawLabelOf(la, LifeNumber(i * LifeNumberGap))); n > maxi {
            maxi = n
        }
    }

    /* the text column and each interval column */
    insw := maxi * 9 + 120
    colw := 48
    yOf := func(ln LifeNumber) int { return _DrawMargin + int(ln) * _DrawRowHeight / LifeNumberGap }

    /* start the picture */
    p := svg.New(w)
    p.Start(len(cols) * colw + insw + _DrawMargin, rows * _DrawRowHeight + _DrawMargin * 2)
    p.Rect(0, 0, len(cols) * colw + insw + _DrawMargin, rows * _DrawRowHeight + _DrawMargin * 2, "fill:white")

    /* instruction rows */
    for i := 0; i < rows; i++ {
        ln := LifeNumber(i * LifeNumberGap)
        y := yOf(ln)

        /* block separators */
        if la.IsBlockStart(ln) {
            p.Line(10, y - _DrawRowHeight / 2, len(cols) * colw + insw + 50, y - _DrawRowHeight / 2, "stroke:lightgray")
            p.Text(16, y + 5, drawLabelOf(la, ln), "fill:gray;font-size:16px;font-family:monospace")
        } else {
            p.Text(insw, y + 5, drawLabelOf(la, ln), "fill:black;font-size:16px;font-family:monospace;text-anchor:end")
        }

        /* the row itself */
        p.Text(insw + 20, y + 5, fmt.Sprint(ln), "fill:gray;font-size:10px;font-family:monospace;text-anchor:middle")
    }

    /* interval columns */
    for i, iv := range cols {
        var name string
        x := insw + _DrawMargin / 2 + i * colw

        /* column title */
        if !iv.IsPhysical() {
            name = fmt.Sprintf("v%d", iv.Inst().Id)
        } else {
            name = iv.Location().String()
        }

        /* draw every sibling */
        p.Text(x, _DrawMargin - 30, name, "fill:black;font-size:14px;font-family:monospace;text-anchor:middle")
        for it := iv; it != nil; it = it.Sibling() {
            color := drawColorOf(it.Location())

            /* live ranges */
            for _, r := range it.Ranges() {
                p.Line(x, yOf(r.Begin), x, yOf(r.End), fmt.Sprintf("stroke:%s;stroke-width:3", color))
            }

            /* location of the sibling */
            if it.Location().IsValid() && !it.IsPhysical() {
                p.Text(x + 6, yOf(it.Begin()) + 12, it.Location().String(), fmt.Sprintf("fill:%s;font-size:10px;font-family:monospace", color))
            }

            /* use positions, register uses are filled */
            for _, u := range it.Uses() {
                if u.Reg {
                    p.Circle(x, yOf(u.Ln), 4, fmt.Sprintf("fill:%s;stroke:%s;stroke-width:2", color, color))
                } else {
                    p.Circle(x, yOf(u.Ln), 4, fmt.Sprintf("fill:white;stroke:%s;stroke-width:2", color))
                }
            }
        }
    }

    /* finish the picture */
    p.End()
}
