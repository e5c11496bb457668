// Copyright 2022 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command lsra-stress allocates randomly generated graphs with the verifier
// enabled and reports the first graph that fails.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cloudwego/lsra/internal/arch"
	"github.com/cloudwego/lsra/internal/irgen"
	"github.com/cloudwego/lsra/internal/opts"
	"github.com/cloudwego/lsra/internal/regalloc"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// ErrStressFailed is returned when at least one graph failed to allocate.
var ErrStressFailed = errors.New("stress run failed")

type stressFlags struct {
	target   string
	regs     int
	fpRegs   int
	seed     int64
	graphs   int
	strategy string
	config   string
	svg      string
	catches  bool
	trace    bool
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	var fl stressFlags
	rootCmd := &cobra.Command{
		Use:   "lsra-stress",
		Short: "lsra-stress allocates random graphs and checks the result",
		Long: `lsra-stress generates random structured graphs, runs the register
allocator on each of them with the verifier enabled and reports every
graph that fails to allocate or verify.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return stress(out, errOut, fl)
		},
	}

	rootCmd.Flags().StringVar(&fl.target, "target", "synthetic", "target name: amd64, amd64-avx512, arm64, arm32, host or synthetic")
	rootCmd.Flags().IntVar(&fl.regs, "regs", 4, "allocatable general purpose registers of the synthetic target")
	rootCmd.Flags().IntVar(&fl.fpRegs, "fp-regs", 2, "allocatable floating point registers of the synthetic target")
	rootCmd.Flags().Int64Var(&fl.seed, "seed", 1, "seed of the first graph")
	rootCmd.Flags().IntVar(&fl.graphs, "graphs", 100, "number of graphs to allocate")
	rootCmd.Flags().StringVar(&fl.strategy, "strategy", "", "allocation strategy, overrides the configuration")
	rootCmd.Flags().StringVar(&fl.config, "config", "", "YAML option file")
	rootCmd.Flags().StringVar(&fl.svg, "svg", "", "directory receiving an interval picture of every failed graph")
	rootCmd.Flags().BoolVar(&fl.catches, "catches", false, "generate exception handlers")
	rootCmd.Flags().BoolVar(&fl.trace, "trace", false, "trace the allocator to stderr")
	return rootCmd
}

func loadOptions(fl stressFlags) (opts.Options, error) {
	o := opts.GetDefaultOptions()
	if fl.config != "" {
		var err error
		if o, err = opts.LoadFile(fl.config); err != nil {
			return o, err
		}
	}

	// flags win over the file
	if fl.strategy != "" {
		s, err := opts.ParseStrategy(fl.strategy)
		if err != nil {
			return o, err
		}
		o.Strategy = s
	}

	o.Verify = true
	o.Trace = o.Trace || fl.trace
	return o, o.Validate()
}

func loadTarget(fl stressFlags) (*arch.Target, error) {
	if fl.target == "synthetic" {
		if fl.regs < 2 {
			return nil, fmt.Errorf("--regs must be at least 2, got %d", fl.regs)
		}
		return arch.Synthetic(fl.regs, fl.fpRegs), nil
	}

	tr, ok := arch.ByName(fl.target)
	if !ok {
		return nil, fmt.Errorf("unknown target %q", fl.target)
	}
	return tr, nil
}

func stress(out, errOut io.Writer, fl stressFlags) error {
	o, err := loadOptions(fl)
	if err != nil {
		return err
	}

	tr, err := loadTarget(fl)
	if err != nil {
		return err
	}

	cfg := irgen.DefaultConfig()
	cfg.Catches = fl.catches
	alloc := regalloc.NewAllocator(tr, o)
	alloc.SetTraceOutput(errOut)

	var total regalloc.Stats
	failed := 0
	for i := 0; i < fl.graphs; i++ {
		seed := fl.seed + int64(i)
		g := irgen.New(seed, cfg).Generate(fmt.Sprintf("stress_%d", seed))
		res, err := alloc.Allocate(g)
		if err != nil {
			failed++
			fmt.Fprintf(errOut, "lsra-stress: seed %d: %v\n", seed, err)
			if fl.svg != "" && res != nil && res.Liveness != nil {
				if err := drawFailure(fl.svg, seed, res.Liveness); err != nil {
					return err
				}
			}
			continue
		}

		total.Spills += res.Stats.Spills
		total.Splits += res.Stats.Splits
		total.Evictions += res.Stats.Evictions
		total.Moves += res.Stats.Moves
	}

	fmt.Fprintf(out, "target=%s graphs=%d failed=%d %s\n", tr.Name, fl.graphs, failed, total)
	if failed != 0 {
		return fmt.Errorf("%w: %d of %d graphs", ErrStressFailed, failed, fl.graphs)
	}
	return nil
}

func drawFailure(dir string, seed int64, la *regalloc.LivenessAnalyzer) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	fp, err := os.Create(filepath.Join(dir, fmt.Sprintf("stress_%d.svg", seed)))
	if err != nil {
		return err
	}

	regalloc.DrawIntervals(fp, la)
	return fp.Close()
}
