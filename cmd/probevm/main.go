// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// Command probevm is a thin embedding driver for the execution core: it has
// no lexer or parser (those are out of scope, spec.md §1), so "run" and
// "step" both execute a chunk built directly in Go rather than compiled
// from source text. It exists to exercise the VM, the GC, and the JIT from
// the command line and to print the statistics they accumulate.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"
	"gopkg.in/urfave/cli.v1"

	"github.com/probelang/corevm/internal/bytecode"
	"github.com/probelang/corevm/internal/config"
	"github.com/probelang/corevm/internal/heap"
	"github.com/probelang/corevm/internal/interpreter"
	"github.com/probelang/corevm/internal/jit"
	"github.com/probelang/corevm/internal/nativeext"
	"github.com/probelang/corevm/internal/rtlog"
	"github.com/probelang/corevm/internal/scheduler"
	"github.com/probelang/corevm/internal/value"
	"github.com/probelang/corevm/internal/vmcore"
)

var (
	configFlag = cli.StringFlag{Name: "config", Usage: "path to a TOML configuration file"}
	noJITFlag  = cli.BoolFlag{Name: "no-jit", Usage: "disable the template JIT regardless of config"}
	nFlag      = cli.IntFlag{Name: "n", Value: 100, Usage: "how many times to re-run the demo sum(1..50) chunk"}
)

func main() {
	app := cli.NewApp()
	app.Name = "probevm"
	app.Usage = "run and single-step PROBE VM chunks"
	app.Version = "0.1.0"
	app.Commands = []cli.Command{runCommand, stepCommand, disasmCommand}

	if err := app.Run(os.Args); err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var runCommand = cli.Command{
	Name:   "run",
	Usage:  "execute the demo chunk to completion and print its result plus GC statistics",
	Flags:  []cli.Flag{configFlag, noJITFlag, nFlag},
	Action: runAction,
}

var stepCommand = cli.Command{
	Name:   "step",
	Usage:  "single-step the demo chunk interactively",
	Flags:  []cli.Flag{configFlag, noJITFlag, nFlag},
	Action: stepAction,
}

var disasmCommand = cli.Command{
	Name:   "disasm",
	Usage:  "print the demo chunk's disassembly and exit",
	Flags:  []cli.Flag{nFlag},
	Action: disasmAction,
}

func loadConfig(ctx *cli.Context) config.Config {
	if p := ctx.String("config"); p != "" {
		cfg, err := config.Load(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, color.YellowString("config: %v (falling back to defaults)", err))
			return config.Default()
		}
		return cfg
	}
	return config.Default()
}

// machine bundles everything newMachine wires together: a heap, a VM, an
// interpreter whose scheduler's Runner closes over that interpreter, and
// the bridge's default builtins in global scope.
type machine struct {
	cfg    config.Config
	heap   *heap.Heap
	vm     *vmcore.VM
	interp *interpreter.Interp
	log    *rtlog.Logger
}

func newMachine(ctx *cli.Context) *machine {
	cfg := loadConfig(ctx)
	log := rtlog.Default()

	h := heap.New(cfg.GC.NurseryThreshold, cfg.GC.MajorWatermark)
	vm := vmcore.NewWithLimits(h, cfg.Limits.StackSize, cfg.Limits.MaxFrames)

	var interp *interpreter.Interp
	sched := scheduler.New(func(fn *heap.Function, args []value.Value) (value.Value, error) {
		return interp.Run(fn, args)
	})
	vm.TaskRoots = sched.PendingArgs
	interp = interpreter.New(vm, sched, func(s string) { fmt.Println(s) })
	interp.HotThreshold = cfg.JIT.HotThreshold

	if cfg.JIT.Enabled && !ctx.Bool("no-jit") {
		interp.SetJIT(jit.NewCache(cfg.JIT.CacheEntries))
	}

	n := nativeext.Register(h, vm.Globals, nativeext.Default())
	log.Info("registered native builtins", "count", n)

	return &machine{cfg: cfg, heap: h, vm: vm, interp: interp, log: log}
}

// demoLoopBound is the fixed upper bound baked into every demo chunk. The
// same Chunk (and hence the same hot counters) is reused across repeated
// Run calls so the JIT threshold is something a short demo can actually
// reach.
const demoLoopBound = 50

func (m *machine) demoFunction() *heap.Function {
	chunk := sumLoopChunk(demoLoopBound)
	return m.heap.NewFunction(heap.Function{Name: chunk.Name(), Chunk: chunk})
}

func runAction(ctx *cli.Context) error {
	m := newMachine(ctx)
	fn := m.demoFunction()
	reps := ctx.Int("n")
	if reps < 1 {
		reps = 1
	}

	var result value.Value
	var err error
	for i := 0; i < reps; i++ {
		result, err = m.interp.Run(fn, nil)
		if err != nil {
			break
		}
	}
	if err != nil {
		m.log.Error("run failed", "err", err)
		return err
	}
	fmt.Printf("result: %s\n", interpreter.Diagnostic(result))
	printStats(m)
	return nil
}

func disasmAction(ctx *cli.Context) error {
	chunk := sumLoopChunk(demoLoopBound)
	fmt.Print(chunk.Disassemble())
	return nil
}

// stepAction re-runs the same demo chunk once per liner prompt, so its
// hot counters accumulate across steps the way repeated calls from a
// long-lived guest program would. The interpreter's dispatch loop is
// unexported, so a "step" here is one whole Run rather than one opcode;
// it still lets a user watch the hot count cross the JIT threshold and
// the chunk get a compiled entry point installed (the jit-compiled flag).
func stepAction(ctx *cli.Context) error {
	m := newMachine(ctx)
	fn := m.demoFunction()
	reps := ctx.Int("n")
	if reps < 1 {
		reps = 1
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Printf("probevm step: press enter to run sum(1..%d) again, 'q' to quit (%d reps available)\n", demoLoopBound, reps)
	for i := 1; i <= reps; i++ {
		input, err := line.Prompt(fmt.Sprintf("[call %d/%d] > ", i, reps))
		if err != nil {
			break
		}
		if input == "q" {
			break
		}
		result, err := m.interp.Run(fn, nil)
		if err != nil {
			m.log.Error("step failed", "call", i, "err", err)
			color.Red("error: %v", err)
			continue
		}
		_, compiled := fn.Chunk.(*bytecode.Chunk).Compiled()
		fmt.Printf("call %d: sum(1..%d) = %s  jit-compiled=%v\n", i, demoLoopBound, interpreter.Diagnostic(result), compiled)
	}
	printStats(m)
	return nil
}

func printStats(m *machine) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"metric", "value"})
	table.Append([]string{"minor collections", fmt.Sprint(m.heap.Stats.MinorCollections)})
	table.Append([]string{"major collections", fmt.Sprint(m.heap.Stats.MajorCollections)})
	table.Append([]string{"total pause (ns)", fmt.Sprint(m.heap.Stats.TotalPause)})
	table.Append([]string{"peak RSS (bytes)", fmt.Sprint(m.heap.Stats.PeakRSS)})
	table.Append([]string{"phase", fmt.Sprint(m.heap.Phase())})
	table.Append([]string{"heap used (bytes)", fmt.Sprint(m.heap.Used())})
	table.Render()
}
