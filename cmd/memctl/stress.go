package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/joshuapare/memkit/internal/contract"
	"github.com/joshuapare/memkit/memory/heap"
	"github.com/joshuapare/memkit/memory/objalloc"
	"github.com/joshuapare/memkit/pkg/memkit"
)

var (
	stressOps     int
	stressSeed    uint64
	stressMaxSize int
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVarP(&stressOps, "ops", "n", 10000, "Number of operations to run")
	cmd.Flags().Uint64Var(&stressSeed, "seed", 1, "Random seed for the workload")
	cmd.Flags().IntVar(&stressMaxSize, "max-size", 4096, "Largest arena allocation in bytes")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a synthetic workload and report allocator state",
		Long: `The stress command drives every allocator at once: object pools for DOM
and render objects, script arenas (two isolated slots plus a shared
fallback), JS heap blocks and graphics buffers. Exhaustion is counted
rather than fatal. A low-memory response runs whenever the host reports
low memory and once before the final report.

Example:
  memctl stress
  memctl stress -n 100000 --seed 7 --json
  memctl stress --constrained --emulated`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
	return cmd
}

// StressResult is the stress command's result.
type StressResult struct {
	Ops       int            `json:"ops"`
	Failures  map[string]int `json:"failures"`
	LowMemory int            `json:"low_memory_responses"`
	Reclaimed int            `json:"chunks_reclaimed"`
	Elapsed   time.Duration  `json:"elapsed_ns"`
	Report    memkit.Report  `json:"report"`
}

type arenaBlock struct {
	arena *memkit.Arena
	ref   heap.Ref
}

type poolObject struct {
	pool *objalloc.Pool
	ref  objalloc.Ref
}

// workload holds everything the stress loop has allocated.
type workload struct {
	sys      *memkit.System
	rng      *rand.Rand
	arenas   []*memkit.Arena
	pools    []*objalloc.Pool
	blocks   []arenaBlock
	objects  []poolObject
	jsBlocks [][]byte
	buffers  [][]byte
	failures map[string]int
}

func newWorkload(sys *memkit.System, seed uint64) (*workload, error) {
	w := &workload{
		sys:      sys,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		failures: make(map[string]int),
	}
	for range 3 {
		a, err := sys.NewScriptArena()
		if err != nil {
			return nil, fmt.Errorf("failed to create arena: %w", err)
		}
		w.arenas = append(w.arenas, a)
	}
	for _, shape := range []struct {
		name           string
		size, capacity int
	}{
		{"dom", 64, 4096},
		{"render", 192, 1024},
		{"style", 24, 8192},
	} {
		p, err := sys.CreatePool(shape.name, shape.size, shape.capacity)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool %s: %w", shape.name, err)
		}
		w.pools = append(w.pools, p)
	}
	return w, nil
}

// fail counts an exhaustion; anything else aborts the run.
func (w *workload) fail(kind string, err error) error {
	if errors.Is(err, contract.ErrViolation) {
		return err
	}
	w.failures[kind]++
	return nil
}

func (w *workload) step() error {
	switch op := w.rng.IntN(10); {
	case op < 4:
		return w.poolStep()
	case op < 8:
		return w.arenaStep()
	case op < 9:
		return w.jsStep()
	default:
		return w.gfxStep()
	}
}

func (w *workload) poolStep() error {
	if len(w.objects) > 0 && w.rng.IntN(2) == 0 {
		i := w.rng.IntN(len(w.objects))
		o := w.objects[i]
		w.objects[i] = w.objects[len(w.objects)-1]
		w.objects = w.objects[:len(w.objects)-1]
		return o.pool.Release(o.ref)
	}
	p := w.pools[w.rng.IntN(len(w.pools))]
	ref, b, err := p.Get()
	if err != nil {
		return w.fail("pool", err)
	}
	b[0] = byte(ref)
	w.objects = append(w.objects, poolObject{pool: p, ref: ref})
	return nil
}

func (w *workload) arenaStep() error {
	if len(w.blocks) > 0 && w.rng.IntN(2) == 0 {
		i := w.rng.IntN(len(w.blocks))
		blk := w.blocks[i]
		w.blocks[i] = w.blocks[len(w.blocks)-1]
		w.blocks = w.blocks[:len(w.blocks)-1]
		return blk.arena.Free(blk.ref)
	}
	a := w.arenas[w.rng.IntN(len(w.arenas))]
	ref, b, err := a.Malloc(1 + w.rng.IntN(stressMaxSize))
	if err != nil {
		return w.fail("arena", err)
	}
	clear(b)
	w.blocks = append(w.blocks, arenaBlock{arena: a, ref: ref})
	return nil
}

func (w *workload) jsStep() error {
	if len(w.jsBlocks) > 4 || (len(w.jsBlocks) > 0 && w.rng.IntN(2) == 0) {
		b := w.jsBlocks[0]
		w.jsBlocks = w.jsBlocks[1:]
		return w.sys.FreeJSBlock(b)
	}
	b, err := w.sys.AllocateJSBlock(16 << 10 << w.rng.IntN(3))
	if err != nil {
		return w.fail("js", err)
	}
	w.jsBlocks = append(w.jsBlocks, b)
	return nil
}

func (w *workload) gfxStep() error {
	if len(w.buffers) > 8 || (len(w.buffers) > 0 && w.rng.IntN(2) == 0) {
		b := w.buffers[len(w.buffers)-1]
		w.buffers = w.buffers[:len(w.buffers)-1]
		return w.sys.FreeGraphics(b)
	}
	b, err := w.sys.AllocateGraphics(1 + w.rng.IntN(256<<10))
	if err != nil {
		return w.fail("gfx", err)
	}
	w.buffers = append(w.buffers, b)
	return nil
}

// drain frees everything still held.
func (w *workload) drain() error {
	for _, o := range w.objects {
		if err := o.pool.Release(o.ref); err != nil {
			return err
		}
	}
	for _, blk := range w.blocks {
		if err := blk.arena.Free(blk.ref); err != nil {
			return err
		}
	}
	for _, b := range w.jsBlocks {
		if err := w.sys.FreeJSBlock(b); err != nil {
			return err
		}
	}
	for _, b := range w.buffers {
		if err := w.sys.FreeGraphics(b); err != nil {
			return err
		}
	}
	w.objects, w.blocks, w.jsBlocks, w.buffers = nil, nil, nil, nil
	return nil
}

func runStress() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.AllocationCanFail = true

	sys, err := memkit.New(newVM(), cfg)
	if err != nil {
		return fmt.Errorf("failed to start memory system: %w", err)
	}
	defer func() { _ = sys.Close() }()

	w, err := newWorkload(sys, stressSeed)
	if err != nil {
		return err
	}

	printVerbose("Running %d operations (seed %d)\n", stressOps, stressSeed)
	res := StressResult{Ops: stressOps}
	start := time.Now()
	for i := range stressOps {
		if err := w.step(); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		if i%1000 == 999 && sys.Manager().IsLowMemory() {
			res.Reclaimed += sys.ReportLowMemory().ChunksReclaimed
			res.LowMemory++
		}
	}
	res.Elapsed = time.Since(start)

	// Snapshot at peak, then release everything and reclaim.
	res.Report = sys.Report()
	if err := w.drain(); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	res.Reclaimed += sys.ReportLowMemory().ChunksReclaimed
	res.LowMemory++
	res.Failures = w.failures

	if jsonOut {
		return printJSON(res)
	}
	printInfo("\nStress run: %d operations in %s\n", res.Ops, res.Elapsed.Round(time.Millisecond))
	for _, kind := range []string{"pool", "arena", "js", "gfx"} {
		printInfo("  %-6s failures: %d\n", kind, res.Failures[kind])
	}
	printInfo("  low-memory responses: %d, chunks reclaimed: %d\n", res.LowMemory, res.Reclaimed)
	printInfo("\nAt peak:\n")
	printInfo("%s", res.Report.Format(language.English))
	return nil
}
