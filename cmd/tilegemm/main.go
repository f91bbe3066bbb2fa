package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/openfluke/tilegemm/detector"
	"github.com/openfluke/tilegemm/gpu"
	"github.com/openfluke/tilegemm/matio"
	"github.com/openfluke/tilegemm/plan"
	"github.com/openfluke/tilegemm/sim"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: tilegemm <command> [flags]

commands:
  probe   print the device capability report as JSON
  plan    validate a tiling and print the derived execution plan
  run     execute a tiled multiply on the sim or gpu backend`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "probe":
		cmdProbe()
	case "plan":
		cmdPlan(os.Args[2:])
	case "run":
		cmdRun(os.Args[2:])
	default:
		usage()
	}
}

func cmdProbe() {
	out, err := detector.DetectJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

// tilingFlags registers the shared problem/config flags.
func tilingFlags(fs *flag.FlagSet) (m, n, k *int, cfg *plan.Config) {
	def := plan.DefaultConfig()
	m = fs.Int("m", 1024, "rows of A and C")
	n = fs.Int("n", 1024, "columns of B and C")
	k = fs.Int("k", 1024, "reduction depth")
	cfg = &plan.Config{}
	fs.IntVar(&cfg.TileBlockY, "tby", def.TileBlockY, "threads per block, row axis")
	fs.IntVar(&cfg.TileBlockX, "tbx", def.TileBlockX, "threads per block, column axis")
	fs.IntVar(&cfg.TileLocalY, "tly", def.TileLocalY, "output rows per thread")
	fs.IntVar(&cfg.TileLocalX, "tlx", def.TileLocalX, "output columns per thread")
	fs.IntVar(&cfg.TileK, "tk", def.TileK, "reduction chunk depth")
	fs.IntVar(&cfg.VectorWidth, "vec", def.VectorWidth, "elements per cooperative fetch step")
	return
}

func cmdPlan(args []string) {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	m, n, k, cfg := tilingFlags(fs)
	device := fs.Bool("device", false, "validate against the live adapter limits instead of the portable baseline")
	fs.Parse(args)

	limits := plan.DefaultLimits()
	if *device {
		var err error
		limits, err = gpu.Limits()
		if err != nil {
			fmt.Fprintf(os.Stderr, "device limits: %v\n", err)
			os.Exit(1)
		}
	}

	p, err := plan.New(*m, *n, *k, *cfg, limits)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	t := p.EstimateTraffic()
	fmt.Println(p)
	fmt.Printf("global loads:  %d bytes\n", t.GlobalLoadBytes)
	fmt.Printf("global stores: %d bytes\n", t.GlobalStoreBytes)
	fmt.Printf("flops:         %d\n", t.FLOPs)
	fmt.Printf("intensity:     %.2f flops/byte\n", t.Intensity)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	m, n, k, cfg := tilingFlags(fs)
	backend := fs.String("backend", "sim", "execution backend: sim or gpu")
	aPath := fs.String("a", "", "load operand A from a matio file (random if empty)")
	bPath := fs.String("b", "", "load operand B from a matio file (random if empty)")
	outPath := fs.String("o", "", "save the product to a matio file")
	seed := fs.Int64("seed", 1, "seed for random operands")
	fs.Parse(args)

	limits := plan.DefaultLimits()
	if *backend == "gpu" {
		var err error
		limits, err = gpu.Limits()
		if err != nil {
			fmt.Fprintf(os.Stderr, "device limits: %v\n", err)
			os.Exit(1)
		}
	}

	a, err := loadOrRandom(*aPath, *m, *k, *seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "operand A: %v\n", err)
		os.Exit(1)
	}
	b, err := loadOrRandom(*bPath, *k, *n, *seed+1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "operand B: %v\n", err)
		os.Exit(1)
	}

	p, err := plan.New(*m, *n, *k, *cfg, limits)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Println(p)

	start := time.Now()
	var c *plan.Matrix
	switch *backend {
	case "sim":
		c, err = sim.Run(p, a, b)
	case "gpu":
		kernel := gpu.NewMatmulKernel(p)
		if err = kernel.Build(); err == nil {
			defer kernel.Cleanup()
			c, err = kernel.Forward(a, b)
		}
	default:
		err = fmt.Errorf("unknown backend %q", *backend)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	var sum float64
	for _, v := range c.Data {
		sum += float64(v)
	}
	gflops := float64(p.EstimateTraffic().FLOPs) / elapsed.Seconds() / 1e9
	fmt.Printf("%s backend: %v (%.2f GFLOP/s), checksum %.6g\n", *backend, elapsed, gflops, sum)

	if *outPath != "" {
		if err := matio.Save(*outPath, c); err != nil {
			fmt.Fprintf(os.Stderr, "save: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("saved %dx%d product to %s\n", c.Rows, c.Cols, *outPath)
	}
}

func loadOrRandom(path string, rows, cols int, seed int64) (*plan.Matrix, error) {
	if path != "" {
		return matio.Load(path)
	}
	rng := rand.New(rand.NewSource(seed))
	m := plan.NewMatrix(rows, cols)
	for i := range m.Data {
		m.Data[i] = rng.Float32()*2 - 1
	}
	return m, nil
}
