// lutperf measures classification throughput on synthetic feature vectors.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	goruntime "runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tatsushid/go-prettytable"

	"github.com/sbl8/canlut/config"
	"github.com/sbl8/canlut/model"
	"github.com/sbl8/canlut/runtime"
)

// syntheticForest builds trees complete binary trees of the given depth with
// random splits over all four features.
func syntheticForest(rng *rand.Rand, trees, depth int) (*model.Forest, error) {
	b := model.NewBuilder()
	for t := 0; t < trees; t++ {
		next := 1
		var grow func(id, level int) error
		grow = func(id, level int) error {
			if level == depth {
				return b.Add(t, model.NewLeaf(id, rng.Intn(2)))
			}
			left, right := next, next+1
			next += 2
			feature := model.Features[rng.Intn(len(model.Features))]
			if err := b.Add(t, model.NewSplit(id, feature, randomValue(rng, feature), left, right)); err != nil {
				return err
			}
			if err := grow(left, level+1); err != nil {
				return err
			}
			return grow(right, level+1)
		}
		if err := grow(0, 0); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

func randomValue(rng *rand.Rand, f model.Feature) float64 {
	switch f {
	case model.ArbitrationID:
		return float64(rng.Intn(0x800))
	case model.InterArrivalTime:
		return rng.Float64() * 0.1
	case model.DataEntropy:
		return rng.Float64() * 3
	}
	return float64(rng.Intn(9))
}

func randomVector(rng *rand.Rand) model.FeatureVector {
	return model.FeatureVector{
		ArbitrationID:    uint32(rng.Intn(0x800)),
		InterArrivalTime: rng.Float64() * 0.1,
		DataEntropy:      rng.Float64() * 3,
		DataLength:       rng.Intn(9),
	}
}

func perf(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(fs, cfgPath)
	if err != nil {
		return err
	}
	seed, _ := cmd.Flags().GetInt64("seed")
	iter, _ := cmd.Flags().GetInt("iter")
	rng := rand.New(rand.NewSource(seed))

	var f *model.Forest
	if path, _ := cmd.Flags().GetString("model"); path != "" {
		opts, err := cfg.CodecOptions()
		if err != nil {
			return err
		}
		if f, _, err = runtime.Load(fs, path, opts); err != nil {
			return err
		}
	} else {
		trees, _ := cmd.Flags().GetInt("trees")
		depth, _ := cmd.Flags().GetInt("depth")
		if f, err = syntheticForest(rng, trees, depth); err != nil {
			return err
		}
	}

	vectors := make([]model.FeatureVector, 1024)
	for i := range vectors {
		vectors[i] = randomVector(rng)
	}

	fmt.Printf("CAN LUT Performance Analysis\n")
	fmt.Printf("============================\n")
	fmt.Printf("Go Version: %s\n", goruntime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
	fmt.Printf("CPUs: %d\n", goruntime.NumCPU())
	fmt.Printf("Forest: %d trees, %s nodes\n", f.TreeCount(), humanize.Comma(int64(f.NodeCount())))
	fmt.Printf("Iterations: %s\n\n", humanize.Comma(int64(iter)))

	table, _ := prettytable.NewTable(
		prettytable.Column{Header: "Mode"},
		prettytable.Column{Header: "Workers", AlignRight: true},
		prettytable.Column{Header: "Elapsed", AlignRight: true},
		prettytable.Column{Header: "Vectors/s", AlignRight: true},
		prettytable.Column{Header: "Trees/s", AlignRight: true},
	)
	table.Separator = "  "
	addRow := func(mode string, workers int, elapsed time.Duration) {
		rate := float64(iter) / elapsed.Seconds()
		table.AddRow(mode, workers, elapsed.Round(time.Microsecond),
			humanize.Commaf(float64(int64(rate))),
			humanize.SIWithDigits(rate*float64(f.TreeCount()), 2, ""))
	}

	start := time.Now()
	for i := 0; i < iter; i++ {
		_, _, _ = runtime.Classify(f, vectors[i%len(vectors)])
	}
	addRow("sequential", 1, time.Since(start))

	ctx := context.Background()
	for _, workers := range workerCounts() {
		opts := runtime.DefaultEngineOptions()
		opts.Workers = workers
		opts.EnableStats = false
		e, err := runtime.NewEngine(f, opts)
		if err != nil {
			return err
		}
		start := time.Now()
		for i := 0; i < iter; i++ {
			_, _, _ = e.Classify(ctx, vectors[i%len(vectors)])
		}
		addRow("engine", workers, time.Since(start))
	}
	table.Print()
	return nil
}

func workerCounts() []int {
	counts := []int{1}
	for n := 2; n < goruntime.NumCPU(); n *= 2 {
		counts = append(counts, n)
	}
	if cpus := goruntime.NumCPU(); cpus > 1 {
		counts = append(counts, cpus)
	}
	return counts
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "lutperf",
		Short:        "Measure forest classification throughput",
		Args:         cobra.NoArgs,
		RunE:         perf,
		SilenceUsage: true,
	}
	rootCmd.Flags().String("config", "", "configuration file (YAML)")
	rootCmd.Flags().String("model", "", "LUT artifact to measure (default: synthetic forest)")
	rootCmd.Flags().Int("trees", 100, "synthetic forest size")
	rootCmd.Flags().Int("depth", 6, "synthetic tree depth")
	rootCmd.Flags().Int("iter", 10000, "number of classifications per mode")
	rootCmd.Flags().Int64("seed", 1, "random seed")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
