// lutrun classifies recorded CAN traffic against a LUT artifact.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tatsushid/go-prettytable"
	"go.uber.org/zap"

	"github.com/sbl8/canlut/config"
	"github.com/sbl8/canlut/features"
	"github.com/sbl8/canlut/logging"
	"github.com/sbl8/canlut/runtime"
)

const pname = "lutrun"

func metricsInit(addr string, log *zap.Logger) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Error("metrics listener failed", zap.Error(err))
		}
	}()
}

func tallyString(t runtime.Tally) string {
	parts := make([]string, 0, len(t.Counts))
	for _, l := range t.Labels() {
		parts = append(parts, fmt.Sprintf("%d:%d", l, t.Counts[l]))
	}
	if len(t.Faults) > 0 {
		parts = append(parts, fmt.Sprintf("abstained:%d", len(t.Faults)))
	}
	return strings.Join(parts, " ")
}

func run(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(fs, cfgPath)
	if err != nil {
		return err
	}
	log, err := logging.Setup(cfg.Log.Level, cfg.Log.Type)
	if err != nil {
		return err
	}
	defer log.Sync()

	codecOpts, err := cfg.CodecOptions()
	if err != nil {
		return err
	}
	engineOpts := runtime.DefaultEngineOptions()
	engineOpts.Workers = cfg.Runtime.Workers
	engineOpts.Strict = cfg.Runtime.Strict
	engineOpts.Logger = log
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		engineOpts.Registerer = prometheus.DefaultRegisterer
		metricsInit(addr, log)
	}

	modelPath, _ := cmd.Flags().GetString("model")
	engine, err := runtime.LoadEngine(fs, modelPath, codecOpts, engineOpts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	verbose, _ := cmd.Flags().GetBool("verbose")
	total := runtime.Summary{Verdicts: make(map[runtime.Verdict]int)}
	for _, path := range args {
		frames, err := features.LoadFrames(fs, path)
		if err != nil {
			return err
		}
		// Every capture is its own bus, so it starts from an empty history.
		history, err := features.NewHistory(cfg.Runtime.HistoryCapacity)
		if err != nil {
			return err
		}
		stream := runtime.NewStream(engine, history)
		log.Info("classifying",
			zap.String("path", path),
			zap.Int("frames", len(frames)),
			zap.Int("history_capacity", history.Capacity()),
			zap.Stringer("session", stream.ID()))

		sum, err := stream.Process(ctx, frames, func(r runtime.Result) error {
			if !verbose {
				return nil
			}
			if r.Err != nil {
				fmt.Printf("%s\t%.6f\t%s\terror: %v\n", path, r.Frame.Timestamp, r.Frame.ArbitrationID, r.Err)
				return nil
			}
			fmt.Printf("%s\t%.6f\t%s\t%s\t%s\n", path, r.Frame.Timestamp, r.Frame.ArbitrationID,
				r.Verdict, tallyString(r.Tally))
			return nil
		})
		if err != nil {
			return errors.Wrap(err, path)
		}
		total.Frames += sum.Frames
		total.Skipped += sum.Skipped
		total.Unclassified += sum.Unclassified
		for v, n := range sum.Verdicts {
			total.Verdicts[v] += n
		}
	}

	printSummary(total)
	stats := engine.Stats()
	log.Info("done",
		zap.Int64("classifications", stats.TotalClassifications),
		zap.Int64("abstentions", stats.Abstentions),
		zap.Duration("avg_latency", stats.AverageLatency))

	if wait, _ := cmd.Flags().GetBool("serve"); wait && engineOpts.Registerer != nil {
		log.Info("serving metrics until interrupted")
		<-ctx.Done()
	}
	return nil
}

func printSummary(sum runtime.Summary) {
	table, _ := prettytable.NewTable(
		prettytable.Column{Header: "Outcome"},
		prettytable.Column{Header: "Frames", AlignRight: true},
		prettytable.Column{Header: "Share", AlignRight: true},
	)
	table.Separator = "  "

	share := func(n int) string {
		if sum.Frames == 0 {
			return "-"
		}
		return fmt.Sprintf("%.2f%%", float64(n)/float64(sum.Frames)*100)
	}
	verdicts := make([]runtime.Verdict, 0, len(sum.Verdicts))
	for v := range sum.Verdicts {
		verdicts = append(verdicts, v)
	}
	sort.Slice(verdicts, func(i, j int) bool { return verdicts[i] < verdicts[j] })
	for _, v := range verdicts {
		table.AddRow(v.String(), sum.Verdicts[v], share(sum.Verdicts[v]))
	}
	table.AddRow("unclassified", sum.Unclassified, share(sum.Unclassified))
	table.AddRow("skipped", sum.Skipped, share(sum.Skipped))
	table.AddRow("total", sum.Frames, share(sum.Frames))
	table.Print()
}

func main() {
	rootCmd := &cobra.Command{
		Use:          pname + " --model <artifact> <frames>...",
		Short:        "Classify CAN frames against a LUT artifact",
		Args:         cobra.MinimumNArgs(1),
		RunE:         run,
		SilenceUsage: true,
	}
	rootCmd.Flags().String("config", "", "configuration file (YAML)")
	rootCmd.Flags().String("model", "", "LUT artifact (file or directory)")
	rootCmd.Flags().Bool("verbose", false, "print the verdict of every frame")
	rootCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.Flags().Bool("serve", false, "keep serving metrics after the frames are done")
	_ = rootCmd.MarkFlagRequired("model")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
