// lutc compiles trained forests into LUT artifacts and converts between the
// artifact formats.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tatsushid/go-prettytable"
	"go.uber.org/zap"

	"github.com/sbl8/canlut/codec"
	"github.com/sbl8/canlut/codec/binrec"
	"github.com/sbl8/canlut/compiler"
	"github.com/sbl8/canlut/config"
	"github.com/sbl8/canlut/features"
	"github.com/sbl8/canlut/logging"
	"github.com/sbl8/canlut/model"
)

const pname = "lutc"

var (
	fs  = afero.NewOsFs()
	cfg config.Config
	log *zap.Logger
)

func setup(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	var err error
	if cfg, err = config.Load(fs, path); err != nil {
		return err
	}
	if log, err = logging.Setup(cfg.Log.Level, cfg.Log.Type); err != nil {
		return err
	}
	log.Debug(pname+" starting", zap.Strings("args", os.Args))
	return nil
}

func parseFormats(names []string) ([]codec.Format, error) {
	var formats []codec.Format
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			if part == "" {
				continue
			}
			f, err := codec.ParseFormat(part)
			if err != nil {
				return nil, err
			}
			formats = append(formats, f)
		}
	}
	return formats, nil
}

func compile(cmd *cobra.Command, args []string) error {
	names, _ := cmd.Flags().GetStringSlice("format")
	formats, err := parseFormats(names)
	if err != nil {
		return err
	}
	codecOpts, err := cfg.CodecOptions()
	if err != nil {
		return err
	}

	opts := compiler.DefaultOptions()
	opts.Formats = formats
	opts.Codec = codecOpts
	opts.Logger = log
	opts.Name, _ = cmd.Flags().GetString("name")
	opts.Split, _ = cmd.Flags().GetBool("split")
	opts.Renumber, _ = cmd.Flags().GetBool("renumber")
	lenient, _ := cmd.Flags().GetBool("lenient")
	opts.Strict = !lenient

	sum, err := compiler.Compile(fs, args[0], args[1], opts)
	if err != nil {
		return err
	}

	table, _ := prettytable.NewTable(
		prettytable.Column{Header: "Group"},
		prettytable.Column{Header: "Format"},
		prettytable.Column{Header: "Trees", AlignRight: true},
		prettytable.Column{Header: "Nodes", AlignRight: true},
		prettytable.Column{Header: "Path"},
	)
	table.Separator = "  "
	for _, a := range sum.Artifacts {
		group := a.Group
		if group == "" {
			group = "-"
		}
		path := a.Paths[0]
		if len(a.Paths) > 1 {
			path = fmt.Sprintf("%s (+%d)", path, len(a.Paths)-1)
		}
		table.AddRow(group, a.Format, a.Trees, a.Nodes, path)
	}
	table.Print()
	fmt.Printf("%d trees, %s nodes, thresholds %s\n",
		sum.Trees, humanize.Comma(int64(sum.Nodes)), sum.Scheme)
	return nil
}

func convert(cmd *cobra.Command, args []string) error {
	src, dst := args[0], args[1]
	opts, err := cfg.CodecOptions()
	if err != nil {
		return err
	}

	from, _ := cmd.Flags().GetString("from")
	var f *model.Forest
	var srcFormat codec.Format
	if from != "" {
		if srcFormat, err = codec.ParseFormat(from); err != nil {
			return err
		}
		f, err = codec.LoadAs(fs, src, srcFormat, opts)
	} else {
		f, srcFormat, err = codec.Load(fs, src, opts)
	}
	if err != nil {
		return err
	}

	to, _ := cmd.Flags().GetString("to")
	dstFormat := codec.FormatFromPath(dst)
	if to != "" {
		if dstFormat, err = codec.ParseFormat(to); err != nil {
			return err
		}
	}
	if dstFormat == codec.Unknown {
		return errors.Errorf("cannot tell the format of %s, use --to", dst)
	}

	paths, err := codec.Save(fs, dst, dstFormat, f, opts)
	if err != nil {
		return err
	}
	log.Info("converted",
		zap.Stringer("from", srcFormat),
		zap.Stringer("to", dstFormat),
		zap.Int("trees", f.TreeCount()),
		zap.Int("files", len(paths)))
	fmt.Printf("%s (%s) -> %s (%s): %d trees, %d nodes\n",
		src, srcFormat, dst, dstFormat, f.TreeCount(), f.NodeCount())
	return nil
}

func diff(cmd *cobra.Command, args []string) error {
	opts, err := cfg.CodecOptions()
	if err != nil {
		return err
	}
	tolerance, _ := cmd.Flags().GetFloat64("tolerance")
	if tolerance < 0 {
		tolerance = opts.Threshold.Resolution()
	}

	forests := make([]*model.Forest, len(args))
	for i, path := range args {
		f, format, err := codec.Load(fs, path, opts)
		if err != nil {
			return err
		}
		log.Debug("loaded",
			zap.String("path", path),
			zap.Stringer("format", format),
			zap.Int("nodes", f.NodeCount()))
		forests[i] = f
	}

	if report := compiler.Diff(forests[0], forests[1], tolerance); report != "" {
		fmt.Printf("%s (-) and %s (+) differ:\n%s", args[0], args[1], report)
		return errors.Errorf("%s and %s differ", args[0], args[1])
	}
	fmt.Printf("%s and %s agree: %d trees, %s nodes, tolerance %g\n", args[0], args[1],
		forests[0].TreeCount(), humanize.Comma(int64(forests[0].NodeCount())), tolerance)
	return nil
}

func export(cmd *cobra.Command, args []string) error {
	opts, err := cfg.CodecOptions()
	if err != nil {
		return err
	}
	f, format, err := codec.Load(fs, args[0], opts)
	if err != nil {
		return err
	}
	if err := compiler.Export(fs, f, args[1]); err != nil {
		return err
	}
	log.Info("exported",
		zap.String("from", args[0]),
		zap.Stringer("format", format),
		zap.String("to", args[1]),
		zap.Int("nodes", f.NodeCount()))
	return nil
}

func frames(cmd *cobra.Command, args []string) error {
	in, err := features.LoadFrames(fs, args[0])
	if err != nil {
		return err
	}
	if err := features.SaveFrames(fs, args[1], in); err != nil {
		return err
	}
	fmt.Printf("%s -> %s: %s frames\n", args[0], args[1], humanize.Comma(int64(len(in))))
	return nil
}

func artifactSize(path string) (int64, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = afero.Walk(fs, path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

func labels(counts map[int]int) string {
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%d:%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}

func inspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	opts, err := cfg.CodecOptions()
	if err != nil {
		return err
	}
	f, format, err := codec.Load(fs, path, opts)
	if err != nil {
		return err
	}
	size, err := artifactSize(path)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s, %s, %d trees, %s nodes\n", path, format,
		humanize.Bytes(uint64(size)), f.TreeCount(), humanize.Comma(int64(f.NodeCount())))
	switch format {
	case codec.Binary, codec.BinaryDir, codec.Bundle:
		l := binrec.Layout(0, f.NodeCount())
		if format == codec.Bundle {
			l = binrec.BundleLayout(f.TreeCount(), f.NodeCount())
		}
		fmt.Printf("records: %d x %d bytes, header %s, padding %s, overhead %.1f%%\n",
			l.Records, l.RecordSize, humanize.Bytes(uint64(l.HeaderSize)),
			humanize.Bytes(uint64(l.PaddingSize)), l.Overhead)
	case codec.HexTable, codec.HexDump, codec.CSV:
		fmt.Printf("thresholds: %s, resolution %g\n", opts.Threshold, opts.Threshold.Resolution())
	}

	table, _ := prettytable.NewTable(
		prettytable.Column{Header: "Tree", AlignRight: true},
		prettytable.Column{Header: "Nodes", AlignRight: true},
		prettytable.Column{Header: "Leaves", AlignRight: true},
		prettytable.Column{Header: "Depth", AlignRight: true},
		prettytable.Column{Header: "Root"},
		prettytable.Column{Header: "Labels"},
		prettytable.Column{Header: "Status"},
	)
	table.Separator = "  "
	invalid := 0
	for _, info := range compiler.Describe(f) {
		status := "ok"
		if info.Err != nil {
			status = info.Err.Error()
			invalid++
		}
		table.AddRow(info.ID, info.Nodes, info.Leaves, info.Depth, info.Root, labels(info.Labels), status)
	}
	table.Print()

	if show, _ := cmd.Flags().GetInt("nodes"); show >= 0 {
		t, err := f.Tree(show)
		if err != nil {
			return err
		}
		for _, n := range t.Nodes() {
			fmt.Println(n)
		}
	}
	if invalid > 0 {
		return errors.Errorf("%d of %d trees are invalid", invalid, f.TreeCount())
	}
	return nil
}

func main() {
	rootCmd := cobra.Command{
		Use:               pname,
		Short:             "Compile and convert CAN intrusion detection LUTs",
		PersistentPreRunE: setup,
		SilenceUsage:      true,
	}
	rootCmd.PersistentFlags().String("config", "", "configuration file (YAML)")

	compileCmd := &cobra.Command{
		Use:   "compile <tuples.csv> <outdir>",
		Short: "Compile a training export into LUT artifacts",
		Args:  cobra.ExactArgs(2),
		RunE:  compile,
	}
	compileCmd.Flags().StringSlice("format", []string{"lutb", "hex"},
		"artifact formats ("+formatList()+")")
	compileCmd.Flags().String("name", "forest", "artifact base name")
	compileCmd.Flags().Bool("split", false, "emit one artifact set per root feature")
	compileCmd.Flags().Bool("renumber", false, "renumber nodes breadth-first")
	compileCmd.Flags().Bool("lenient", false, "accept structurally invalid trees")
	rootCmd.AddCommand(compileCmd)

	convertCmd := &cobra.Command{
		Use:   "convert <src> <dst>",
		Short: "Convert an artifact to another format",
		Args:  cobra.ExactArgs(2),
		RunE:  convert,
	}
	convertCmd.Flags().String("from", "", "source format (default: detect)")
	convertCmd.Flags().String("to", "", "destination format (default: from extension)")
	rootCmd.AddCommand(convertCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Summarize the trees of an artifact",
		Args:  cobra.ExactArgs(1),
		RunE:  inspect,
	}
	inspectCmd.Flags().Int("nodes", -1, "also list the nodes of this tree")
	rootCmd.AddCommand(inspectCmd)

	diffCmd := &cobra.Command{
		Use:   "diff <a> <b>",
		Short: "Compare the forests held by two artifacts",
		Args:  cobra.ExactArgs(2),
		RunE:  diff,
	}
	diffCmd.Flags().Float64("tolerance", -1, "threshold tolerance (default: scheme resolution)")
	rootCmd.AddCommand(diffCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "export <artifact> <tuples.csv>",
		Short: "Write an artifact back out in the training export layout",
		Args:  cobra.ExactArgs(2),
		RunE:  export,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "frames <capture> <frames.csv>",
		Short: "Convert a frame capture into frame CSV",
		Args:  cobra.ExactArgs(2),
		RunE:  frames,
	})

	err := rootCmd.Execute()
	if log != nil {
		_ = log.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

func formatList() string {
	names := make([]string, len(codec.Formats))
	for i, f := range codec.Formats {
		names[i] = f.String()
	}
	return strings.Join(names, ", ")
}
