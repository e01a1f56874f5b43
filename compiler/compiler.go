// Package compiler turns a fitted ensemble into deployable LUT artifacts.
//
// The trainer exports every node as a decimal tuple (tree, node, feature,
// threshold, left, right, prediction). Compilation proceeds in stages:
//  1. Parse the tuple export into a canonical forest
//  2. Validate tree structure: children resolve, no cycles, no orphans
//  3. Optionally renumber nodes breadth-first for the dense hex layout
//  4. Optionally split the forest into groups by root feature
//  5. Emit every requested artifact format per group, plus a summary
//
// Artifacts are written through afero so that tests and tools can compile
// into memory.
package compiler

import (
	"bytes"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sbl8/canlut/codec"
	"github.com/sbl8/canlut/model"
)

// SummaryName is the file Compile writes next to the artifacts.
const SummaryName = "summary.yaml"

// Options controls what Compile emits.
type Options struct {
	// Name is the artifact base name.
	Name    string
	Formats []codec.Format
	Codec   codec.Options

	// Strict rejects structurally invalid trees. Renumber implies it.
	Strict   bool
	Renumber bool

	// Split emits one artifact set per root feature instead of one for the
	// whole forest.
	Split bool

	Logger *zap.Logger
}

// DefaultOptions emits the checksummed bundle and the flat hex table.
func DefaultOptions() Options {
	return Options{
		Name:    "forest",
		Formats: []codec.Format{codec.Bundle, codec.HexTable},
		Codec:   codec.DefaultOptions(),
		Strict:  true,
	}
}

// Artifact describes one emitted artifact.
type Artifact struct {
	Group  string   `yaml:"group,omitempty"`
	Format string   `yaml:"format"`
	Trees  int      `yaml:"trees"`
	Nodes  int      `yaml:"nodes"`
	Paths  []string `yaml:"paths"`
}

// Summary is the record of one compilation.
type Summary struct {
	Source    string     `yaml:"source"`
	Scheme    string     `yaml:"scheme"`
	Trees     int        `yaml:"trees"`
	Nodes     int        `yaml:"nodes"`
	Artifacts []Artifact `yaml:"artifacts"`
}

// Compile reads the tuple export at src and writes the requested artifacts
// into outDir.
func Compile(fs afero.Fs, src, outDir string, opts Options) (*Summary, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if len(opts.Formats) == 0 {
		return nil, errors.New("no output formats requested")
	}
	if opts.Name == "" {
		opts.Name = "forest"
	}

	data, err := afero.ReadFile(fs, src)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", src)
	}
	tuples, err := ReadTuples(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, src)
	}
	f, err := Build(tuples, opts.Strict || opts.Renumber)
	if err != nil {
		return nil, errors.Wrap(err, src)
	}
	if opts.Renumber {
		if f, err = Renumber(f); err != nil {
			return nil, err
		}
	}
	log.Info("forest built",
		zap.String("source", src),
		zap.Int("trees", f.TreeCount()),
		zap.Int("nodes", f.NodeCount()))

	return Emit(fs, f, outDir, src, opts)
}

// Emit writes the artifacts for an already built forest.
func Emit(fs afero.Fs, f *model.Forest, outDir, source string, opts Options) (*Summary, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Name == "" {
		opts.Name = "forest"
	}

	groups := []Group{{Feature: model.Leaf, Forest: f}}
	if opts.Split {
		var err error
		if groups, err = SplitByRootFeature(f); err != nil {
			return nil, err
		}
	}

	sum := &Summary{
		Source: source,
		Scheme: opts.Codec.Threshold.String(),
		Trees:  f.TreeCount(),
		Nodes:  f.NodeCount(),
	}
	if err := fs.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", outDir)
	}
	for _, g := range groups {
		base := opts.Name
		group := ""
		if opts.Split {
			group = g.Name()
			base += "_" + group
		}
		for _, format := range opts.Formats {
			path := filepath.Join(outDir, ArtifactName(base, format))
			paths, err := codec.Save(fs, path, format, g.Forest, opts.Codec)
			if err != nil {
				return nil, err
			}
			log.Info("artifact written",
				zap.String("group", group),
				zap.Stringer("format", format),
				zap.String("path", path),
				zap.Int("trees", g.Forest.TreeCount()))
			sum.Artifacts = append(sum.Artifacts, Artifact{
				Group:  group,
				Format: format.String(),
				Trees:  g.Forest.TreeCount(),
				Nodes:  g.Forest.NodeCount(),
				Paths:  paths,
			})
		}
	}

	out, err := yaml.Marshal(sum)
	if err != nil {
		return nil, errors.Wrap(err, "encoding summary")
	}
	if err := afero.WriteFile(fs, filepath.Join(outDir, SummaryName), out, 0o644); err != nil {
		return nil, errors.Wrap(err, "writing summary")
	}
	return sum, nil
}

// Export writes f to path in the training export layout, so that a decoded
// artifact can be recompiled or compared against the trainer's output.
func Export(fs afero.Fs, f *model.Forest, path string) error {
	var buf bytes.Buffer
	if err := WriteTuples(&buf, Tuples(f)); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", dir)
		}
	}
	return errors.Wrapf(afero.WriteFile(fs, path, buf.Bytes(), 0o644), "writing %s", path)
}

// ArtifactName returns the file or directory name for base in format.
func ArtifactName(base string, format codec.Format) string {
	if format.IsDir() {
		return base + "_" + format.String()
	}
	return base + "." + format.String()
}
