// Package canlut serializes trained decision-tree ensembles into compact
// lookup tables for CAN bus intrusion detection and evaluates them against
// live traffic.
//
// A forest is trained elsewhere and exported as one tuple per node. From
// there the forest can take several bit-exact forms, all decoding into the
// same canonical model:
//
//   - Binary records: 16-byte little-endian node records, streamed or in a
//     checksummed bundle
//   - Hex tables: fixed-width hex rows with fixed-point thresholds, flat and
//     rebased or one file per tree
//   - Bit-field memories: 95-bit rows written raw or as memory
//     initialization files for FPGA block RAM
//
// # Architecture Overview
//
// Frames flow through the feature extractor into the inference engine:
//
//   - Features: per-identifier inter-arrival time, payload entropy and length
//   - Runtime: bounded tree traversal and majority vote with a deterministic
//     tie-break, evaluated on a worker pool
//   - Codecs: the artifact formats above, selected by path or content
//   - Compiler: tuple export to artifacts, optionally split by root feature
//
// # Basic Usage
//
//	// Compile a training export
//	lutc compile --format lutb,hex,mif model.csv out/
//
//	// Classify recorded traffic
//	lutrun --model out/forest.lutb capture.csv
//
// From Go:
//
//	engine, err := runtime.LoadEngine(afero.NewOsFs(), "out/forest.lutb",
//	    codec.DefaultOptions(), runtime.DefaultEngineOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	verdict, tally, err := engine.Classify(ctx, vec)
//
// # Package Structure
//
//   - model: canonical forest, feature vector and error taxonomy
//   - core: fixed-point threshold schemes and record alignment
//   - features: feature extraction and frame sources
//   - codec: format registry over binrec, hexlut and bitfield
//   - runtime: traversal, voting, engine, streams and metrics
//   - compiler: training export ingestion and artifact emission
//   - config, logging: tool configuration and zap setup
//   - cmd: command-line tools (lutc, lutrun, lutperf)
package canlut
