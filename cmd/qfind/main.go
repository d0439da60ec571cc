// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
qfind searches a 2D binary cellular automaton rule for orthogonal
spaceships and waves by breadth-first row-by-row extension of a growing
frontier, pruned by a three-generation lookahead and periodically
deepened by a bounded parallel depth-first probe.
*/

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"regexp"
	"strconv"

	"github.com/pkg/errors"

	"github.com/grailbio/base/log"
	"github.com/lifesearch/qfind/engine"
	"github.com/lifesearch/qfind/rule"
)

var (
	velocity     = flag.String("v", "", "Ship velocity: \"Yc/P\", \"c/P\" (Y=1), or \"(Y,0)c/P\"; required unless -l is given")
	width        = flag.Int("w", 0, "Pattern width, 1..14; required unless -l is given")
	symmetryStr  = flag.String("s", "", "Symmetry: asymmetric|odd|even|gutter; required unless -l is given")
	ruleStr      = flag.String("r", "B3/S23", "CA rule in Hensel notation, e.g. B3/S23 or B3/S23~4ei")
	threads      = flag.Int("t", 1, "Number of deepening worker threads")
	maxShips     = flag.Int("f", 0, "Stop after finding this many ships (0 = unlimited)")
	minDeepen    = flag.Int("i", 3, "Minimum deepening depth")
	minExtension = flag.Int("g", 1, "Minimum extension length worth saving for reuse")
	firstDeepen  = flag.Int("n", 0, "Deepening depth for the first deepening pass (0 = use -i)")
	fixedDepth   = flag.Int("fixed-depth", 0, "Use a fixed deepening depth every pass instead of the default schedule")
	initialRows  = flag.String("e", "", "File of initial rows to seed the search from")
	cacheMB      = flag.Int("c", 8, "Per-thread lookahead cache size in MB (0 disables)")
	memLimitMB   = flag.Int("m", 8000, "Approximate memory budget in MB for the successor-index arena")
	queueBits    = flag.Int("q", 26, "log2 of the BFS queue capacity")
	hashBits     = flag.Int("h", 24, "log2 of the visited-set hash table size (0 disables dedup)")
	baseBits     = flag.Int("b", 4, "log2 of the queue's parent-base group size")
	dumpPrefix   = flag.String("d", "", "Checkpoint file path prefix; supports @time and @rule placeholders")
	dumpInterval = flag.Int("a", 3600, "Seconds between checkpoint dumps")
	dumpModeStr  = flag.String("dump-mode", "overwrite", "Checkpoint naming scheme: overwrite|sequential|disabled")
	loadPath     = flag.String("l", "", "Load a checkpoint file and resume the search from it")
	splitN       = flag.Int("j", 0, "Split the loaded queue into N checkpoint files instead of searching")
	preview      = flag.Bool("p", false, "Print the longest partial result with each --print-every progress line")
	boundaryStr  = flag.String("o", "", "Wave boundary symmetry: undefined|odd|even|gutter")
	printEvery   = flag.Int("print-every", 0, "Nodes expanded between progress log lines (0 = off)")

	enableSubperiod  = flag.Bool("enable-subperiod", false, "Allow subperiodic ships through (--disable-subperiod wins if both are given)")
	disableSubperiod = flag.Bool("disable-subperiod", false, "Suppress subperiodic ships (default)")
	enableDeepPrint  = flag.Bool("enable-deep-print", false, "Log every deepening pass")
	disableDeepPrint = flag.Bool("disable-deep-print", false, "Don't log deepening passes (default)")
	enableLongest    = flag.Bool("enable-longest", false, "Track the longest partial result (default)")
	disableLongest   = flag.Bool("disable-longest", false, "Don't track the longest partial result")
	enableEarlyExit  = flag.Bool("enable-early-exit", false, "Let a deepening pass exit early once most workers agree (default)")
	disableEarlyExit = flag.Bool("disable-early-exit", false, "Always run every deepening probe to completion")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -v velocity -w width -s symmetry [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "       %s -l dumpfile [options]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() > 0 {
		log.Fatalf("unexpected positional arguments: %v", flag.Args())
	}

	cfg, err := buildConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var st *engine.State
	if *loadPath != "" {
		st, err = engine.Load(*loadPath, cfg)
		if err != nil {
			log.Fatalf("%+v", err)
		}
	} else {
		st, err = engine.NewState(cfg)
		if err != nil {
			log.Fatalf("%+v", err)
		}
		if *initialRows != "" {
			data, err := ioutil.ReadFile(*initialRows)
			if err != nil {
				log.Fatalf("reading initial-rows file: %v", err)
			}
			rows, err := engine.ParseInitialRows(data, cfg)
			if err != nil {
				log.Fatalf("%+v", err)
			}
			if err := st.Seed(rows); err != nil {
				log.Fatalf("%+v", err)
			}
		}
	}

	if *splitN > 0 {
		if err := st.Split(*splitN); err != nil {
			log.Fatalf("%+v", err)
		}
		log.Debug.Printf("exiting")
		return
	}

	result, err := st.Run()
	if err != nil {
		log.Fatalf("%+v", err)
	}

	os.Stdout.Write(st.Output())

	switch result.Abort {
	case engine.AbortQueueFull:
		if partial := st.LongestPartial(); len(partial) > 0 {
			fmt.Println("Longest partial result:")
			os.Stdout.Write(partial)
		}
		log.Debug.Printf("exiting")
	case engine.AbortFatal:
		log.Debug.Printf("exiting")
		os.Exit(1)
	case engine.AbortShipLimit:
		log.Debug.Printf("exiting")
	default:
		if st.ShipsFound() == 0 {
			if partial := st.LongestPartial(); len(partial) > 0 {
				fmt.Println("Longest partial result:")
				os.Stdout.Write(partial)
			}
		}
		log.Debug.Printf("exiting")
	}
}

// buildConfig assembles an engine.Config from flags, validating every
// option before any engine allocation happens (spec.md section 7:
// configuration errors are diagnosed and fatal, and precede allocation).
func buildConfig() (*engine.Config, error) {
	cfg := engine.DefaultConfig()

	if *loadPath == "" {
		if *velocity == "" {
			return nil, errors.New("-v (velocity) is required unless -l is given")
		}
		if *width == 0 {
			return nil, errors.New("-w (width) is required unless -l is given")
		}
		if *symmetryStr == "" {
			return nil, errors.New("-s (symmetry) is required unless -l is given")
		}

		period, offset, err := parseVelocity(*velocity)
		if err != nil {
			return nil, err
		}
		cfg.Period, cfg.Offset = period, offset
		cfg.Width = *width

		sym, err := engine.ParseSymmetry(*symmetryStr)
		if err != nil {
			return nil, err
		}
		cfg.Symmetry = sym

		rt, err := rule.Parse(*ruleStr)
		if err != nil {
			return nil, errors.Wrap(err, "-r")
		}
		cfg.Rule = rt

		boundary, err := engine.ParseBoundarySymmetry(*boundaryStr)
		if err != nil {
			return nil, err
		}
		cfg.Boundary = boundary
	}

	cfg.Threads = *threads
	cfg.MaxShips = *maxShips
	cfg.MinDeepen = *minDeepen
	cfg.MinExtension = *minExtension
	cfg.FirstDeepen = *firstDeepen
	cfg.FixedDepth = *fixedDepth
	cfg.CacheMB = *cacheMB
	cfg.MemLimitMB = *memLimitMB
	cfg.QueueBits = *queueBits
	cfg.HashBits = *hashBits
	cfg.BaseBits = *baseBits
	cfg.DumpPrefix = *dumpPrefix
	cfg.DumpInterval = *dumpInterval
	cfg.LoadPath = *loadPath
	cfg.SplitN = *splitN
	cfg.Preview = *preview
	cfg.PrintEvery = *printEvery

	mode, err := engine.ParseDumpMode(*dumpModeStr)
	if err != nil {
		return nil, err
	}
	cfg.DumpMode = mode

	// Defaults (suppress subperiod, track longest, early-exit enabled,
	// deep-print off) come from DefaultConfig; only an explicit flag
	// flips one.
	if *enableSubperiod {
		cfg.FullPeriod = false
	}
	if *disableSubperiod {
		cfg.FullPeriod = true
	}
	if *enableDeepPrint {
		cfg.DeepPrint = true
	}
	if *disableDeepPrint {
		cfg.DeepPrint = false
	}
	if *enableLongest {
		cfg.TrackLongest = true
	}
	if *disableLongest {
		cfg.TrackLongest = false
	}
	if *enableEarlyExit {
		cfg.EarlyExit = true
	}
	if *disableEarlyExit {
		cfg.EarlyExit = false
	}

	if *loadPath == "" {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// velocityPattern matches the three forms spec.md section 6 documents:
// "(Y,0)cP" explicit-orthogonal, "YcP" with an explicit numerator, and
// "cP" with an implied numerator of 1. Diagonal ("Yc/P,Y") and oblique
// forms are rejected by simply having no group to capture their second
// coordinate.
var velocityPattern = regexp.MustCompile(`^(?:\((\d+),0\)|(\d+)?)c/?(\d+)$`)

// parseVelocity parses a -v argument into (period, offset).
func parseVelocity(s string) (period, offset int, err error) {
	m := velocityPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, errors.Errorf("-v %q: expected Yc/P, c/P, or (Y,0)c/P", s)
	}
	yStr := m[1]
	if yStr == "" {
		yStr = m[2]
	}
	y := 1
	if yStr != "" {
		y, err = strconv.Atoi(yStr)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "-v %q: numerator", s)
		}
	}
	p, err := strconv.Atoi(m[3])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "-v %q: denominator", s)
	}
	if p < 1 {
		return 0, 0, errors.Errorf("-v %q: period must be >= 1", s)
	}
	if y <= 0 || y >= p {
		return 0, 0, errors.Errorf("-v %q: numerator must be between 1 and period-1 (oscillators/photons out of scope)", s)
	}
	return p, y, nil
}
