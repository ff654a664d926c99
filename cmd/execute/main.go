// Command execute is the CLI surface described in spec §6.3: it loads a
// protocol (fresh from --protocolfile or reloaded with --resume), drives
// it to completion one work unit at a time through the selected driver,
// and exits 0 only when every Protocol has finished.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/metasched/orchestrator/internal/config"
	"github.com/metasched/orchestrator/internal/driver/dummy"
	"github.com/metasched/orchestrator/internal/driverengine"
	"github.com/metasched/orchestrator/internal/driverengine/inmem"
	"github.com/metasched/orchestrator/internal/driverengine/temporal"
	"github.com/metasched/orchestrator/internal/executor"
	"github.com/metasched/orchestrator/internal/graph"
	"github.com/metasched/orchestrator/internal/optimizer"
	"github.com/metasched/orchestrator/internal/storage/jsonfile"
	"github.com/metasched/orchestrator/internal/telemetry"

	"go.temporal.io/sdk/client"
	"goa.design/clue/log"
)

func main() {
	var (
		protocolFileF = flag.String("protocolfile", "", "Path to a protocol definition (exactly one Start-rooted object)")
		resumeF       = flag.Bool("resume", false, "Load the most recent persisted state instead of a fresh protocol")
		bufferF       = flag.Int("buffer", 0, "Integer seconds of headroom added to every Protocol's duration")
		driverF       = flag.String("driver", "dummy", `"dummy" (built-in sleep, run in-process) or "temporal" (the same sleep driver run as a Temporal activity)`)
		payloadDirF   = flag.String("payloaddir", "./payloads", "Persistence directory")
		configF       = flag.String("config", "", "Optional YAML config file providing defaults for the flags above")
		dbgF          = flag.Bool("debug", false, "Enable debug-level logging")
	)
	flag.Parse()

	ctx := telemetry.NewContext(*dbgF)

	if *protocolFileF == "" && !*resumeF {
		telemetry.Fatal(ctx, fmt.Errorf("one of --protocolfile or --resume is required"), "invalid flags")
	}
	if *protocolFileF != "" && *resumeF {
		telemetry.Fatal(ctx, fmt.Errorf("--protocolfile and --resume are mutually exclusive"), "invalid flags")
	}

	cfg := config.Config{
		Buffer:     *bufferF,
		Driver:     *driverF,
		PayloadDir: *payloadDirF,
	}
	if *configF != "" {
		fileCfg, err := config.Load(*configF)
		if err != nil {
			telemetry.Fatal(ctx, err, "load config file")
		}
		// Only flags actually passed count as set; file values fill the
		// rest, and flag defaults fill whatever the file leaves empty.
		var flagCfg config.Config
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "buffer":
				flagCfg.Buffer = *bufferF
			case "driver":
				flagCfg.Driver = *driverF
			case "payloaddir":
				flagCfg.PayloadDir = *payloadDirF
			}
		})
		cfg = flagCfg.Overlay(fileCfg).Overlay(cfg)
	}

	store, err := jsonfile.New(cfg.PayloadDir)
	if err != nil {
		telemetry.Fatal(ctx, err, "open snapshot store")
	}

	opt := optimizer.New(optimizer.Config{
		BufferSeconds: cfg.Buffer,
		MaxSolveTime:  cfg.SolveTimeout,
	})

	dummyDriver := dummy.New()

	var engine driverengine.Engine
	switch cfg.Driver {
	case "temporal":
		tc, err := client.Dial(client.Options{})
		if err != nil {
			telemetry.Fatal(ctx, fmt.Errorf("temporal: dial: %w", err), "connect to temporal")
		}
		defer tc.Close()
		engine = temporal.New(temporal.Options{Client: tc}, dummyDriver.Func())
	default:
		engine = inmem.New(dummyDriver.Func())
	}

	exec := executor.New(executor.Config{
		Optimizer:     opt,
		Engine:        engine,
		Store:         store,
		PrepareDriver: dummyDriver.Register,
	})

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *resumeF {
		log.Print(ctx, log.KV{K: "event", V: "resume"}, log.KV{K: "payloaddir", V: cfg.PayloadDir})
		if err := exec.Resume(sigCtx); err != nil {
			telemetry.Fatal(ctx, err, "resume from snapshot")
		}
	} else {
		root, err := loadProtocolFile(*protocolFileF)
		if err != nil {
			telemetry.Fatal(ctx, err, "load protocol file")
		}
		log.Print(ctx, log.KV{K: "event", V: "submit"}, log.KV{K: "protocolfile", V: *protocolFileF})
		if err := exec.AddProtocol(sigCtx, root); err != nil {
			telemetry.Fatal(ctx, err, "add protocol")
		}
	}

	if err := exec.Loop(sigCtx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Print(ctx, log.KV{K: "event", V: "interrupted"})
			os.Exit(1)
		}
		telemetry.Fatal(ctx, err, "run loop")
	}

	for _, root := range exec.Protocols() {
		for _, p := range root.Protocols() {
			if !p.IsFinished() {
				telemetry.Fatal(ctx, fmt.Errorf("protocol %q (%s) started but never finished", p.Name, p.ID), "run loop")
			}
		}
	}

	log.Print(ctx, log.KV{K: "event", V: "complete"})
}

// loadProtocolFile reads path and decodes exactly one Start-rooted
// dictionary-form object, per spec §6.2/§6.3.
func loadProtocolFile(path string) (*graph.Node, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocol file %q: %w", path, err)
	}
	root, err := graph.DecodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("decode protocol file %q: %w", path, err)
	}
	if root.Type != graph.TypeStart {
		return nil, fmt.Errorf("%q: protocol file must encode a Start-rooted graph", path)
	}
	return root, nil
}
