package main

import (
	"flag"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/syifan/xrsim"
	"github.com/syifan/xrsim/channelmodel"
	"github.com/syifan/xrsim/qoe"
	"github.com/syifan/xrsim/trafficgen"
	"github.com/tebeka/atexit"
	"gitlab.com/akita/akita/v3/sim"
)

var configFile = flag.String("config", "",
	"Path of the YAML scenario file. Empty runs the default scenario.")
var catalogFile = flag.String("catalog", "",
	"Overrides the catalog file path from the scenario.")
var numUsers = flag.Int("users", 0,
	"Overrides the number of users from the scenario.")
var logLevel = flag.String("log-level", "",
	"Overrides the log level from the scenario.")

func main() {
	flag.Parse()

	cfg, err := loadScenario(*configFile)
	if err != nil {
		logrus.Fatalf("cannot load scenario: %v", err)
	}
	if *catalogFile != "" {
		cfg.CatalogFile = *catalogFile
	}
	if *numUsers > 0 {
		cfg.Users = *numUsers
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("invalid log level %q: %v", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)

	loader := &xrsim.CatalogLoader{
		Path:             cfg.CatalogFile,
		CompressionLevel: cfg.CompressionLevel,
	}
	catalog, err := loader.Load()
	if err != nil {
		logrus.Fatalf("cannot load catalog: %v", err)
	}

	expectedFrames := cfg.ExpectedFrames
	if expectedFrames == 0 {
		expectedFrames = len(catalog)
	}

	engine := sim.NewSerialEngine()

	channel := channelmodel.NewLossyChannel(
		"Channel",
		engine,
		engine,
		channelmodel.LinkParams{
			Latency:       sim.VTimeInSec(cfg.Channel.LatencyMs / 1000.0),
			BytePerSecond: cfg.Channel.BytePerSecond,
			DropRate:      cfg.Channel.DropRate,
		},
		cfg.Seed,
	)
	registry := channelmodel.NewChannelQualityRegistry()
	aggregate := qoe.NewGlobalAggregate(cfg.Users, cfg.GlobalSummaryFile)

	sinks := make([]*qoe.TrafficSink, 0, cfg.Users)

	for id := 0; id < cfg.Users; id++ {
		name := "User" + strconv.Itoa(id)

		resultPath := ""
		if cfg.ResultDir != "" {
			resultPath = filepath.Join(cfg.ResultDir, name+"_qoe.csv")
		}

		sink := qoe.NewTrafficSink(
			name+"Sink",
			engine,
			qoe.Config{
				DeadlineMs:           cfg.DeadlineMs,
				ReliabilityThreshold: cfg.ReliabilityThreshold,
				ExpectedTotalFrames:  expectedFrames,
				ResultFilePath:       resultPath,
			},
			aggregate,
		)
		sinkPort := sim.NewLimitNumMsgPort(sink, 16, name+"SinkPort")
		sink.Bind(sinkPort)
		channel.PlugIn(sinkPort, 16)
		sinks = append(sinks, sink)

		jitter := trafficgen.NewTruncatedGaussianSampler(
			cfg.Jitter.MeanMs,
			cfg.Jitter.StdMs,
			cfg.Jitter.MinMs,
			cfg.Jitter.MaxMs,
			cfg.Seed+int64(id)+1,
		)
		gen := trafficgen.NewTrafficGenerator(
			name+"Source",
			engine,
			engine,
			trafficgen.Config{
				FrameRate:       cfg.FrameRate,
				MaxPayloadBytes: cfg.MaxPayloadBytes,
				StartTime:       sim.VTimeInSec(cfg.StartTime),
			},
			jitter,
		)
		genPort := sim.NewLimitNumMsgPort(gen, 16, name+"SourcePort")
		channel.PlugIn(genPort, 16)
		gen.SetCatalog(catalog)
		gen.SetMetricsRegistry(registry)
		gen.Connect(genPort, sinkPort)
		gen.KickStart()
	}

	// Finish is idempotent; atexit covers early exit paths.
	atexit.Register(func() {
		for _, sink := range sinks {
			sink.Finish()
		}
	})

	start := time.Now()
	err = engine.Run()
	if err != nil {
		panic(err)
	}
	elapsed := time.Since(start)

	for _, sink := range sinks {
		sink.Finish()
	}

	sent, dropped, delivered := channel.Stats()
	logrus.Infof("channel: sent=%d dropped=%d delivered=%d",
		sent, dropped, delivered)

	fmt.Printf("Simulated time ms, %.10f\n", engine.CurrentTime()*1000)
	fmt.Printf("Program Execution time: %s\n", elapsed)

	atexit.Exit(0)
}
