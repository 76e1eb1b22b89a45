package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/uball/court-agent/internal/camera"
	"github.com/uball/court-agent/internal/catalog"
	"github.com/uball/court-agent/internal/config"
	"github.com/uball/court-agent/internal/encode"
	"github.com/uball/court-agent/internal/health"
	"github.com/uball/court-agent/internal/logging"
	"github.com/uball/court-agent/internal/pipeline"
	"github.com/uball/court-agent/internal/recorder"
	"github.com/uball/court-agent/internal/registry"
	"github.com/uball/court-agent/internal/storage"
	"github.com/uball/court-agent/internal/transfer"
)

// deps is everything a command needs, built once from config.
type deps struct {
	cfg      *config.Config
	adapter  *camera.Adapter
	recorder *recorder.Controller
	disk     *health.DiskChecker
}

func setup() (*deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	for _, verr := range cfg.Validate() {
		fmt.Fprintf(os.Stderr, "config: %v\n", verr)
	}

	logging.InitRing(0)
	if cfg.LogPath != "" {
		rot, err := logging.NewRotatingWriter(cfg.LogPath, 0, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file unavailable, stdout only: %v\n", err)
			logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
		} else {
			logging.Init(cfg.LogFormat, cfg.LogLevel, logging.TeeWriter(os.Stdout, rot))
		}
	} else {
		logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	}

	angles, err := cfg.AngleMap()
	if err != nil {
		return nil, err
	}
	adapter := camera.NewAdapter(camera.NewAngleMapper(angles))

	return &deps{
		cfg:      cfg,
		adapter:  adapter,
		recorder: recorder.NewController(adapter, cfg.RecorderArgv),
		disk:     health.NewDiskChecker(cfg.ScratchDir),
	}, nil
}

// buildOrchestrator wires the cloud-facing half: storage, transfer engine,
// catalog, encode fleet and video registry.
func (d *deps) buildOrchestrator(ctx context.Context) (*pipeline.Orchestrator, *catalog.Store, error) {
	cfg := d.cfg

	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWSAccessKeyID != "" {
		awsOpts = append(awsOpts, storage.StaticCredentials(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey))
	}

	store, err := storage.New(ctx, cfg.UploadBucket, cfg.UploadRegion, awsOpts...)
	if err != nil {
		return nil, nil, err
	}

	engine := transfer.NewEngine(store, transfer.Tuning{
		ChunkSize:      cfg.Download.ChunkSizeBytes,
		ConnectTimeout: cfg.Download.ConnectTimeout(),
		ReadTimeout:    cfg.Download.ReadTimeout(),
		MaxRetries:     cfg.Download.MaxRetries,
	}, cfg.ScratchDir, cfg.Download.KeepAliveInterval(), d.disk.CanStage)

	cat, err := catalog.New(ctx, cfg.CatalogProject, cfg.CatalogCredentials)
	if err != nil {
		return nil, nil, err
	}

	fleet, err := encode.New(ctx, encode.Config{
		Region:        cfg.AWSBatchRegion,
		QueueSmall:    cfg.AWSBatchJobQueue,
		QueueLarge:    cfg.AWSBatchJobQueueLarge,
		JobDefinition: cfg.AWSBatchJobDefinition,
		ExtractJobDef: cfg.AWSBatchJobDefinitionExtract,
	}, store, awsOpts...)
	if err != nil {
		return nil, nil, err
	}

	reg := registry.NewClient(cfg.UballBackendURL, cfg.UballAuthEmail, cfg.UballAuthPassword)

	orch := pipeline.NewOrchestrator(cat, d.adapter, engine, fleet, reg, pipeline.Options{
		JetsonID:          cfg.JetsonID,
		Court:             cfg.UploadLocation,
		Bucket:            cfg.UploadBucket,
		StateDir:          cfg.PipelineStateDir,
		DeleteAfterUpload: cfg.DeleteAfterUpload,
		SkipEncode:        !cfg.UseAWSGPUTranscode,
	})
	return orch, cat, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// runPendingPipeline executes one pipeline over the device's pending
// sessions: stopped, chapters present, never ingested.
func runPendingPipeline() {
	d, err := setup()
	if err != nil {
		fatal(err)
	}
	if !d.cfg.UploadEnabled {
		fatal(fmt.Errorf("uploads are disabled (UPLOAD_ENABLED=false)"))
	}

	ctx := context.Background()
	orch, cat, err := d.buildOrchestrator(ctx)
	if err != nil {
		fatal(err)
	}
	defer cat.Close()

	sessions, err := cat.PendingUpload(ctx, d.cfg.JetsonID)
	if err != nil {
		fatal(err)
	}
	if len(sessions) == 0 {
		fmt.Println("No pending sessions.")
		return
	}

	runID, status, err := orch.Run(ctx, sessions)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Run %s finished: %s\n", runID, status)
	if status == pipeline.StatusFailed {
		os.Exit(1)
	}
}

// recordStart arms the cameras and records until SIGINT/SIGTERM, then drains
// every session, finalises them in the catalog, and hands the device's
// pending sessions to the pipeline when uploads are enabled.
func recordStart(iface string) {
	d, err := setup()
	if err != nil {
		fatal(err)
	}
	ctx := context.Background()

	var ifaces []string
	if iface != "" {
		ifaces = []string{iface}
	} else {
		cams, err := d.adapter.Discover(ctx)
		if err != nil {
			fatal(err)
		}
		for _, cam := range cams {
			ifaces = append(ifaces, cam.Interface)
		}
	}
	if len(ifaces) == 0 {
		fatal(fmt.Errorf("no cameras discovered"))
	}

	cat, err := catalog.New(ctx, d.cfg.CatalogProject, d.cfg.CatalogCredentials)
	if err != nil {
		fatal(err)
	}
	defer cat.Close()

	sessionIDs := make(map[string]string) // interface → catalog session id
	started := 0
	for _, ifc := range ifaces {
		sess, err := d.recorder.Start(ctx, d.cfg.JetsonID, ifc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: start failed: %v\n", ifc, err)
			continue
		}
		started++
		fmt.Printf("%s: recording (%s, angle %s)\n", ifc, sess.SegmentSession, sess.Angle)

		id, err := cat.CreateSession(ctx, d.cfg.JetsonID, sess.Angle, sess.SegmentSession, ifc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: catalog session not created: %v\n", ifc, err)
			continue
		}
		sessionIDs[ifc] = id
	}
	if started == 0 {
		fatal(fmt.Errorf("no camera started recording"))
	}

	fmt.Println("Recording. Press Ctrl-C to stop.")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("Stopping...")

	for _, sess := range d.recorder.Active() {
		result, err := d.recorder.Stop(ctx, sess.Interface)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: stop failed: %v\n", sess.Interface, err)
			continue
		}

		var totalBytes int64
		for _, ch := range result.Chapters {
			totalBytes += ch.Size
		}
		fmt.Printf("%s: %d chapters, %d bytes\n", sess.Interface, len(result.Chapters), totalBytes)

		if id, ok := sessionIDs[sess.Interface]; ok {
			if err := cat.FinalizeSession(ctx, id, result.EndedAt, len(result.Chapters), totalBytes); err != nil {
				fmt.Fprintf(os.Stderr, "%s: catalog finalize failed: %v\n", sess.Interface, err)
			}
		}
	}

	if d.cfg.UploadEnabled {
		fmt.Println("Starting ingest pipeline...")
		runPipelineWith(d, cat)
	}
}

func runPipelineWith(d *deps, cat *catalog.Store) {
	ctx := context.Background()
	orch, _, err := d.buildOrchestrator(ctx)
	if err != nil {
		fatal(err)
	}
	sessions, err := cat.PendingUpload(ctx, d.cfg.JetsonID)
	if err != nil {
		fatal(err)
	}
	runID, status, err := orch.Run(ctx, sessions)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Run %s finished: %s\n", runID, status)
}

// recordStop is the recovery path: it stops the shutter on recording cameras
// directly, for when the arming process is gone.
func recordStop(iface string) {
	d, err := setup()
	if err != nil {
		fatal(err)
	}
	ctx := context.Background()

	cams, err := d.adapter.Discover(ctx)
	if err != nil {
		fatal(err)
	}

	stopped := 0
	for _, cam := range cams {
		if iface != "" && cam.Interface != iface {
			continue
		}
		if !cam.Recording {
			continue
		}
		client, err := d.adapter.ClientFor(ctx, cam.Interface)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", cam.Interface, err)
			continue
		}
		if err := client.StopShutter(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%s: shutter stop failed: %v\n", cam.Interface, err)
			continue
		}
		stopped++
		fmt.Printf("%s: shutter stopped\n", cam.Interface)
	}
	if stopped == 0 {
		fmt.Println("No recording camera found.")
	}
}

func recordStatus() {
	d, err := setup()
	if err != nil {
		fatal(err)
	}

	active := d.recorder.Active()
	if len(active) == 0 {
		// No in-process sessions; fall back to what the cameras report.
		cams, err := d.adapter.Discover(context.Background())
		if err != nil {
			fatal(err)
		}
		for _, cam := range cams {
			state := "idle"
			if cam.Recording {
				state = "recording"
			}
			fmt.Printf("%-18s %-15s %-4s %s\n", cam.Interface, cam.Addr, cam.Angle, state)
		}
		return
	}
	for _, sess := range active {
		fmt.Printf("%-18s %-4s %-10s %s\n", sess.Interface, sess.Angle, sess.State, sess.SegmentSession)
	}
}

func pipelineStatus(runID string) {
	d, err := setup()
	if err != nil {
		fatal(err)
	}

	st, err := pipeline.LoadRunState(d.cfg.PipelineStateDir, runID)
	if err != nil {
		fatal(fmt.Errorf("run %s: %w", runID, err))
	}
	out, _ := json.MarshalIndent(st, "", "  ")
	fmt.Println(string(out))
}

func listCameras() {
	d, err := setup()
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cams, err := d.adapter.Discover(ctx)
	if err != nil {
		fatal(err)
	}
	if len(cams) == 0 {
		fmt.Println("No cameras found.")
		return
	}
	fmt.Printf("%-18s %-15s %-5s %-20s %s\n", "INTERFACE", "ADDRESS", "ANGLE", "NAME", "RECORDING")
	for _, cam := range cams {
		fmt.Printf("%-18s %-15s %-5s %-20s %v\n", cam.Interface, cam.Addr, cam.Angle, cam.Name, cam.Recording)
	}
}

func showStatus() {
	d, err := setup()
	if err != nil {
		fatal(err)
	}

	vitals := d.disk.Snapshot()
	fmt.Printf("Device:  %s\n", d.cfg.JetsonID)
	fmt.Printf("Scratch: %.1f GiB free (%.0f%% used)\n",
		float64(vitals.ScratchFreeBytes)/(1<<30), vitals.ScratchUsedPct)
	fmt.Printf("Memory:  %.0f%% used\n", vitals.MemoryUsedPct)
	fmt.Printf("Uptime:  %s\n", (time.Duration(vitals.UptimeSeconds) * time.Second).String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cams, err := d.adapter.Discover(ctx)
	if err != nil {
		fmt.Printf("Cameras: discovery failed: %v\n", err)
		return
	}
	fmt.Printf("Cameras: %d connected\n", len(cams))
	for _, cam := range cams {
		fmt.Printf("  %s (%s, angle %s)\n", cam.Interface, cam.Addr, cam.Angle)
	}
}
