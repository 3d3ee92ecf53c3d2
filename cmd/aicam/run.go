package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ayusman/aicam/internal/app"
	"github.com/ayusman/aicam/internal/capture"
	"github.com/ayusman/aicam/internal/config"
	"github.com/ayusman/aicam/internal/decoder"
	"github.com/ayusman/aicam/internal/intrinsics"
	"github.com/ayusman/aicam/internal/labels"
	"github.com/ayusman/aicam/internal/sensor"
	"github.com/ayusman/aicam/internal/server"
	"github.com/ayusman/aicam/internal/store"
	"github.com/ayusman/aicam/internal/tray"
	"github.com/cyclopcam/logs"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// runOptions mirror config.Config. A flag only overrides the configuration when it is given.
type runOptions struct {
	threshold     float64
	iou           float64
	maxDetections int
	bufferCount   int
	model         string
	intrinsics    string
	labelFile     string
	labelFilter   string
	device        int
	imageDir      string
	dbPath        string
	addr          string
	tray          bool
	statsEvery    int
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Detect objects until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRunFlags(cmd, cfg, runOpts)
		return runDetect(cmd.Context(), cfg)
	},
}

func init() {
	f := runCmd.Flags()
	f.Float64VarP(&runOpts.threshold, "threshold", "t", 0.55, "Detection confidence threshold")
	f.Float64Var(&runOpts.iou, "iou", 0.65, "IoU threshold for non-maximum suppression")
	f.IntVar(&runOpts.maxDetections, "max-detections", 10, "Maximum detections per frame (nanodet)")
	f.IntVar(&runOpts.bufferCount, "buffer-count", capture.DefaultBufferCount, "Camera buffer count")
	f.StringVarP(&runOpts.model, "model", "m", "", "Network file")
	f.StringVar(&runOpts.intrinsics, "intrinsics", "", "Intrinsics JSON (default: next to the model)")
	f.StringVar(&runOpts.labelFile, "labels", "", "Label file used when the intrinsics carry no labels")
	f.StringVar(&runOpts.labelFilter, "label-filter", "compact", "How labels are looked up after filtering: compact or reindex")
	f.IntVarP(&runOpts.device, "device", "d", 0, "Camera device ID")
	f.StringVar(&runOpts.imageDir, "images", "", "Directory for saved frames")
	f.StringVar(&runOpts.dbPath, "db", "", "Detection history database (empty string disables it)")
	f.StringVar(&runOpts.addr, "addr", "", "HTTP listen address (empty string disables the server)")
	f.BoolVar(&runOpts.tray, "tray", false, "Show a system tray menu")
	f.IntVar(&runOpts.statsEvery, "stats-every", 100, "Frames between stage timing reports")

	rootCmd.AddCommand(runCmd)
}

func applyRunFlags(cmd *cobra.Command, c *config.Config, o runOptions) {
	f := cmd.Flags()
	if f.Changed("threshold") {
		c.Threshold = o.threshold
	}
	if f.Changed("iou") {
		c.IoUThreshold = o.iou
	}
	if f.Changed("max-detections") {
		c.MaxDetections = o.maxDetections
	}
	if f.Changed("buffer-count") {
		c.BufferCount = o.bufferCount
	}
	if f.Changed("model") {
		c.ModelPath = o.model
		if os.Getenv("AICAM_INTRINSICS") == "" {
			c.IntrinsicsPath = config.IntrinsicsPathFor(o.model)
		}
	}
	if f.Changed("intrinsics") {
		c.IntrinsicsPath = o.intrinsics
	}
	if f.Changed("labels") {
		c.LabelFile = o.labelFile
	}
	if f.Changed("label-filter") {
		c.LabelFilter = o.labelFilter
	}
	if f.Changed("device") {
		c.DeviceID = o.device
	}
	if f.Changed("images") {
		c.ImageDir = o.imageDir
	}
	if f.Changed("db") {
		c.DBPath = o.dbPath
	}
	if f.Changed("addr") {
		c.Addr = o.addr
	}
	if f.Changed("tray") {
		c.Tray = o.tray
	}
	if f.Changed("stats-every") {
		c.StatsEvery = o.statsEvery
	}
}

// openStore opens the history database, creating its directory. An empty path means no history.
func openStore(path string) (*store.Store, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return st, nil
}

func runDetect(ctx context.Context, c *config.Config) error {
	log, err := logs.NewLog()
	if err != nil {
		return err
	}

	in, err := intrinsics.Load(c.IntrinsicsPath)
	if err != nil {
		return err
	}
	in.UpdateWithDefaults()

	filter, err := labels.ParseFilterMode(c.LabelFilter)
	if err != nil {
		return err
	}

	st, err := openStore(c.DBPath)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	cam := capture.NewDNNCamera(log, capture.DNNConfig{
		DeviceID:    c.DeviceID,
		BufferCount: c.BufferCount,
		ModelPath:   c.ModelPath,
		Input:       sensor.Geometry{Width: in.InputWidth, Height: in.InputHeight},
		OutputNames: in.OutputNames,
	})

	a, err := app.New(app.Config{
		Params: decoder.Params{
			Threshold:     float32(c.Threshold),
			IoUThreshold:  float32(c.IoUThreshold),
			MaxDetections: c.MaxDetections,
		},
		LabelFile:   c.LabelFile,
		LabelFilter: filter,
		ImageDir:    c.ImageDir,
		StatsEvery:  c.StatsEvery,
	}, app.Deps{
		Camera:     cam,
		Intrinsics: in,
		Log:        log,
		Store:      st,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Run(gctx)
	})
	if c.Addr != "" {
		srv := server.New(server.Config{
			Log:      log,
			Labels:   a.Labels(),
			Latest:   a.Latest(),
			Store:    st,
			Camera:   cam,
			Recorder: a,
			Gatherer: a.Metrics().Registry,
		})
		g.Go(func() error {
			return srv.Run(gctx, c.Addr)
		})
	}

	if c.Tray {
		runTray(gctx, cancel, a, log, c.Addr)
	}
	return g.Wait()
}

// runTray blocks on the tray menu until ctx ends or the user quits.
func runTray(ctx context.Context, cancel context.CancelFunc, a *app.App, log logs.Log, addr string) {
	t := tray.New(a.IsRecording())
	t.OnToggle(func(recording bool) {
		if err := a.SetRecording(recording); err != nil {
			log.Errorf("%v", err)
		}
		log.Infof("Recording %v", recording)
	})
	t.OnPreview(func() {
		if addr == "" {
			log.Warnf("HTTP server is disabled, no preview available")
			return
		}
		log.Infof("Preview at http://localhost%v/api/stream", addr)
	})
	t.OnQuit(cancel)

	go t.Follow(ctx, a.Latest(), a.Labels())
	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()
}
