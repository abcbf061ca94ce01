package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"kmscap/internal/capture"
	"kmscap/internal/config"
	"kmscap/internal/logging"
	"kmscap/internal/types"
)

const (
	statsInterval = 5 * time.Second
	maxLoggedErrs = 5
)

var log = logging.L("record")

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture a monitor and write the encoded elementary stream",
	Args:  cobra.NoArgs,
	RunE:  runRecord,
}

func init() {
	f := recordCmd.Flags()
	f.String("monitor", "screen", `output to capture, or "screen" for all of them`)
	f.String("card", "/dev/dri/card0", "DRM card the framebuffers live on")
	f.Int("fps", 60, "capture frame rate")
	f.String("codec", "h264", "video codec (h264 or hevc)")
	f.StringP("output", "o", "capture.h264", "elementary stream output file")
	f.Bool("stats", false, "log pipeline stats every 5 seconds")
	f.String("kms-helper", "gsr-kms-server", "path of the privileged KMS helper")
	f.Bool("pkexec", false, "launch the KMS helper through pkexec")

	rootCmd.AddCommand(recordCmd)
}

// frameSource is the part of a capture session the record loop drives.
type frameSource interface {
	Tick() types.HWFrame
	ShouldStop() (bool, error)
	Capture(frame types.HWFrame) error
}

// packetEncoder turns filled encoder frames into elementary-stream packets.
type packetEncoder interface {
	Encode(frame types.HWFrame) ([][]byte, error)
	Close()
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// The graphics context is current on this thread only.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	sess, err := capture.New(capture.Params{
		CardPath:         cfg.CardPath,
		Display:          cfg.Display,
		DisplayToCapture: cfg.Monitor,
	}, captureDeps(cfg))
	if err != nil {
		return err
	}
	defer sess.Destroy()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sess.RequestStop()
	}()

	var enc capture.EncoderParams
	if err := sess.Start(&enc); err != nil {
		return err
	}

	encoder, err := newEncoder(enc, cfg.Codec, cfg.FPS)
	if err != nil {
		return err
	}
	defer encoder.Close()

	out, err := os.Create(cfg.Output)
	if err != nil {
		return err
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	log.Info("recording",
		logging.KeySession, sess.ID,
		"monitor", cfg.Monitor,
		"width", enc.Width, "height", enc.Height,
		"fps", cfg.FPS, "codec", cfg.Codec, "output", cfg.Output)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / float64(cfg.FPS)))
	defer ticker.Stop()

	loopErr := recordLoop(sess, encoder, w, ticker.C, cfg)
	if err := w.Flush(); err != nil && loopErr == nil {
		loopErr = fmt.Errorf("write output: %w", err)
	}
	log.Info("recording stopped", logging.KeySession, sess.ID)
	return loopErr
}

// recordLoop runs one tick, capture and encode per value received on ticks
// until the session asks to stop or ticks is closed. Per-frame capture and
// encode errors are counted and the frame is skipped.
func recordLoop(src frameSource, enc packetEncoder, w io.Writer, ticks <-chan time.Time, cfg *config.Config) error {
	var loopCount, notReady, captureFails, encodeFails, packets int
	var captureErrs, encodeErrs int
	lastStats := time.Now()

	for range ticks {
		loopCount++

		frame := src.Tick()
		if stop, err := src.ShouldStop(); stop {
			return err
		}
		if frame == nil {
			notReady++
			continue
		}

		if err := src.Capture(frame); err != nil {
			captureFails++
			if captureErrs++; captureErrs <= maxLoggedErrs {
				log.Warn("capture error", logging.KeyError, err)
			}
			continue
		}

		encoded, err := enc.Encode(frame)
		if err != nil {
			encodeFails++
			if encodeErrs++; encodeErrs <= maxLoggedErrs {
				log.Warn("encode error", logging.KeyError, err)
			}
			continue
		}
		for _, pkt := range encoded {
			if _, err := w.Write(pkt); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
		packets += len(encoded)

		if cfg.Stats && time.Since(lastStats) >= statsInterval {
			fds, err := openFDs()
			if err != nil {
				log.Debug("fd count unavailable", logging.KeyError, err)
			}
			log.Info("pipeline",
				"loops", loopCount, "not_ready", notReady,
				"capture_fail", captureFails, "encode_fail", encodeFails,
				"packets", packets, "fds", fds)
			loopCount, notReady, captureFails, encodeFails, packets = 0, 0, 0, 0, 0
			lastStats = time.Now()
		}
	}
	return nil
}

func openFDs() (int32, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	return p.NumFDs()
}
