// Command roast-sim sends a synthetic roast curve to the daemon's UDP sensor
// listener so the full pipeline can run on a desk without hardware.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/roast-probe/internal/sensor"
)

// Curve parameters.
const (
	ambient      = 20.0
	maxTemp      = 230.0
	maxExhaust   = 250.0
	exhaustRatio = 1.15
)

// curve returns the frame for elapsed time into a roast of length total.
// Bean temperature follows a quarter sine from ambient to maxTemp; exhaust
// leads it; humidity falls and CO2 rises linearly. noise adds jitter when set.
func curve(elapsed, total time.Duration, noise *rand.Rand) sensor.Frame {
	progress := 1.0
	if total > 0 {
		progress = math.Min(elapsed.Seconds()/total.Seconds(), 1)
	}
	jitter := func(span float64) float64 {
		if noise == nil {
			return 0
		}
		return (noise.Float64()*2 - 1) * span
	}

	bean := ambient + (maxTemp-ambient)*math.Sin(progress*math.Pi/2) + jitter(0.1)
	exhaust := bean * exhaustRatio
	if exhaust > maxExhaust {
		exhaust = maxExhaust + jitter(1)
	}
	humidity := 60 - 40*progress + jitter(0.5)
	co2 := math.Round(400 + 1000*progress + jitter(10))

	return sensor.Frame{Temp1: &bean, Temp2: &exhaust, Hum1: &humidity, CO2: &co2}
}

type options struct {
	addr     string
	interval time.Duration
	duration time.Duration
	noise    bool
}

func main() {
	var opts options
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&opts.addr, "addr", sensor.DefaultSimAddr, "UDP address of the daemon's sensor listener")
	flag.DurationVar(&opts.interval, "interval", 500*time.Millisecond, "Frame interval")
	flag.DurationVar(&opts.duration, "duration", 15*time.Minute, "Roast length; the curve holds its final values afterwards")
	flag.BoolVar(&opts.noise, "noise", true, "Add random jitter to every value")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level: %v\n", err)
		os.Exit(2)
	}
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.WithError(err).Fatal("simulator failed")
	}
	log.Info("simulation stopped")
}

func run(ctx context.Context, opts options) error {
	conn, err := net.Dial("udp", opts.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.addr, err)
	}
	defer conn.Close()

	var noise *rand.Rand
	if opts.noise {
		noise = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	log.WithFields(log.Fields{
		"addr":     opts.addr,
		"interval": opts.interval,
		"duration": opts.duration,
	}).Info("sending roast curve")

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	start := time.Now()
	for {
		elapsed := time.Since(start)
		frame := curve(elapsed, opts.duration, noise)
		if err := send(conn, frame); err != nil {
			// The daemon may not be listening yet; keep going.
			log.WithError(err).Warn("send failed")
		}
		log.WithFields(log.Fields{
			"elapsed": elapsed.Truncate(time.Second),
			"bt":      fmt.Sprintf("%.1f", *frame.Temp1),
			"et":      fmt.Sprintf("%.1f", *frame.Temp2),
		}).Debug("frame sent")

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func send(conn net.Conn, frame sensor.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}
