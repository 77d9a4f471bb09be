// Command swtserver is the SWT fan-out driver: it opens a Nexus trace
// serial cable and re-exposes the raw slice stream to any number of
// TCP subscribers, per spec.md §4.9/§6 "The SWT server exposes -device
// PATH, -port N, -baud N, -srcbits N, -autoexit, -pthread, -d."
package main

import (
	"context"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/riscv-trace/dqr/internal/config"
	"github.com/riscv-trace/dqr/internal/itc"
	"github.com/riscv-trace/dqr/internal/serial"
	"github.com/riscv-trace/dqr/internal/swt"
)

func main() {
	var (
		device      = flag.String("device", "", "serial device path carrying the Nexus slice stream")
		port        = flag.Int("port", 9090, "TCP port to fan trace data out on")
		baud        = flag.Int("baud", 115200, "serial baud rate")
		srcbits     = flag.Int("srcbits", 0, "hart-id field width in DATA_ACQUISITION messages (0 disables)")
		autoexit    = flag.Bool("autoexit", false, "exit once the last connected client disconnects")
		pthread     = flag.Bool("pthread", false, "force the mutex/cond threaded-fallback serial loop")
		debug       = flag.Bool("d", false, "enable debug output, including live ITC decode to the log")
		metricsAddr = flag.String("metrics", "", "address to serve Prometheus metrics on (empty disables)")
		itcChannel  = flag.Uint64("itc-channel", 0, "ITC channel address to decode under -d")
	)
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if *device == "" {
		log.Fatal("-device is required")
	}

	cfg := config.DefaultSWT()
	cfg.Device, cfg.Port, cfg.Baud, cfg.SrcBits = *device, *port, *baud, *srcbits
	cfg.AutoExit, cfg.Debug = *autoexit, *debug
	cfg.Pthread = explicitOrDefault(*pthread)
	if *itcChannel != 0 {
		cfg.ITCPrintChannel, cfg.HaveITCPrintChannel = *itcChannel, true
	}

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Port))
	if err != nil {
		log.WithError(err).Fatal("listen")
	}

	var agg *itc.Aggregator
	if cfg.Debug {
		opts := []itc.Option{}
		if cfg.HaveITCPrintChannel {
			opts = append(opts, itc.WithPrintChannel(cfg.ITCPrintChannel))
		}
		agg = itc.New(opts...)
	}

	opener := func() (io.ReadWriteCloser, error) {
		return serial.OpenLink(cfg.Device, cfg.Baud)
	}

	mux := swt.New(cfg, listener, opener, agg, log)

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(swt.NewCollector(mux))
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.WithField("addr", *metricsAddr).Info("serving metrics")
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.WithField("port", cfg.Port).WithField("device", cfg.Device).Info("swt server starting")
	if err := mux.Run(ctx); err != nil {
		log.WithError(err).Fatal("swt server exited")
	}
}

// explicitOrDefault honors -pthread when the operator passed it, and
// otherwise falls back to the kernel-version gate (kernel_linux.go).
func explicitOrDefault(flagValue bool) bool {
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "pthread" {
			explicit = true
		}
	})
	if explicit {
		return flagValue
	}
	return defaultPthreadMode()
}

