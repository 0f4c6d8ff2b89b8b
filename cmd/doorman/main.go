// Command doorman runs the network-behavior admission service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/doorman-core/doorman/pkg/doorman"
	"github.com/doorman-core/doorman/pkg/netmap"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"
)

var opt struct {
	Config string
	Help   bool
}

func init() {
	pflag.StringVarP(&opt.Config, "config", "c", "doorman.yaml", "Path to the configuration file")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() != 0 || opt.Help {
		fmt.Printf("usage: %s [options]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(0)
		}
		os.Exit(2)
	}

	c, err := doorman.LoadConfig(opt.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	switch {
	case c.Verbose >= 2:
		level = zerolog.TraceLevel
	case c.Verbose == 1:
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	core, err := doorman.Open(c, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize core")
	}
	defer core.Close()

	h := hlog.NewHandler(log)(
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Debug().
				Str("method", r.Method).
				Stringer("url", r.URL).
				Str("remote", r.RemoteAddr).
				Int("status", status).
				Dur("duration", duration).
				Msg("request")
		})(netmap.RealIP(core.Proxylist, c.RealIPHeader, func(r *http.Request, err error) {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("real ip")
		})(core.Handler())))

	srv := &http.Server{
		Addr:    c.ListenAddr,
		Handler: h,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.Info().Str("addr", c.ListenAddr).Msg("doorman listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("serve admission api")
	}
}
