package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/csheth/studyflow/internal/fakeserver"
	"github.com/csheth/studyflow/internal/logging"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "listen address")
	summaryDelay := flag.Int("summary-delay", 2, "summary fetches before analysed pages report summaries")
	askDelay := flag.Duration("ask-delay", 1500*time.Millisecond, "delay before each answer")
	seed := flag.String("seed", "", "text file to preload, pages separated by form feeds")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logging.Init(os.Stderr, *debug)
	log := logging.New("devserver")

	srv := fakeserver.New(fakeserver.Options{SummaryDelay: *summaryDelay, AskDelay: *askDelay})
	if *seed != "" {
		raw, err := os.ReadFile(*seed)
		if err != nil {
			fmt.Println("failed to read seed file:", err)
			os.Exit(1)
		}
		id := srv.Seed(filepath.Base(*seed), strings.Split(string(raw), "\f")...)
		log.Info("seeded document", "id", id, "path", *seed)
		fmt.Println("seeded document", id)
	}

	httpSrv := &http.Server{Addr: *addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "addr", *addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Println("server error:", err)
		os.Exit(1)
	}
}
