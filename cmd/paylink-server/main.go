// Command paylink-server runs a payment-gated media server: manifest
// requests settle one exact-scheme payment and mint an access receipt,
// segment requests present aggregated deferred vouchers. The media handlers
// serve stub HLS content standing in for an upstream origin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	chix402 "github.com/bus402/x402-video-paylink/http/chi"
	"github.com/bus402/x402-video-paylink/metrics"
	"github.com/bus402/x402-video-paylink/pricing"
	"github.com/bus402/x402-video-paylink/receipt"
	"github.com/bus402/x402-video-paylink/retry"
	"github.com/bus402/x402-video-paylink/voucher"

	x402 "github.com/bus402/x402-video-paylink"
	httpx402 "github.com/bus402/x402-video-paylink/http"
)

func main() {
	var (
		addr           = flag.String("addr", ":8080", "listen address")
		payTo          = flag.String("pay-to", "", "payee address (required)")
		network        = flag.String("network", "base-sepolia", "x402 network identifier")
		facilitatorURL = flag.String("facilitator", "https://x402.org/facilitator", "facilitator base URL")
		receiptKey     = flag.String("receipt-key", "", "receipt signing key, at least 32 bytes (required)")
		manifestPrice  = flag.String("manifest-price", "0.01", "exact-scheme price per manifest")
		segmentPrice   = flag.String("segment-price", "0.001", "deferred-scheme price per segment")
		purgeInterval  = flag.Duration("purge-interval", time.Minute, "voucher store purge interval")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *payTo == "" {
		logger.Error("missing required flag", "flag", "pay-to")
		os.Exit(1)
	}

	if err := run(logger, config{
		addr:           *addr,
		payTo:          *payTo,
		network:        *network,
		facilitatorURL: *facilitatorURL,
		receiptKey:     *receiptKey,
		manifestPrice:  *manifestPrice,
		segmentPrice:   *segmentPrice,
		purgeInterval:  *purgeInterval,
	}); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type config struct {
	addr           string
	payTo          string
	network        string
	facilitatorURL string
	receiptKey     string
	manifestPrice  string
	segmentPrice   string
	purgeInterval  time.Duration
}

func run(logger *slog.Logger, cfg config) error {
	table, err := pricing.NewTable(pricing.Config{
		PayTo: cfg.payTo,
		Rules: []pricing.Rule{
			{
				Method:      http.MethodGet,
				Pattern:     "/stream/*",
				Scheme:      x402.SchemeExact,
				Price:       cfg.manifestPrice,
				Network:     cfg.network,
				Description: "Stream manifest access",
				MimeType:    "application/vnd.apple.mpegurl",
			},
			{
				Method:      http.MethodGet,
				Pattern:     "/stream/**",
				Scheme:      x402.SchemeDeferred,
				Price:       cfg.segmentPrice,
				Network:     cfg.network,
				Description: "Stream segment delivery",
				MimeType:    "video/MP2T",
			},
		},
	})
	if err != nil {
		return fmt.Errorf("pricing table: %w", err)
	}

	issuer, err := receipt.NewIssuer([]byte(cfg.receiptKey))
	if err != nil {
		return fmt.Errorf("receipt issuer: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(registry)

	store := voucher.NewMemoryStore()
	validator := voucher.NewValidator(store)

	facilitatorClient := &httpx402.FacilitatorClient{
		BaseURL: cfg.facilitatorURL,
		Client:  &http.Client{},
		Retry:   retry.DefaultConfig,
	}

	exactConfig := &httpx402.ExactConfig{
		Routes:      table,
		Facilitator: facilitatorClient,
		Receipts:    issuer,
		Metrics:     collector,
		Logger:      logger,
	}
	deferredConfig := &httpx402.DeferredConfig{
		Routes:    table,
		Validator: validator,
		Metrics:   collector,
		Logger:    logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Group(func(r chi.Router) {
		r.Use(chix402.NewPaymentMiddleware(exactConfig, deferredConfig))
		r.Get("/stream/{manifest}", serveManifest)
		r.Get("/stream/{id}/{segment}", serveSegment)
	})

	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go purgeLoop(ctx, logger, store, cfg.purgeInterval)

	server := &http.Server{
		Addr:    cfg.addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.addr, "network", cfg.network)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// purgeLoop drops expired voucher state on a fixed interval.
func purgeLoop(ctx context.Context, logger *slog.Logger, store *voucher.MemoryStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if purged := store.PurgeExpired(now); purged > 0 {
				logger.Info("purged expired vouchers", "count", purged)
			}
		}
	}
}

// serveManifest serves a stub HLS playlist for the stream, referencing the
// segment URLs gated by the deferred scheme.
func serveManifest(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(chi.URLParam(r, "manifest"), ".m3u8")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:0\n")
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, "#EXTINF:6.0,\n/stream/%s/seg%d.ts\n", id, i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	_, _ = w.Write([]byte(b.String()))
}

// serveSegment serves a stub MPEG-TS segment.
func serveSegment(w http.ResponseWriter, r *http.Request) {
	segment := chi.URLParam(r, "segment")
	if !strings.HasSuffix(segment, ".ts") {
		http.NotFound(w, r)
		return
	}

	// 188-byte sync pattern standing in for real transport stream data.
	packet := make([]byte, 188)
	packet[0] = 0x47

	w.Header().Set("Content-Type", "video/MP2T")
	_, _ = w.Write(packet)
}
