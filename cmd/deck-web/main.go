package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fpang/ai-deck-builder/internal/cli"
	"github.com/fpang/ai-deck-builder/internal/config"
	"github.com/fpang/ai-deck-builder/internal/logging"
	"github.com/fpang/ai-deck-builder/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// CLI flags
var (
	configFlag         string
	addrFlag           string
	originsFlag        []string
	skipValidationFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "deck-web",
	Short: "Local HTTP API for generating and editing slide decks",
	Long: `deck-web starts a local server exposing the deck API: create decks from
a topic or document, follow progress over a websocket, edit or regenerate
slides and export the result. Decks are saved to the configured store.

Examples:
  deck-web
  deck-web --addr :9090
  deck-web --origin https://decks.example.com`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVar(&configFlag, "config", "", "Config file (default ~/.ai-deck-builder/config.yaml)")
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (default from config, :8080)")
	rootCmd.Flags().StringSliceVar(&originsFlag, "origin", nil, "Additional allowed CORS origins")
	rootCmd.Flags().BoolVar(&skipValidationFlag, "skip-validation", false, "Skip the API key test call at startup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.SetLevel(cfg.LogLevel)
	addr := cfg.Addr
	if addrFlag != "" {
		addr = addrFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startup := logging.NewStartupLogger("deck-web")
	storage, err := cli.OpenStorage(ctx, cfg, startup)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer storage.Close()

	svc := cli.InitService(ctx, cfg, skipValidationFlag)

	srv := server.New(ctx, server.Options{
		Service:         svc,
		Images:          svc,
		Pipeline:        cfg.PipelineOptions(),
		Store:           storage.Decks,
		Documents:       storage.Documents,
		AllowLocalFiles: true,
		Uploader:        storage.Uploader,
		DefaultTheme:    cfg.Theme,
		AllowedOrigins:  originsFlag,
	})
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	startup.
		Config("addr", addr).
		Config("textModel", svc.TextModel()).
		Config("imageModel", svc.ImageModel()).
		Config("origins", strings.Join(originsFlag, ",")).
		Feature("bundleLinks", storage.Uploader != nil).
		Feature("s3Documents", storage.Documents != nil).
		InitDuration(time.Since(initStart)).
		Log()

	fmt.Printf("\n  Deck API: http://localhost%s/api/health\n\n", displayAddr(addr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// displayAddr strips a host from addr so the printed URL uses localhost.
func displayAddr(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return ":" + addr
}
