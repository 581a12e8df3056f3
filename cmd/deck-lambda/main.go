// Package main is the Lambda entry point for the deck API behind an API
// Gateway HTTP API. Generation runs inside each request, so routes that
// create or resume decks respond once the deck text is complete.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-deck-builder/internal/chat"
	"github.com/fpang/ai-deck-builder/internal/config"
	"github.com/fpang/ai-deck-builder/internal/lambdaboot"
	"github.com/fpang/ai-deck-builder/internal/logging"
	"github.com/fpang/ai-deck-builder/internal/server"
	"github.com/fpang/ai-deck-builder/internal/store"
)

var adapter *httpadapter.HandlerAdapterV2

func init() {
	initStart := time.Now()
	logging.InitJSON()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.SetLevel(cfg.LogLevel)

	aws := lambdaboot.InitAWS()
	lambdaboot.LoadGeminiKey(aws.SSM)

	client, err := chat.NewGeminiClient(context.Background(), os.Getenv("GEMINI_API_KEY"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	svc := chat.NewService(client.Models, cfg.TextModel, cfg.ImageModel)

	var decks store.DeckStore = lambdaboot.InitDynamo(aws.Config, cfg.DynamoTable)
	opts := server.Options{
		Service:      svc,
		Images:       svc,
		Pipeline:     cfg.PipelineOptions(),
		Sync:         true,
		DefaultTheme: cfg.Theme,
	}
	startup := lambdaboot.StartupLog("deck-lambda", initStart).
		DynamoTable("decks", cfg.DynamoTable).
		SSMParam("apiKey", lambdaboot.APIKeyParam()).
		Config("textModel", svc.TextModel()).
		Config("imageModel", svc.ImageModel())
	if s3c := lambdaboot.InitS3(aws.Config, cfg.S3Bucket); s3c != nil {
		decks = &store.OffloadingStore{DeckStore: decks, Images: s3c.Offloader(cfg.S3Prefix)}
		opts.Uploader = s3c.Uploader(cfg.S3Prefix)
		opts.Documents = s3c.Client
		startup.S3Bucket("decks", cfg.S3Bucket)
	}
	opts.Store = decks
	if origin := os.Getenv("DECK_ALLOWED_ORIGIN"); origin != "" {
		opts.AllowedOrigins = []string{origin}
	}

	srv := server.New(context.Background(), opts)
	adapter = httpadapter.NewV2(srv.Handler())

	startup.
		Feature("bundleLinks", opts.Uploader != nil).
		InitDuration(time.Since(initStart)).
		Log()
}

func main() {
	lambda.Start(adapter.ProxyWithContext)
}
