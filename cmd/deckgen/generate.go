package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fpang/ai-deck-builder/internal/cli"
	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/fpang/ai-deck-builder/internal/ingest"
	"github.com/fpang/ai-deck-builder/internal/jobs"
	"github.com/fpang/ai-deck-builder/internal/pipeline"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	fileFlag           string
	pickFlag           bool
	titleFlag          string
	themeFlag          string
	audienceFlag       string
	imageWaitFlag      time.Duration
	showFlag           bool
	skipValidationFlag bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [topic]",
	Short: "Generate a new deck",
	Long: `Generate a deck from a topic, or from a document with --file or --pick.
With neither a topic nor a document the topic is prompted for.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Source document (.md or .txt, local path or s3://bucket/key)")
	generateCmd.Flags().BoolVar(&pickFlag, "pick", false, "Choose the source document in a file dialog")
	generateCmd.Flags().StringVarP(&titleFlag, "title", "t", "", "Deck title (default: derived from the topic or document)")
	generateCmd.Flags().StringVar(&themeFlag, "theme", "", "Visual theme (default from config)")
	generateCmd.Flags().StringVarP(&audienceFlag, "audience", "a", "", "Intended audience, used for topic outlines")
	generateCmd.Flags().DurationVar(&imageWaitFlag, "image-wait", 3*time.Minute, "How long to wait for illustrations before saving")
	generateCmd.Flags().BoolVar(&showFlag, "show", false, "Render the finished deck in the terminal")
	generateCmd.Flags().BoolVar(&skipValidationFlag, "skip-validation", false, "Skip the API key test call")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	req, err := a.buildRequest(ctx, args)
	if err != nil {
		return err
	}

	svc := cli.InitService(ctx, a.cfg, skipValidationFlag)
	id := jobs.NewDeckID()
	b := pipeline.New(ctx, svc, svc, deck.NewStore(id), a.cfg.PipelineOptions())

	fmt.Println()
	fmt.Println("============================================")
	fmt.Println("🧱 Deck Generation")
	fmt.Println("============================================")
	fmt.Printf("Deck:  %s\n", id)
	if req.Document != "" {
		fmt.Printf("Mode:  document (%d chars)\n", len(req.Document))
	} else {
		fmt.Printf("Topic: %s\n", req.Topic)
	}
	fmt.Printf("Theme: %s\n", req.Theme)
	fmt.Printf("Model: %s\n", svc.TextModel())
	fmt.Println("--------------------------------------------")

	start := time.Now()
	runErr := runWithProgress(ctx, b, func() error { return b.Run(ctx, req) })
	for runErr != nil && b.Status().Resumable() && ctx.Err() == nil {
		fmt.Printf("\n❌ %s\n", generr.UserMessage(runErr))
		if !strings.EqualFold(cli.Prompt(os.Stdin, os.Stdout, "Resume from the failed step? (y/N)", "n"), "y") {
			break
		}
		runErr = runWithProgress(ctx, b, func() error { return b.Resume(ctx) })
	}

	if imageWaitFlag > 0 {
		fmt.Println("⏳ Waiting for illustrations...")
	}
	d := b.Finalize(ctx, imageWaitFlag)
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := a.storage.Decks.PutDeck(saveCtx, d); err != nil {
		return fmt.Errorf("save deck: %w", err)
	}

	fmt.Println("--------------------------------------------")
	if runErr != nil {
		fmt.Printf("⚠️  Saved partial deck %s (%d slides) in %s\n", d.ID, len(d.Slides), cli.FormatDurationShort(time.Since(start)))
		return runErr
	}
	fmt.Printf("✅ Deck %s complete: %d slides in %s\n", d.ID, len(d.Slides), cli.FormatDurationShort(time.Since(start)))
	if missing := missingImages(d); missing > 0 {
		fmt.Printf("   %d illustration(s) still missing; regenerate those slides to retry\n", missing)
	}
	if showFlag {
		renderDeck(d)
	}
	return nil
}

// buildRequest turns the flags and arguments into a pipeline request,
// prompting for a topic when nothing else was given.
func (a *app) buildRequest(ctx context.Context, args []string) (pipeline.Request, error) {
	req := pipeline.Request{
		Title:    titleFlag,
		Theme:    themeFlag,
		Audience: audienceFlag,
	}
	if req.Theme == "" {
		req.Theme = a.cfg.Theme
	}
	if len(args) > 0 {
		req.Topic = strings.TrimSpace(args[0])
	}

	source := fileFlag
	if pickFlag {
		path, err := cli.PickDocument()
		if err != nil {
			return req, err
		}
		source = path
	}
	if source != "" {
		if !strings.HasPrefix(source, "s3://") {
			path, err := cli.ResolveDocument(source)
			if err != nil {
				return req, err
			}
			source = path
		}
		doc, err := ingest.Load(ctx, a.storage.Documents, source)
		if err != nil {
			return req, err
		}
		req.Document = doc.Text
		if req.Title == "" {
			req.Title = doc.Title
		}
		log.Info().Str("source", doc.Source).Str("title", doc.Title).Msg("Document loaded")
	}

	if req.Topic == "" && req.Document == "" {
		req.Topic = cli.Prompt(os.Stdin, os.Stdout, "Topic", "")
		if req.Topic == "" {
			return req, errors.New("a topic or a document is required")
		}
	}
	return req, nil
}

// runWithProgress prints slides as they land while fn runs.
func runWithProgress(ctx context.Context, b *pipeline.Builder, fn func() error) error {
	events, unsubscribe := b.Store().Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			printEvent(ev)
		}
	}()
	err := fn()
	unsubscribe()
	<-done
	return err
}

func printEvent(ev deck.Event) {
	switch ev.Type {
	case deck.EventSlideAdded:
		if ev.Slide == nil {
			return
		}
		fmt.Printf("   %2d. %s  [%s]\n", ev.Position+1, ev.Slide.Title, ev.Slide.Layout)
	case deck.EventImageReady:
		fmt.Printf("   🖼  image ready for slide %d\n", ev.Position+1)
	case deck.EventStatus:
		if st, ok := ev.Status.(pipeline.Status); ok && st.State == pipeline.StateGenerating && st.Completed == 0 {
			fmt.Printf("📝 Outline ready: %d slides\n", st.Total)
		}
	}
}

func missingImages(d deck.Deck) int {
	n := 0
	for _, s := range d.Slides {
		if s.NeedsImage() && s.ImageURL == "" {
			n++
		}
	}
	return n
}
