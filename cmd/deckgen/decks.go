package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fpang/ai-deck-builder/internal/cli"
	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/export"
	"github.com/fpang/ai-deck-builder/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	instructionFlag string
	formatFlag      string
	outputFlag      string
	linkFlag        bool
	widthFlag       int
	slideWaitFlag   time.Duration
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved decks, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		decks, err := a.storage.Decks.ListDecks(cmd.Context())
		if err != nil {
			return err
		}
		if len(decks) == 0 {
			fmt.Println("No decks yet. Create one with: deckgen generate \"<topic>\"")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tSLIDES\tUPDATED")
		for _, d := range decks {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.ID, d.Title, d.Slides, d.UpdatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <deck-id>",
	Short: "Render a deck in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		d, err := a.loadDeck(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		renderDeck(*d)
		return nil
	},
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <deck-id> <slide-id>",
	Short: "Rewrite one slide following an instruction",
	Args:  cobra.ExactArgs(2),
	RunE:  runRegenerate,
}

var exportCmd = &cobra.Command{
	Use:   "export <deck-id>",
	Short: "Export a deck as Markdown or a zip bundle",
	Long: `Export a deck. --format markdown writes the deck as Markdown, --format
bundle writes a zip with deck.json, slides.md and the images. --link
uploads the bundle to the configured S3 bucket and prints a download link.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <deck-id>",
	Short: "Delete a saved deck",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if _, err := a.loadDeck(cmd.Context(), args[0]); err != nil {
			return err
		}
		if err := a.storage.Decks.DeleteDeck(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("🗑  Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	showCmd.Flags().IntVar(&widthFlag, "width", 100, "Word wrap width")
	regenerateCmd.Flags().StringVarP(&instructionFlag, "instruction", "i", "Improve this slide.", "What to change about the slide")
	regenerateCmd.Flags().DurationVar(&slideWaitFlag, "image-wait", 2*time.Minute, "How long to wait for a new illustration")
	regenerateCmd.Flags().BoolVar(&skipValidationFlag, "skip-validation", false, "Skip the API key test call")
	exportCmd.Flags().StringVar(&formatFlag, "format", "markdown", "Export format: markdown or bundle")
	exportCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output file (default: stdout for markdown, <deck-id>.zip for bundle)")
	exportCmd.Flags().BoolVar(&linkFlag, "link", false, "Upload the bundle to S3 and print a download link")
	rootCmd.AddCommand(listCmd, showCmd, regenerateCmd, exportCmd, deleteCmd)
}

func (a *app) loadDeck(ctx context.Context, id string) (*deck.Deck, error) {
	d, err := a.storage.Decks.GetDeck(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("deck %s not found", id)
	}
	return d, nil
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	d, err := a.loadDeck(ctx, args[0])
	if err != nil {
		return err
	}
	svc := cli.InitService(ctx, a.cfg, skipValidationFlag)
	b := pipeline.New(ctx, svc, svc, deck.NewStore(d.ID), a.cfg.PipelineOptions())
	b.Load(*d)

	fmt.Printf("⏳ Regenerating slide %s: %s\n", args[1], instructionFlag)
	slide, err := b.Regenerate(ctx, args[1], instructionFlag)
	if err != nil {
		return err
	}
	if slide.NeedsImage() && slide.ImageURL == "" {
		fmt.Println("⏳ Waiting for the illustration...")
	}
	updated := b.Finalize(ctx, slideWaitFlag)
	if err := a.storage.Decks.PutDeck(ctx, updated); err != nil {
		return fmt.Errorf("save deck: %w", err)
	}
	fmt.Printf("✅ Slide %s is now %q [%s]\n", slide.ID, slide.Title, slide.Layout)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	d, err := a.loadDeck(ctx, args[0])
	if err != nil {
		return err
	}

	if linkFlag {
		if a.storage.Uploader == nil {
			return fmt.Errorf("--link needs s3Bucket in the config or DECK_S3_BUCKET")
		}
		pub, err := a.storage.Uploader.PublishBundle(ctx, *d)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Uploaded %s (%d slides, %d images)\n", pub.Key, pub.Stats.Slides, pub.Stats.Images)
		if pub.URL != "" {
			fmt.Println(pub.URL)
		}
		return nil
	}

	switch strings.ToLower(formatFlag) {
	case "markdown", "md":
		md := export.Markdown(*d)
		if outputFlag == "" {
			fmt.Print(md)
			return nil
		}
		return os.WriteFile(outputFlag, []byte(md), 0o644)

	case "bundle", "zip":
		path := outputFlag
		if path == "" {
			path = d.ID + ".zip"
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		stats, err := export.WriteBundle(f, *d)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
			return err
		}
		fmt.Printf("✅ Wrote %s (%d slides, %d images)\n", path, stats.Slides, stats.Images)
		return nil

	default:
		return fmt.Errorf("unknown format %q (want markdown or bundle)", formatFlag)
	}
}

// renderDeck prints d as styled Markdown followed by the slide IDs used by
// regenerate. Inline images are shown as placeholders.
func renderDeck(d deck.Deck) {
	md := export.RenderMarkdown(d, export.MarkdownOptions{
		ImagePath: func(s deck.Slide) string {
			if deck.IsDataURI(s.ImageURL) {
				return ""
			}
			return s.ImageURL
		},
	})
	fmt.Println(cli.RenderMarkdown(md, widthFlag))

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SLIDE\tLAYOUT\tTITLE")
	for _, s := range d.Slides {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Layout, s.Title)
	}
	tw.Flush()
}
