package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-lessons/internal/calibration"
	"github.com/loqalabs/loqa-lessons/internal/config"
	"github.com/loqalabs/loqa-lessons/internal/lesson"
	"github.com/loqalabs/loqa-lessons/internal/runtime"
	"github.com/loqalabs/loqa-lessons/internal/templates"
)

var version = "0.1.0-dev"

const usage = `usage: lessonctl <command> [flags]

commands:
  templates validate <path>
  templates list [-category name]
  templates categories
  templates preview -id <template> [-slide n] [-width w] [-height h]
  templates prompts -id <template> [-slide n]
  plan -topic <topic> [-difficulty level] [-duration seconds]
  generate -topic <topic> [-difficulty level] [-duration seconds] [-out file]
  calibration stats
  version`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "templates":
		err = runTemplates(os.Args[2:])
	case "plan":
		err = runPlan(ctx, os.Args[2:])
	case "generate":
		err = runGenerate(ctx, os.Args[2:])
	case "calibration":
		err = runCalibration(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// commonFlags registers the flags every pipeline command shares.
func commonFlags(fs *flag.FlagSet) (configPath *string, verbose *bool) {
	configPath = fs.String("config", "", "Path to configuration file (defaults when empty)")
	verbose = fs.Bool("v", false, "Log pipeline activity to stderr")
	return
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runTemplates(args []string) error {
	if len(args) == 0 {
		return errors.New("expected 'validate', 'list', 'categories', 'preview' or 'prompts'")
	}
	fs := flag.NewFlagSet("templates "+args[0], flag.ExitOnError)
	configPath, _ := commonFlags(fs)
	category := fs.String("category", "", "Only list templates in this category")
	id := fs.String("id", "", "Template id")
	slide := fs.Int("slide", 0, "Slide index")
	width := fs.Int("width", 1200, "Container width")
	height := fs.Int("height", 800, "Container height")

	if args[0] == "validate" {
		if len(args) < 2 {
			return errors.New("templates validate: missing catalog path")
		}
		c, err := templates.Load(args[1])
		if err != nil {
			return err
		}
		fmt.Printf("catalog valid: %d templates\n", c.Len())
		return nil
	}

	_ = fs.Parse(args[1:])
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	catalog, err := runtime.LoadCatalog(cfg.Templates)
	if err != nil {
		return err
	}

	switch args[0] {
	case "list":
		list := catalog.All()
		if *category != "" {
			list = catalog.ByCategory(*category)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCATEGORY\tVARIANT\tSLIDES\tNAME")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.ID, s.Category, s.Variant, s.SlideCount, s.Name)
		}
		return tw.Flush()
	case "categories":
		return printJSON(os.Stdout, catalog.Categories())
	case "preview":
		r, err := templates.NewEngine(catalog).Preview(*id, templates.ContainerSize{Width: *width, Height: *height}, *slide)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, r)
	case "prompts":
		set, err := catalog.PromptsAndFallbacks(*id, *slide)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, set)
	default:
		return fmt.Errorf("unknown templates command %q", args[0])
	}
}

// requestFlags registers the lesson request flags.
func requestFlags(fs *flag.FlagSet) *lesson.Request {
	req := &lesson.Request{}
	fs.StringVar(&req.Topic, "topic", "", "Lesson topic")
	fs.StringVar(&req.Difficulty, "difficulty", "beginner", "beginner, intermediate or advanced")
	fs.Float64Var(&req.TargetDuration, "duration", 120, "Target lesson length in seconds")
	fs.StringVar(&req.Voice, "voice", "", "Narration voice (defaults to tts.voice)")
	return req
}

func runPlan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	configPath, verbose := commonFlags(fs)
	req := requestFlags(fs)
	_ = fs.Parse(args)
	if err := req.Validate(); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg.TTS.Enabled = false
	p, err := runtime.NewPipeline(cfg, newLogger(*verbose))
	if err != nil {
		return err
	}
	structure, err := p.Planner.Plan(ctx, req.Topic, req.Difficulty, req.TargetDuration)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, structure)
}

// runGenerate streams progress as NDJSON on stdout and writes the lesson
// to -out, or to stdout after the last event.
func runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath, verbose := commonFlags(fs)
	req := requestFlags(fs)
	out := fs.String("out", "", "Write the lesson JSON to this file")
	noAudio := fs.Bool("no-audio", false, "Skip narration synthesis")
	_ = fs.Parse(args)
	if err := req.Validate(); err != nil {
		return err
	}
	req.LessonID = uuid.NewString()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *noAudio {
		cfg.TTS.Enabled = false
	}
	logger := newLogger(*verbose)
	p, err := runtime.NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Calibration.Save(); err != nil {
			logger.Warn("failed to save calibration", slog.String("error", err.Error()))
		}
	}()

	progress := json.NewEncoder(os.Stdout)
	l, err := p.Generator.Run(ctx, *req, func(ev lesson.Event) {
		ev.Lesson = nil
		ev.Slide = nil
		_ = progress.Encode(ev)
	})
	if err != nil {
		return err
	}

	if *out == "" {
		return printJSON(os.Stdout, l)
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := printJSON(f, l); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runCalibration(args []string) error {
	if len(args) == 0 || args[0] != "stats" {
		return errors.New("expected 'calibration stats'")
	}
	fs := flag.NewFlagSet("calibration stats", flag.ExitOnError)
	configPath, verbose := commonFlags(fs)
	_ = fs.Parse(args[1:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := calibration.Open(cfg.Calibration.Path, newLogger(*verbose))
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, store.Stats())
}
