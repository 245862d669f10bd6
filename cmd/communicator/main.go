// Command communicator is a terminal voice client for the live interpreter
// bridge. It opens the local microphone and speaker, connects a live session,
// prints transcripts as they arrive, and swaps the counterpart language on
// request without restarting.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/lokalos/citydna/internal/config"
	"github.com/lokalos/citydna/pkg/audio"
	"github.com/lokalos/citydna/pkg/live"
	"github.com/lokalos/citydna/pkg/live/bridge"
	livegemini "github.com/lokalos/citydna/pkg/live/gemini"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	counterpart := flag.String("language", "Kannada", "the local party's language")
	scenario := flag.String("scenario", "", "optional situation context for the interpreter")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "communicator: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "communicator: %v\n", err)
		}
		return 1
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	apiKey := cfg.Live.APIKey
	if apiKey == "" {
		apiKey = cfg.Providers.Gemini.APIKey
	}
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "communicator: no API key: set live.api_key or providers.gemini.api_key")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := talk(ctx, cfg, apiKey, *counterpart, *scenario, logger); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "communicator: %v\n", err)
		return 1
	}
	return 0
}

func talk(ctx context.Context, cfg *config.Config, apiKey, counterpart, scenario string, logger *slog.Logger) error {
	mic, err := audio.OpenMicrophone(audio.Config{SampleRate: live.InputSampleRate})
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	defer mic.Close()

	speaker, err := audio.OpenSpeaker(audio.Config{SampleRate: live.OutputSampleRate})
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	defer speaker.Close()

	var dialOpts []livegemini.Option
	if cfg.Live.Model != "" {
		dialOpts = append(dialOpts, livegemini.WithModel(cfg.Live.Model))
	}
	if cfg.Live.Endpoint != "" {
		dialOpts = append(dialOpts, livegemini.WithBaseURL(cfg.Live.Endpoint))
	}
	dialer := livegemini.New(apiKey, dialOpts...)

	sessionID := uuid.NewString()
	userLanguage := cfg.Live.UserLanguage
	if userLanguage == "" {
		userLanguage = "English"
	}

	b := bridge.New(dialer, mic, speaker,
		bridge.WithLogger(logger.With("session_id", sessionID)),
		bridge.WithTranscripts(func(ev live.TranscriptEvent) {
			prefix := "you"
			if ev.Role == live.RoleModel {
				prefix = "interpreter"
			}
			fmt.Printf("[%s] %s\n", prefix, ev.Text)
		}),
	)

	liveCfg := live.Config{
		UserLanguage:        userLanguage,
		CounterpartLanguage: counterpart,
		Voice:               cfg.Live.Voice,
		Scenario:            scenario,
	}
	if err := b.Start(ctx, liveCfg); err != nil {
		return err
	}
	defer b.Close()

	fmt.Printf("Interpreting %s ↔ %s. Speak into the microphone.\n", userLanguage, counterpart)
	fmt.Println("Type a language name to switch the local side, or Ctrl+C to quit.")

	// Stdin drives language swaps; the signal context drives shutdown.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nclosing session…")
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if err := b.SetLanguages(ctx, userLanguage, line); err != nil {
				fmt.Fprintf(os.Stderr, "language switch failed: %v\n", err)
				continue
			}
			fmt.Printf("Now interpreting %s ↔ %s.\n", userLanguage, line)
		}
	}
}
