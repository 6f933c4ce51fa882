package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tokumeifriends/koinomae-api1/internal/config"
	"github.com/tokumeifriends/koinomae-api1/internal/translator"
)

const scoreUsage = `Usage:
  koinomae-api score [--config <path>] [--file <transcript>]

Flags:
  --config string   Path to YAML configuration file
  --file   string   Transcript file to grade (reads stdin when omitted)`

const maxTranscriptBytes = 1 << 20

func score(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, scoreUsage)
	}

	var cfgPath, file string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&file, "file", "", "transcript file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse score flags: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	transcript, err := readTranscript(file, os.Stdin)
	if err != nil {
		return err
	}

	_, scorer, err := buildPipelines(cfg, logger, nil)
	if err != nil {
		return err
	}

	result, err := scorer.Score(ctx, transcript)
	if err != nil {
		return fmt.Errorf("score transcript: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(translator.FromScoreResult(result))
}

func readTranscript(path string, stdin io.Reader) (string, error) {
	r := stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open transcript: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxTranscriptBytes))
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}
