package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/ema-companion/internal/config"
)

func run(ctx context.Context, flags runFlags) error {
	cfg, err := config.Load(flags.envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var status *statusFeed
	if flags.tui {
		status = newStatusFeed()
	}

	c, err := newCompanion(cfg, flags, status)
	if err != nil {
		return err
	}
	defer c.shutdown()

	if err := c.start(ctx); err != nil {
		return err
	}

	inputs := make(chan string)
	if flags.manual && !flags.tui {
		go readLines(ctx, os.Stdin, inputs)
	}

	if !flags.tui {
		fmt.Println("=== Ready (say 'Hey Baymax' to wake) ===")
		return c.session.Run(ctx, inputs)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessionDone := make(chan error, 1)
	go func() { sessionDone <- c.session.Run(ctx, inputs) }()

	var manualInputs chan<- string
	if flags.manual {
		manualInputs = inputs
	}
	program := tea.NewProgram(newStatusModel(status, manualInputs), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		return fmt.Errorf("error running status view: %w", err)
	}
	cancel()

	select {
	case err := <-sessionDone:
		return err
	case <-time.After(2 * time.Second):
		return nil
	}
}

// readLines forwards every line of input until ctx ends or input closes.
func readLines(ctx context.Context, input *os.File, lines chan<- string) {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}
