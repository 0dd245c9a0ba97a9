package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/convai/internal/conversation"
)

func talkCmd() *cobra.Command {
	var contextJSON string

	cmd := &cobra.Command{
		Use:   "talk",
		Short: "Start a conversation in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			var initial map[string]any
			if contextJSON != "" {
				if err := json.Unmarshal([]byte(contextJSON), &initial); err != nil {
					return fmt.Errorf("invalid --context: %w", err)
				}
			}
			return runTalk(initial)
		},
	}

	cmd.Flags().StringVar(&contextJSON, "context", "", "initial context as a JSON object")
	return cmd
}

func runTalk(initial map[string]any) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	agent, err := newAgent(cfg, logger)
	if err != nil {
		return err
	}
	defer agent.close()

	ended := make(chan struct{})
	var endOnce sync.Once
	unsubscribe := agent.session.Subscribe(func(ev conversation.Event) {
		switch ev.Type {
		case conversation.EventTranscript:
			if !ev.Transcript.Partial {
				fmt.Printf("%s: %s\n", ev.Transcript.Role, ev.Transcript.Text)
			}
		case conversation.EventError:
			logger.Warn("Conversation error", zap.Error(ev.Err))
		case conversation.EventDisconnected:
			endOnce.Do(func() { close(ended) })
		}
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agent.session.Connect(ctx, initial); err != nil {
		return err
	}
	fmt.Println("Connected. Press Ctrl+C to hang up.")

	select {
	case <-ctx.Done():
		agent.session.Disconnect()
	case <-ended:
		logger.Info("Agent ended the conversation")
	}
	return nil
}
