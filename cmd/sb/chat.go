package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hivemetrics/swarmbench/internal/benchspec"
	"github.com/hivemetrics/swarmbench/internal/openrouter"
	"github.com/hivemetrics/swarmbench/internal/planner"
)

func newChatCmd() *cobra.Command {
	var (
		configPath string
		modelIDs   []string
		reps       int
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Author a benchmark in conversation",
		Long:  "Opens an interactive planner session. Describe the benchmark you want; /confirm swarms the current draft, /quit exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, modelIDs, reps)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "swarmbench.yaml", "path to Swarmbench config file")
	cmd.Flags().StringSliceVar(&modelIDs, "models", nil, "model ids for the launched run (default: full roster)")
	cmd.Flags().IntVar(&reps, "reps", 0, "repetitions per model (default: swarm.reps from config)")
	return cmd
}

func runChat(cmd *cobra.Command, configPath string, modelIDs []string, reps int) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("chat requires an interactive terminal")
	}
	if cfg.OpenRouter.APIKey == "" {
		fmt.Fprint(out, "OpenRouter API key: ")
		key, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return fmt.Errorf("read api key: %w", err)
		}
		cfg.OpenRouter.APIKey = strings.TrimSpace(string(key))
	}

	client, err := openrouter.New(openrouter.Opts{
		APIKey:   cfg.OpenRouter.APIKey,
		BaseURL:  cfg.OpenRouter.BaseURL,
		Model:    cfg.OpenRouter.Model,
		SiteURL:  cfg.OpenRouter.SiteURL,
		SiteName: cfg.OpenRouter.SiteName,
	})
	if err != nil {
		return err
	}
	plannerAgent, err := planner.New(planner.Opts{
		Client:    client,
		Model:     cfg.Planner.Model,
		SkillPath: cfg.Planner.SkillPath,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(out)
	defer cancel()

	fmt.Fprintln(out, "Describe the benchmark you want to build. /confirm launches it, /quit exits.")

	scanner := bufio.NewScanner(os.Stdin)
	var history []openrouter.Message
	var draft map[string]any
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/confirm":
			if draft == nil {
				fmt.Fprintln(out, "No draft yet. Keep describing the benchmark.")
				continue
			}
			spec, err := benchspec.Normalize(draft)
			if err != nil {
				fmt.Fprintf(out, "Draft is not runnable yet: %v\n", err)
				continue
			}
			return launchRun(ctx, cmd, cfg, spec, modelIDs, reps)
		default:
			turn, err := plannerAgent.Turn(ctx, history, line)
			if err != nil {
				return err
			}
			history = append(history,
				openrouter.Message{Role: "user", Content: line},
				openrouter.Message{Role: "assistant", Content: turn.AssistantMessage},
			)
			fmt.Fprintln(out, turn.AssistantMessage)
			if turn.DraftSpec != nil {
				draft = turn.DraftSpec
				fmt.Fprintln(out, "\nDraft captured. /confirm to swarm it.")
			}
		}
	}
}
