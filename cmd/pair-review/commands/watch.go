package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/in-the-loop-labs/pair-review/internal/channel"
	"github.com/in-the-loop-labs/pair-review/internal/config"
	"github.com/in-the-loop-labs/pair-review/internal/coordinator"
	"github.com/in-the-loop-labs/pair-review/internal/lifecycle"
	"github.com/in-the-loop-labs/pair-review/internal/progress"
	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

var (
	watchBaseURL string
	watchReview  string
	watchRunID   string
	watchSay     string
	watchTimeout time.Duration
)

var (
	cyan   = color.New(color.FgCyan).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a review session and analysis run from the terminal",
	Long: `Attach a headless client to the backend: optionally send one message
and stream the assistant's reply, and optionally follow an analysis
run's progress until it resolves.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchBaseURL, "base-url", "", "Backend base URL")
	watchCmd.Flags().StringVar(&watchReview, "review", "", "Review identifier")
	watchCmd.Flags().StringVar(&watchRunID, "run", "", "Analysis run to follow")
	watchCmd.Flags().StringVar(&watchSay, "say", "", "Message to send to the review assistant")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 5*time.Minute, "Give up after this long")
}

func runWatch(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	baseURL := appConfig.Client.BaseURL
	if watchBaseURL != "" {
		baseURL = watchBaseURL
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	reviewID := appConfig.Client.ReviewID
	if watchReview != "" {
		reviewID = watchReview
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), watchTimeout)
	defer cancel()

	runDone := make(chan types.VoiceState, 1)
	cfg := coordinator.Config{
		BaseURL:      baseURL,
		ReviewID:     reviewID,
		ProviderHint: appConfig.Client.ProviderHint,
		ProgressHooks: progress.Hooks{
			OnTerminal: func(outcome types.VoiceState) { runDone <- outcome },
		},
	}
	if appConfig.Client.ReconnectDelayMS > 0 {
		cfg.ChannelOptions = append(cfg.ChannelOptions,
			channel.WithReconnectDelay(time.Duration(appConfig.Client.ReconnectDelayMS)*time.Millisecond))
	}

	coord := coordinator.New(cfg)
	defer coord.Close()

	if watchSay != "" {
		if err := sendAndStream(ctx, coord, watchSay); err != nil {
			return err
		}
	}

	if watchRunID != "" {
		if err := followRun(ctx, coord, baseURL, watchRunID, runDone); err != nil {
			return err
		}
	}

	if watchSay == "" && watchRunID == "" {
		return fmt.Errorf("nothing to do: pass --say and/or --run")
	}
	return nil
}

// sendAndStream sends one message and renders the streamed reply until
// the turn completes.
func sendAndStream(ctx context.Context, coord *coordinator.Coordinator, content string) error {
	// Open the conversation first so the sink is attached before any
	// frame can arrive. The coordinator carries the attachment across
	// stale-session swaps.
	if _, err := coord.NewConversation(ctx, ""); err != nil {
		return err
	}

	done := make(chan struct{}, 1)
	coord.Attach(&consoleSink{done: done})
	defer coord.Detach()

	fmt.Printf("%s %s\n", bold("you:"), content)

	if _, err := coord.Send(ctx, lifecycle.SendPayload{Content: content}); err != nil {
		if sendErr, ok := err.(*lifecycle.SendError); ok {
			fmt.Printf("%s %s\n", red("error:"), sendErr.Message)
			fmt.Printf("%s %s\n", gray("draft kept:"), sendErr.Draft.Content)
		}
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// followRun fetches run metadata and prints level transitions until the
// run resolves.
func followRun(ctx context.Context, coord *coordinator.Coordinator, baseURL, runID string, runDone <-chan types.VoiceState) error {
	run, err := fetchRun(ctx, baseURL, runID)
	if err != nil {
		return err
	}

	tracker := coord.WatchRun(run)
	fmt.Printf("%s %s (%s/%s)\n", bold("run:"), run.ID, run.Provider, run.Model)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	last := map[int]types.VoiceState{}
	for {
		select {
		case outcome := <-runDone:
			fmt.Printf("%s %s\n", bold("outcome:"), renderState(outcome))
			return nil
		case <-ticker.C:
			for level, state := range tracker.Snapshot() {
				if last[level] != state {
					last[level] = state
					fmt.Printf("  level %d: %s\n", level, renderState(state))
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func fetchRun(ctx context.Context, baseURL, runID string) (*types.Run, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/run/"+runID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("run %s: unexpected status %d", runID, resp.StatusCode)
	}

	var run types.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

func renderState(state types.VoiceState) string {
	switch state {
	case types.VoiceCompleted:
		return green(string(state))
	case types.VoiceFailed:
		return red(string(state))
	case types.VoiceRunning:
		return cyan(string(state))
	case types.VoiceCancelled, types.VoiceSkipped:
		return gray(string(state))
	default:
		return yellow(string(state))
	}
}

// consoleSink renders stream events to stdout.
type consoleSink struct {
	done chan struct{}
}

func (s *consoleSink) OnDelta(text string) {
	fmt.Print(text)
}

func (s *consoleSink) OnToolUse(tool string) {
	fmt.Printf("\n%s %s\n", gray("tool:"), tool)
}

func (s *consoleSink) OnStatus(message string) {
	fmt.Printf("%s %s\n", gray("status:"), message)
}

func (s *consoleSink) OnComplete(msg types.Message) {
	fmt.Println()
	select {
	case s.done <- struct{}{}:
	default:
	}
}

func (s *consoleSink) OnError(message string) {
	fmt.Printf("\n%s %s\n", red("error:"), message)
	select {
	case s.done <- struct{}{}:
	default:
	}
}
