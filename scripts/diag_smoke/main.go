// diag_smoke polls a running voiceroom's diagnostics API and prints the
// session state, optionally triggering an audio test.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/vovakirdan/voiceroom/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Printf("diag_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8090", "diagnostics base URL")
	testAudio := flag.Bool("test-audio", false, "trigger an audio test after reading state")
	wait := flag.Bool("wait-active", false, "poll until the session is active")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	client := &http.Client{}

	for {
		var state struct {
			Status string                `json:"status"`
			Audio  string                `json:"audio"`
			Room   string                `json:"room"`
			Roster []session.Participant `json:"roster"`
			Error  string                `json:"error"`
		}
		if err := call(ctx, client, http.MethodGet, *addr+"/session", &state); err != nil {
			return err
		}

		fmt.Printf("status=%s audio=%s room=%s participants=%d\n", state.Status, state.Audio, state.Room, len(state.Roster))
		for _, p := range state.Roster {
			self := ""
			if p.IsLocal {
				self = " (You)"
			}
			fmt.Printf("  %s%s audio=%t track=%t\n", p.DisplayName, self, p.AudioEnabled, p.HasAudioTrack)
		}
		if state.Error != "" {
			fmt.Printf("error: %s\n", state.Error)
		}

		if !*wait || state.Status == session.StatusActive.String() {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("session never became active: %w", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}

	if *testAudio {
		var report session.AudioReport
		if err := call(ctx, client, http.MethodPost, *addr+"/session/test-audio", &report); err != nil {
			return err
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		fmt.Println(string(out))
	}
	return nil
}

func call(ctx context.Context, client *http.Client, method, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
