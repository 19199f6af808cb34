// Package ctl implements the avatarctl command tree: daemon status,
// task submission, session control, and environment diagnostics.
package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"avatard/internal/gpu"
	"avatard/pkg/types"

	"github.com/spf13/cobra"
)

// BuildRootCmd constructs the Cobra command tree.
func BuildRootCmd() *cobra.Command {
	defaultServer := "http://127.0.0.1:8090"
	if v := os.Getenv("AVATARD_SERVER"); v != "" {
		defaultServer = v
	}
	var server string
	var asJSON bool

	root := &cobra.Command{
		Use:           "avatarctl",
		Short:         "Control and inspect a running avatard daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&server, "server", defaultServer, "Daemon base URL (defaults AVATARD_SERVER)")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "Print raw JSON responses")

	client := func() *Client { return NewClient(server) }

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show GPU, session, queue, and cache state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(st)
			}
			printStatus(st)
			return nil
		},
	}
	root.AddCommand(statusCmd)

	// task group
	taskCmd := &cobra.Command{Use: "task", Short: "One-shot generation tasks", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("task requires a subcommand: submit")
	}}
	var taskReq types.SubmitTaskRequest
	taskSubmit := &cobra.Command{
		Use:     "submit",
		Short:   "Submit a task and wait for the rendered video",
		Example: "  avatarctl task submit --persona anchor-01 --audio /data/in/greeting.wav --quality fast",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskReq.PersonaID == "" || taskReq.AudioRef == "" {
				return fmt.Errorf("--persona and --audio are required")
			}
			resp, err := client().SubmitTask(cmd.Context(), taskReq)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(resp)
			}
			fmt.Printf("task %s done in %dms: %s\n", resp.TaskID, resp.LatencyMs, resp.VideoRef)
			return nil
		},
	}
	taskSubmit.Flags().StringVar(&taskReq.PersonaID, "persona", "", "Persona id")
	taskSubmit.Flags().StringVar(&taskReq.SourceRef, "source", "", "Source media for an uncached persona")
	taskSubmit.Flags().StringVar(&taskReq.AudioRef, "audio", "", "Driving audio reference")
	taskSubmit.Flags().StringVar(&taskReq.Quality, "quality", "", "Quality hint: fast|best")
	taskSubmit.Flags().StringVar(&taskReq.Priority, "priority", "", "Priority hint: low")
	taskSubmit.Flags().StringVar(&taskReq.CallerID, "caller", "", "Caller identity for tier classification")
	taskCmd.AddCommand(taskSubmit)
	root.AddCommand(taskCmd)

	// session group
	sessionCmd := &cobra.Command{Use: "session", Short: "Streaming session control", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("session requires a subcommand: start|stop|status")
	}}
	var startReq types.StartSessionRequest
	sessionStart := &cobra.Command{
		Use:   "start",
		Short: "Open a streaming session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if startReq.PersonaID == "" {
				return fmt.Errorf("--persona is required")
			}
			resp, err := client().StartSession(cmd.Context(), startReq)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(resp)
			}
			fmt.Println(resp.SessionID)
			return nil
		},
	}
	sessionStart.Flags().StringVar(&startReq.PersonaID, "persona", "", "Persona id")
	sessionStart.Flags().StringVar(&startReq.SourceRef, "source", "", "Source media for an uncached persona")
	sessionStart.Flags().StringVar(&startReq.Language, "language", "", "Speech recognition language hint")

	sessionStop := &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Stop a session (idempotent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().StopSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(resp)
			}
			if resp.Stopped {
				fmt.Println("stopped")
			} else {
				fmt.Println("already stopped")
			}
			return nil
		},
	}
	sessionStatus := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show one session's pipeline counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().SessionStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(st)
			}
			printSessionStatus(st)
			return nil
		},
	}
	sessionCmd.AddCommand(sessionStart, sessionStop, sessionStatus)
	root.AddCommand(sessionCmd)

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check daemon reachability and local GPU probe sanity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), client())
		},
	}
	root.AddCommand(doctorCmd)

	return root
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(st types.StatusResponse) {
	fmt.Printf("sessions: %d active, tasks: %d outstanding\n", st.ActiveSessions, st.OutstandingTasks)
	for _, g := range st.GPUs {
		health := "healthy"
		if !g.Healthy {
			health = "UNHEALTHY"
		}
		fmt.Printf("  gpu %d %-12s %d/%d tasks  %3.0f%% util  %2.0fC  %s\n",
			g.ID, g.Name, g.CurrentTasks, g.MaxTasks, g.UtilizationPct, g.TemperatureC, health)
	}
	for _, tier := range st.Tiers {
		if tier.Queued > 0 {
			fmt.Printf("  queue %-6s %d waiting\n", tier.Tier, tier.Queued)
		}
	}
	fmt.Printf("personas: %d cached (%d ready), %d evicted\n", st.Personas.Entries, st.Personas.Ready, st.Personas.Evicted)
}

func printSessionStatus(st types.SessionStatusResponse) {
	state := "stopped"
	switch {
	case st.Active:
		state = "active"
	case st.Faulted:
		state = "faulted"
	}
	fmt.Printf("%s, up %.0fs, gpus audio=%d llm=%d video=%d\n", state, st.UptimeSec, st.AudioGPU, st.LLMGPU, st.VideoGPU)
	fmt.Printf("processed: %d audio, %d replies, %d speech, %d video, avg latency %.0fms\n",
		st.AudioProcessed, st.RepliesProcessed, st.SpeechProcessed, st.VideoProcessed, st.AvgLatencyMs)
}

func runDoctor(ctx context.Context, c *Client) error {
	fail := 0
	check := func(name string, err error, detail string) {
		if err != nil {
			fail++
			fmt.Printf("FAIL %-20s %v\n", name, err)
			return
		}
		fmt.Printf("ok   %-20s %s\n", name, detail)
	}

	body, code, err := c.probeEndpoint(ctx, "/healthz")
	if err == nil && code != 200 {
		err = fmt.Errorf("status %d", code)
	}
	check("daemon liveness", err, body)

	body, code, err = c.probeEndpoint(ctx, "/readyz")
	if err == nil && code != 200 {
		err = fmt.Errorf("status %d: %s", code, body)
	}
	check("daemon readiness", err, body)

	probe := &gpu.SMIProbe{}
	readings, err := probe.Sample(ctx)
	detail := ""
	if err == nil {
		detail = fmt.Sprintf("%d devices visible", len(readings))
	}
	check("local gpu probe", err, detail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}
