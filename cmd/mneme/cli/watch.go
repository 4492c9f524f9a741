package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/felixgeelhaar/mneme/internal/runtime"
	"github.com/felixgeelhaar/mneme/internal/ui"
	"github.com/felixgeelhaar/mneme/internal/ui/tui"
	"github.com/spf13/cobra"
)

var watchInterval time.Duration

// watchCmd runs the core with its schedules and connectivity probe and shows
// what it does until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run maintenance and outbox replay in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close(context.Background())

		s.core.Start(ctx)
		if ciMode {
			return watchLines(ctx, s.core, cmd.OutOrStdout())
		}
		return watchDashboard(ctx, s.core)
	},
}

func watchDashboard(ctx context.Context, core *runtime.Core) error {
	model := tui.NewModel("mneme")
	program := tea.NewProgram(model, tea.WithContext(ctx))
	t := tui.NewTUI(program)

	detach := ui.Attach(core.Bus(), t, core.Outbox().Size)
	defer detach()

	status := "offline"
	if core.Connectivity().Online() {
		status = "online"
	}
	go func() {
		t.UpdateStatus(status)
		t.UpdatePending(core.Outbox().Size())
		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()
		for {
			t.Stats(snapshot(core))
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func snapshot(core *runtime.Core) tui.StatsMsg {
	st := core.Memory().Stats()
	return tui.StatsMsg{
		Working:     st.Working,
		Episodic:    st.Episodic,
		Pinned:      st.Pinned,
		MaxEpisodic: core.Config().Memory.MaxEpisodic,
		Writes:      st.PendingWrites,
	}
}

// lineUI prints one line per event for non-interactive runs.
type lineUI struct {
	w io.Writer
}

func (l lineUI) UpdateStatus(status string) {}
func (l lineUI) UpdatePending(n int)        {}
func (l lineUI) Log(msg string)             { fmt.Fprintln(l.w, msg) }

func watchLines(ctx context.Context, core *runtime.Core, w io.Writer) error {
	detach := ui.Attach(core.Bus(), lineUI{w: w}, nil)
	defer detach()
	<-ctx.Done()
	return nil
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "refresh", 2*time.Second, "Dashboard refresh interval")
	RootCmd.AddCommand(watchCmd)
}
