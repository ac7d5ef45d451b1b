package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vibepanel/vibepanel/internal/colors"
	"github.com/vibepanel/vibepanel/internal/notify"
)

type historyStore interface {
	List(f notify.Filter) []notify.Record
	Dismiss(id uint32) error
	ClearAll() error
	SetDND(on bool) error
	DND() bool
}

type notificationsClient interface {
	History(ctx context.Context) (historyStore, func() error, error)
}

// NewNotificationsCmd creates the notifications command group.
func NewNotificationsCmd(client notificationsClient) *cobra.Command {
	if client == nil {
		panic("NewNotificationsCmd: client dependency cannot be nil")
	}

	notificationsCmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"n"},
		Short:   "Inspect and manage the notification history",
		Long: `Inspect and manage the persisted notification history.

A running daemon picks up changes made here the next time it starts.`,
	}

	// withHistory opens the store for the duration of fn.
	withHistory := func(cmd *cobra.Command, fn func(h historyStore) error) (err error) {
		h, closeFn, err := client.History(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if cerr := closeFn(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(h)
	}

	var (
		all     bool
		app     string
		urgency string
		limit   int
		output  string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" {
				if err := validFormat(output); err != nil {
					return err
				}
			}
			f := notify.Filter{IncludeDismissed: all, AppName: app, Limit: limit}
			if urgency != "" {
				u, err := notify.ParseUrgency(urgency)
				if err != nil {
					return err
				}
				f.MinUrgency = u
			}
			return withHistory(cmd, func(h historyStore) error {
				records := h.List(f)
				if output != "" {
					if records == nil {
						records = []notify.Record{}
					}
					return encode(cmd.OutOrStdout(), records, output)
				}
				printRecords(cmd.OutOrStdout(), records, time.Now())
				return nil
			})
		},
	}
	listCmd.Flags().BoolVarP(&all, "all", "a", false, "Include dismissed notifications")
	listCmd.Flags().StringVar(&app, "app", "", "Only show notifications from this application")
	listCmd.Flags().StringVar(&urgency, "urgency", "", "Minimum urgency: low, normal or critical")
	listCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many notifications")
	listCmd.Flags().StringVarP(&output, "output", "o", "", "Output format: json or yaml")

	dismissCmd := &cobra.Command{
		Use:   "dismiss <id>",
		Short: "Dismiss a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil || id == 0 {
				return fmt.Errorf("dismiss: invalid notification id %q", args[0])
			}
			return withHistory(cmd, func(h historyStore) error {
				if err := h.Dismiss(uint32(id)); err != nil {
					return err
				}
				colors.Success("Notification", args[0], "dismissed")
				return nil
			})
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the whole notification history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && os.Getenv("CI") == "" && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Are you sure you want to delete all notifications? (y/N): ") {
				colors.Info("Operation cancelled")
				return nil
			}
			return withHistory(cmd, func(h historyStore) error {
				if err := h.ClearAll(); err != nil {
					return err
				}
				colors.Success("Notification history cleared")
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	dndCmd := &cobra.Command{
		Use:       "dnd [on|off]",
		Short:     "Show or set do-not-disturb",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(h historyStore) error {
				if len(args) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), onOff(h.DND()))
					return nil
				}
				var on bool
				switch strings.ToLower(args[0]) {
				case "on", "true", "1":
					on = true
				case "off", "false", "0":
				default:
					return fmt.Errorf("dnd: expected on or off, got %q", args[0])
				}
				if err := h.SetDND(on); err != nil {
					return err
				}
				colors.Success("Do not disturb", onOff(on))
				return nil
			})
		},
	}

	notificationsCmd.AddCommand(listCmd, dismissCmd, clearCmd, dndCmd)
	return notificationsCmd
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprint(out, question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

var (
	criticalStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dismissedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func printRecords(w io.Writer, records []notify.Record, now time.Time) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No notifications")
		return
	}
	for _, r := range records {
		line := fmt.Sprintf("%-5d %-16s %-8s %-14s %s", r.ID, truncate(r.AppName, 16), r.Urgency, humanize.RelTime(r.Timestamp, now, "ago", "from now"), r.Summary)
		switch {
		case r.Dismissed:
			line = dismissedStyle.Render(line)
		case r.Urgency == notify.Critical:
			line = criticalStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
