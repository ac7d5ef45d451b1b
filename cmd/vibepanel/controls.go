package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/vibepanel/vibepanel/internal/colors"
	"github.com/vibepanel/vibepanel/internal/domain"
)

const defaultVolumeStep = 5

type mixer interface {
	Query(ctx context.Context) (domain.AudioState, error)
	SetVolume(ctx context.Context, percent int) error
	AdjustVolume(ctx context.Context, delta int) (int, error)
	SetMuted(ctx context.Context, muted bool) error
	ToggleMute(ctx context.Context) (bool, error)
}

type volumeClient interface {
	Mixer() (mixer, error)
}

type player interface {
	Transport(ctx context.Context, action domain.PlayerAction) error
	Status(ctx context.Context) (domain.MediaState, error)
}

type mediaClient interface {
	Player() (player, error)
}

type inhibitClient interface {
	Inhibit(ctx context.Context, why string) (io.Closer, error)
}

// exitError carries the exit status of a child process through cobra.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// NewVolumeCmd creates the volume command group.
func NewVolumeCmd(client volumeClient) *cobra.Command {
	if client == nil {
		panic("NewVolumeCmd: client dependency cannot be nil")
	}

	volumeCmd := &cobra.Command{
		Use:   "volume",
		Short: "Read or change the output volume",
		Long: `Read or change the volume of the default output through pactl.

A running daemon sees the change through its own subscription.`,
	}

	withMixer := func(fn func(m mixer) error) error {
		m, err := client.Mixer()
		if err != nil {
			return err
		}
		return fn(m)
	}
	percentArg := func(args []string, def int) (int, error) {
		if len(args) == 0 {
			return def, nil
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 || n > domain.MaxVolume {
			return 0, fmt.Errorf("volume: expected a number between 0 and %d, got %q", domain.MaxVolume, args[0])
		}
		return n, nil
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the current volume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMixer(func(m mixer) error {
				st, err := m.Query(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), st.Volume)
				return nil
			})
		},
	}
	setCmd := &cobra.Command{
		Use:   "set <percent>",
		Short: fmt.Sprintf("Set the volume (0-%d, above 100 amplifies)", domain.MaxVolume),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := percentArg(args, 0)
			if err != nil {
				return err
			}
			return withMixer(func(m mixer) error { return m.SetVolume(cmd.Context(), n) })
		},
	}
	adjust := func(use, short string, sign int) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [amount]",
			Short: short,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := percentArg(args, defaultVolumeStep)
				if err != nil {
					return err
				}
				return withMixer(func(m mixer) error {
					v, err := m.AdjustVolume(cmd.Context(), sign*n)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), v)
					return nil
				})
			},
		}
	}
	mute := func(use, short string, muted bool) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMixer(func(m mixer) error { return m.SetMuted(cmd.Context(), muted) })
			},
		}
	}
	toggleCmd := &cobra.Command{
		Use:   "toggle-mute",
		Short: "Toggle mute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMixer(func(m mixer) error {
				muted, err := m.ToggleMute(cmd.Context())
				if err != nil {
					return err
				}
				if muted {
					fmt.Fprintln(cmd.OutOrStdout(), "muted")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "unmuted")
				}
				return nil
			})
		},
	}

	volumeCmd.AddCommand(
		getCmd,
		setCmd,
		adjust("inc", "Raise the volume (default 5)", 1),
		adjust("dec", "Lower the volume (default 5)", -1),
		mute("mute", "Mute the output", true),
		mute("unmute", "Unmute the output", false),
		toggleCmd,
	)
	return volumeCmd
}

// NewMediaCmd creates the media command group.
func NewMediaCmd(client mediaClient) *cobra.Command {
	if client == nil {
		panic("NewMediaCmd: client dependency cannot be nil")
	}

	mediaCmd := &cobra.Command{
		Use:   "media",
		Short: "Control the active media player",
		Long: `Send playback commands to the MPRIS player the panel would show:
the playing one first, then a paused player with a track.`,
	}

	transport := func(action domain.PlayerAction, short string) *cobra.Command {
		return &cobra.Command{
			Use:   string(action),
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := client.Player()
				if err != nil {
					return err
				}
				return p.Transport(cmd.Context(), action)
			},
		}
	}

	var output string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current playback status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" {
				if err := validFormat(output); err != nil {
					return err
				}
			}
			p, err := client.Player()
			if err != nil {
				return err
			}
			st, err := p.Status(cmd.Context())
			if err != nil {
				return err
			}
			if output != "" {
				return encode(cmd.OutOrStdout(), st, output)
			}
			fmt.Fprintln(cmd.OutOrStdout(), summarize(domain.ServiceState{Payload: st}))
			return nil
		},
	}
	statusCmd.Flags().StringVarP(&output, "output", "o", "", "Output format: json or yaml")

	mediaCmd.AddCommand(
		transport(domain.PlayPause, "Toggle play and pause"),
		transport(domain.Next, "Skip to the next track"),
		transport(domain.Previous, "Go to the previous track"),
		transport(domain.Stop, "Stop playback"),
		statusCmd,
	)
	return mediaCmd
}

// NewInhibitCmd creates the inhibit command.
func NewInhibitCmd(client inhibitClient) *cobra.Command {
	if client == nil {
		panic("NewInhibitCmd: client dependency cannot be nil")
	}

	var reason string
	inhibitCmd := &cobra.Command{
		Use:   "inhibit [--reason text] -- <command> [args...]",
		Short: "Run a command with idle and sleep inhibited",
		Long: `Hold a logind idle and sleep inhibitor while a command runs.

The command's exit status becomes the exit status of vibepanel.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := client.Inhibit(cmd.Context(), reason)
			if err != nil {
				return fmt.Errorf("inhibit: %w", err)
			}
			defer func() {
				if err := lock.Close(); err != nil {
					colors.Debug("releasing inhibitor failed:", err.Error())
				}
			}()

			child := exec.CommandContext(cmd.Context(), args[0], args[1:]...)
			child.Stdin = cmd.InOrStdin()
			child.Stdout = cmd.OutOrStdout()
			child.Stderr = cmd.ErrOrStderr()
			child.Env = os.Environ()
			err = child.Run()
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return &exitError{code: max(exitErr.ExitCode(), 1)}
			}
			if err != nil {
				return fmt.Errorf("inhibit: run %s: %w", args[0], err)
			}
			return nil
		},
	}
	inhibitCmd.Flags().StringVarP(&reason, "reason", "r", "User requested", "Reason shown by system monitors")
	inhibitCmd.Flags().SetInterspersed(false)
	return inhibitCmd
}
