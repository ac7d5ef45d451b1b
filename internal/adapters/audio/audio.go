// Package audio reports the default sink and source through pactl.
package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
)

const (
	DefaultBackend = "pactl"
	defaultSink    = "@DEFAULT_SINK@"
	defaultSource  = "@DEFAULT_SOURCE@"

	eventKey = "audio"
)

var percentRe = regexp.MustCompile(`(\d+)%`)

// runFunc runs one pactl invocation and returns its stdout.
type runFunc func(ctx context.Context, args ...string) (string, error)

// Adapter is the audio domain adapter.
type Adapter struct {
	*source.Emitter
	logger logging.Logger
	binary string
	run    runFunc

	mu      sync.Mutex
	last    domain.AudioState
	running bool
}

// New creates the adapter. backend names the pactl binary; empty selects pactl.
func New(backend string, logger logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Nop()
	}
	if backend == "" {
		backend = DefaultBackend
	}
	a := &Adapter{Emitter: source.NewEmitter(domain.Audio), logger: logger, binary: backend}
	a.run = a.exec
	return a
}

func (a *Adapter) exec(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, a.binary, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", a.binary, strings.Join(args, " "), err)
	}
	return string(out), nil
}

func (a *Adapter) Probe(ctx context.Context) domain.Availability {
	if _, err := exec.LookPath(a.binary); err != nil {
		return domain.Unavailable
	}
	if _, err := a.run(ctx, "info"); err != nil {
		return domain.Unavailable
	}
	return domain.Ready
}

func (a *Adapter) Start(ctx context.Context) (source.Handle, error) {
	if _, err := exec.LookPath(a.binary); err != nil {
		return nil, source.Unavailable(a.binary + " not installed")
	}
	st, err := a.Query(ctx)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(subCtx, a.binary, "subscribe")
	// the scanner reads our own pipe so Wait never races it
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, source.Transient("pactl subscribe", err)
	}
	exited := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		exited <- err
	}()
	release := func() error {
		cancel()
		pr.Close()
		err := <-exited
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) || errors.Is(err, context.Canceled) || errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		return err
	}

	a.mu.Lock()
	a.last, a.running = st, true
	a.mu.Unlock()
	if err := a.Emit(ctx, eventKey, st); err != nil {
		release()
		return nil, err
	}

	return source.Go(ctx, release, func(ctx context.Context) error {
		sc := bufio.NewScanner(pr)
		for sc.Scan() {
			if !Relevant(sc.Text()) {
				continue
			}
			if err := a.refresh(ctx); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		return source.Transient("pactl subscribe", errors.New("event stream ended"))
	}), nil
}

// SetVolume sets the default sink volume, clamped to [0, domain.MaxVolume].
func (a *Adapter) SetVolume(ctx context.Context, percent int) error {
	percent = max(0, min(percent, domain.MaxVolume))
	return a.control(ctx, func(st *domain.AudioState) { st.Volume = percent },
		"set-sink-volume", defaultSink, strconv.Itoa(percent)+"%")
}

// AdjustVolume changes the default sink volume by delta and returns the
// volume that was set.
func (a *Adapter) AdjustVolume(ctx context.Context, delta int) (int, error) {
	st, err := a.Query(ctx)
	if err != nil {
		return 0, err
	}
	v := max(0, min(st.Volume+delta, domain.MaxVolume))
	return v, a.SetVolume(ctx, v)
}

// SetMuted mutes or unmutes the default sink.
func (a *Adapter) SetMuted(ctx context.Context, muted bool) error {
	arg := "0"
	if muted {
		arg = "1"
	}
	return a.control(ctx, func(st *domain.AudioState) { st.Muted = muted },
		"set-sink-mute", defaultSink, arg)
}

// ToggleMute flips the mute state of the default sink and returns the new one.
func (a *Adapter) ToggleMute(ctx context.Context) (bool, error) {
	st, err := a.Query(ctx)
	if err != nil {
		return false, err
	}
	return !st.Muted, a.SetMuted(ctx, !st.Muted)
}

// control runs a pactl command. While the adapter runs the change is
// predicted first and the subscription confirms it.
func (a *Adapter) control(ctx context.Context, predict func(*domain.AudioState), args ...string) error {
	apply := func(ctx context.Context) error {
		if _, err := a.run(ctx, args...); err != nil {
			return source.Transient("audio control", err)
		}
		return nil
	}
	a.mu.Lock()
	running, last := a.running, a.last
	a.mu.Unlock()
	if !running {
		return apply(ctx)
	}
	predicted := last
	predict(&predicted)
	return a.Attempt(ctx, eventKey, predicted, last, apply)
}

func (a *Adapter) refresh(ctx context.Context) error {
	st, err := a.Query(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	a.mu.Lock()
	same := st == a.last
	a.last = st
	a.mu.Unlock()
	if !same {
		_ = a.Emit(ctx, eventKey, st)
	}
	return nil
}

// Query reads the default sink and source.
func (a *Adapter) Query(ctx context.Context) (domain.AudioState, error) {
	var st domain.AudioState
	sink, err := a.run(ctx, "get-default-sink")
	if err != nil {
		return st, source.Transient("audio query", err)
	}
	st.Sink = strings.TrimSpace(sink)

	if st.Volume, st.Muted, err = a.channel(ctx, "sink", defaultSink); err != nil {
		return domain.AudioState{}, err
	}
	// a missing source is normal on machines without a microphone
	if vol, muted, err := a.channel(ctx, "source", defaultSource); err == nil {
		st.MicVolume, st.MicMuted = vol, muted
	}
	return st, nil
}

func (a *Adapter) channel(ctx context.Context, kind, name string) (int, bool, error) {
	vol, err := a.run(ctx, "get-"+kind+"-volume", name)
	if err != nil {
		return 0, false, source.Transient("audio query", err)
	}
	mute, err := a.run(ctx, "get-"+kind+"-mute", name)
	if err != nil {
		return 0, false, source.Transient("audio query", err)
	}
	v, err := ParseVolume(vol)
	if err != nil {
		return 0, false, source.Transient("audio query", err)
	}
	return v, ParseMute(mute), nil
}

// ParseVolume averages the channel percentages of get-sink-volume output,
// capped at domain.MaxVolume.
func ParseVolume(out string) (int, error) {
	line, _, _ := strings.Cut(out, "\n")
	matches := percentRe.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("no volume in %q", strings.TrimSpace(line))
	}
	sum := 0
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, err
		}
		sum += n
	}
	return min((sum+len(matches)/2)/len(matches), domain.MaxVolume), nil
}

// ParseMute reads get-sink-mute output.
func ParseMute(out string) bool {
	_, v, ok := strings.Cut(strings.TrimSpace(out), ":")
	return ok && strings.TrimSpace(v) == "yes"
}

// Relevant reports whether a pactl subscribe line can change the state.
func Relevant(line string) bool {
	return strings.Contains(line, " on sink ") ||
		strings.Contains(line, " on source ") ||
		strings.Contains(line, " on server ")
}
