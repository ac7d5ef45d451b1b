package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vibepanel/vibepanel/internal/adapters/fake"
	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/config"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
)

func TestRegistryBuildsEnabledInDisplayOrder(t *testing.T) {
	cfg := config.Defaults().Adapters
	cfg.Tray.Enabled = false
	cfg.Media.Enabled = false

	built := NewRegistry().Build(cfg, nil)
	var got []domain.Domain
	for _, a := range built {
		got = append(got, a.Domain())
	}
	require.Equal(t, []domain.Domain{
		domain.Power, domain.Network, domain.Bluetooth, domain.Audio,
		domain.Updates, domain.Idle, domain.System,
	}, got)
}

func TestRegistryCoversEveryDomain(t *testing.T) {
	require.ElementsMatch(t, domain.All(), NewRegistry().Domains())
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry()
	f := fake.New(domain.Audio)
	require.NoError(t, r.Replace(domain.Audio, func(config.Adapter, logging.Logger) Adapter { return f }))
	require.Error(t, r.Replace(domain.Domain("weather"), func(config.Adapter, logging.Logger) Adapter { return f }))
	require.Error(t, r.Replace(domain.Audio, nil))

	cfg := config.Adapters{Audio: config.Adapter{Enabled: true}}
	built := r.Build(cfg, logging.Nop())
	require.Len(t, built, 1)
	require.Same(t, f, built[0])
}

func TestTogglersAreTheControllableDomains(t *testing.T) {
	cfg := config.Defaults().Adapters
	togglers := map[domain.Domain]bool{}
	for _, a := range NewRegistry().Build(cfg, nil) {
		if _, ok := a.(Toggler); ok {
			togglers[a.Domain()] = true
		}
	}
	require.Equal(t, map[domain.Domain]bool{domain.Network: true, domain.Bluetooth: true, domain.Idle: true}, togglers)
}

func TestMixerAndTransportDomains(t *testing.T) {
	cfg := config.Defaults().Adapters
	cfg.Audio.Enabled, cfg.Media.Enabled = true, true
	controls := map[domain.Domain]string{}
	for _, a := range NewRegistry().Build(cfg, nil) {
		if _, ok := a.(Mixer); ok {
			controls[a.Domain()] = "mixer"
		}
		if _, ok := a.(Transport); ok {
			controls[a.Domain()] = "transport"
		}
	}
	require.Equal(t, map[domain.Domain]string{domain.Audio: "mixer", domain.Media: "transport"}, controls)
}

func TestSample(t *testing.T) {
	f := fake.New(domain.Audio).WithInitial(domain.AudioState{Volume: 30})
	ev, err := Sample(context.Background(), f, time.Second)
	require.NoError(t, err)
	require.Equal(t, domain.AudioState{Volume: 30}, ev.Payload)
	require.Equal(t, 1, f.Closes())
}

func TestSampleErrors(t *testing.T) {
	unavailable := fake.New(domain.Power).FailStarts(source.Unavailable("no battery"))
	_, err := Sample(context.Background(), unavailable, time.Second)
	require.ErrorIs(t, err, ErrUnavailable)

	silent := fake.New(domain.Media)
	_, err = Sample(context.Background(), silent, 10*time.Millisecond)
	require.True(t, errors.Is(err, ErrNoEvent))
	require.Equal(t, 1, silent.Closes())
}
