package panel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vibepanel/vibepanel/internal/adapters/fake"
	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
)

func TestProbeMergesFirstReports(t *testing.T) {
	audio := fake.New(domain.Audio).WithInitial(domain.AudioState{Volume: 42})
	power := fake.New(domain.Power).FailStarts(source.Unavailable("no battery"))
	media := fake.New(domain.Media)
	eff := effective(t, domain.Audio, domain.Power, domain.Media)

	s := Probe(context.Background(), registryOf(t, audio, power, media), eff, 20*time.Millisecond, nil)

	st, ok := s.Get(domain.Audio)
	require.True(t, ok)
	require.Equal(t, domain.Ready, st.Availability)
	require.Equal(t, domain.AudioState{Volume: 42}, st.Payload)

	st, _ = s.Get(domain.Power)
	require.Equal(t, domain.Unavailable, st.Availability)
	require.Contains(t, st.Reason, "no battery")

	st, _ = s.Get(domain.Media)
	require.Equal(t, domain.Connecting, st.Availability)
	require.False(t, st.Visible())

	require.Equal(t, uint64(1), s.ConfigGeneration)
	require.Equal(t, []domain.Domain{domain.Power, domain.Audio, domain.Media}, domainsOf(s.Services()))
	require.Equal(t, 1, audio.Closes())
}

func domainsOf(states []domain.ServiceState) []domain.Domain {
	var out []domain.Domain
	for _, st := range states {
		out = append(out, st.Domain)
	}
	return out
}
