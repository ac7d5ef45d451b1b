package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vibepanel/vibepanel/internal/domain"
)

func TestToggleEmitsPredictedThenConfirmed(t *testing.T) {
	ctx := context.Background()
	f := New(domain.Bluetooth).
		WithInitial(domain.BluetoothState{HasAdapter: true}).
		OnToggle(
			func(on bool) domain.Payload { return domain.BluetoothState{HasAdapter: true, Powered: on} },
			func(on bool) domain.Payload { return domain.BluetoothState{HasAdapter: true, Powered: on} },
		)

	require.Error(t, f.Toggle(ctx, true), "not running")

	h, err := f.Start(ctx)
	require.NoError(t, err)
	defer h.Close()
	<-f.Events()

	require.NoError(t, f.Toggle(ctx, true))
	predicted, confirmed := <-f.Events(), <-f.Events()
	require.Equal(t, domain.Predicted, predicted.Phase)
	require.Equal(t, domain.Confirmed, confirmed.Phase)
	require.Equal(t, predicted.Key, confirmed.Key)
}

func TestFailEndsRun(t *testing.T) {
	f := New(domain.Tray)
	require.ErrorIs(t, f.Fail(errors.New("x")), ErrNotRunning)
	require.ErrorIs(t, f.Send(context.Background(), domain.TrayState{}), ErrNotRunning)

	h, err := f.Start(context.Background())
	require.NoError(t, err)
	boom := errors.New("boom")
	require.NoError(t, f.Fail(boom))
	<-h.Done()
	require.ErrorIs(t, h.Err(), boom)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	require.Equal(t, 1, f.Closes(), "close is idempotent")
}

func TestControlsRecordedWhileRunning(t *testing.T) {
	f := New(domain.Audio)
	ctx := context.Background()
	require.Error(t, f.SetVolume(ctx, 40), "not running")

	h, err := f.Start(ctx)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, f.SetVolume(ctx, 40))
	require.NoError(t, f.SetMuted(ctx, true))
	require.NoError(t, f.Transport(ctx, domain.Next))
	require.Equal(t, []string{"volume 40", "mute true", "next"}, f.Controls())
}
