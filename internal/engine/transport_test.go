package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ABERsara/worldplay-media/internal/config"
	"github.com/ABERsara/worldplay-media/internal/domain"
)

func TestConnectHonorsContextDeadline(t *testing.T) {
	w, err := newWorker(0, config.Engine{}, nil)
	require.NoError(t, err)
	defer w.Close()
	r, err := w.CreateRouter("s1")
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := r.CreateTransport(ctx)
	require.NoError(t, err)

	// Nobody answers on the remote side, so ICE can only run into its
	// own failure timers. The op context has to cut it short first.
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer connectCancel()
	start := time.Now()
	err = tr.Connect(connectCtx, &ICEParameters{
		UsernameFragment: "wrongfrag",
		Password:         "definitelynottherightpassword",
	}, DTLSParameters{
		Role: "auto",
		Fingerprints: []DTLSFingerprint{{
			Algorithm: "sha-256",
			Value:     "14:C9:32:AA:01:7E:20:5B:6C:91:D4:0F:E8:33:57:2A:BC:44:9D:10:68:F3:21:77:05:8E:4B:C0:DA:16:3F:92",
		}},
	})
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second, "connect outlived its context")
	assert.Equal(t, "closed", tr.State())
}
