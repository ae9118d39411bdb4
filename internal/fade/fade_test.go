package fade

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	volumes []int
}

func (r *recorder) step(volume int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volumes = append(r.volumes, volume)
	return nil
}

func (r *recorder) seen() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.volumes...)
}

func TestFadeReachesTargetExactly(t *testing.T) {
	controller := NewController(zerolog.Nop())
	rec := &recorder{}
	done := make(chan struct{})

	controller.Schedule("zone-1", 0, 50, 400*time.Millisecond, rec.step, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fade did not complete")
	}

	volumes := rec.seen()
	require.Equal(t, 0, volumes[0], "first step is the from volume")
	require.Equal(t, 50, volumes[len(volumes)-1], "last step lands on target")
	for _, v := range volumes {
		require.GreaterOrEqual(t, v, 0)
		require.LessOrEqual(t, v, 50, "fade never overshoots")
	}
	require.False(t, controller.Active("zone-1"))
}

func TestFadeMonotonicDown(t *testing.T) {
	controller := NewController(zerolog.Nop())
	rec := &recorder{}
	done := make(chan struct{})

	controller.Schedule("zone-2", 80, 0, 400*time.Millisecond, rec.step, func() { close(done) })
	<-done

	volumes := rec.seen()
	require.Equal(t, 80, volumes[0])
	require.Equal(t, 0, volumes[len(volumes)-1])
	for i := 1; i < len(volumes); i++ {
		require.LessOrEqual(t, volumes[i], volumes[i-1])
	}
}

func TestCancelStopsSteps(t *testing.T) {
	controller := NewController(zerolog.Nop())
	rec := &recorder{}
	completed := false

	controller.Schedule("zone-3", 0, 100, 2*time.Second, rec.step, func() { completed = true })
	time.Sleep(50 * time.Millisecond)
	controller.Cancel("zone-3")

	count := len(rec.seen())
	time.Sleep(500 * time.Millisecond)
	require.Equal(t, count, len(rec.seen()), "no steps after cancel")
	require.False(t, completed, "onComplete not invoked after cancel")
	require.False(t, controller.Active("zone-3"))
}

func TestRescheduleCancelsPriorFade(t *testing.T) {
	controller := NewController(zerolog.Nop())
	first := &recorder{}
	second := &recorder{}
	done := make(chan struct{})

	controller.Schedule("zone-4", 0, 100, 2*time.Second, first.step, nil)
	time.Sleep(50 * time.Millisecond)
	controller.Schedule("zone-4", 100, 0, 300*time.Millisecond, second.step, func() { close(done) })

	<-done
	require.Equal(t, 0, second.seen()[len(second.seen())-1])

	firstCount := len(first.seen())
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, firstCount, len(first.seen()), "prior fade stopped producing steps")
}

func TestInputsAreClamped(t *testing.T) {
	controller := NewController(zerolog.Nop())
	rec := &recorder{}
	done := make(chan struct{})

	controller.Schedule("zone-5", -40, 140, 200*time.Millisecond, rec.step, func() { close(done) })
	<-done

	volumes := rec.seen()
	require.Equal(t, 0, volumes[0])
	require.Equal(t, 100, volumes[len(volumes)-1])
}
