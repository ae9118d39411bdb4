package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/loxgrid/audioserver-bridge/internal/backend"
	"github.com/loxgrid/audioserver-bridge/internal/fade"
	"github.com/loxgrid/audioserver-bridge/internal/zone"
)

type sentCommand struct {
	zoneID  int
	command backend.Command
	params  []string
}

type fakeZones struct {
	mu    sync.Mutex
	zones map[int]zone.Zone
	sent  []sentCommand
	fail  map[backend.Command]error
}

func newFakeZones(ids ...int) *fakeZones {
	f := &fakeZones{zones: map[int]zone.Zone{}, fail: map[backend.Command]error{}}
	for _, id := range ids {
		f.zones[id] = zone.Zone{
			ID:      id,
			Binding: backend.Binding{PlayerID: id, Kind: backend.KindSonos},
			State:   zone.PlayerState{Volume: 40, Repeat: zone.RepeatQueue, Mode: zone.ModePlay},
		}
	}
	return f
}

func (f *fakeZones) GetZone(id int) (zone.Zone, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	z, ok := f.zones[id]
	return z, ok
}

func (f *fakeZones) SendCommandToZone(_ context.Context, id int, command backend.Command, params ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[command]; ok {
		return err
	}
	f.sent = append(f.sent, sentCommand{zoneID: id, command: command, params: params})
	return nil
}

func (f *fakeZones) commands(command backend.Command) []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentCommand
	for _, s := range f.sent {
		if s.command == command {
			out = append(out, s)
		}
	}
	return out
}

func newTestController(zones *fakeZones) *Controller {
	return NewController(zones, fade.NewController(zerolog.Nop()), NewStaticMedia("http://10.0.0.2:7091"), zerolog.Nop())
}

func TestAlarmStartLoopsTrackAndStopRestoresRepeat(t *testing.T) {
	zones := newFakeZones(3)
	c := newTestController(zones)

	result := c.Start(context.Background(), TypeAlarm, []int{3}, "", Options{})
	require.Equal(t, []TargetResult{{PlayerID: 3, Status: StatusOK}}, result.Targets)

	plays := zones.commands(backend.CmdServicePlay)
	require.Len(t, plays, 1)
	require.Contains(t, plays[0].params[0], "alarm.mp3")

	repeats := zones.commands(backend.CmdRepeat)
	require.Len(t, repeats, 1)
	require.Equal(t, zone.RepeatTrack, repeats[0].params[0])

	stop := c.Stop(context.Background(), TypeAlarm, []int{3})
	require.Equal(t, []TargetResult{{PlayerID: 3, Status: StatusOK}}, stop.Targets)

	repeats = zones.commands(backend.CmdRepeat)
	require.Len(t, repeats, 2)
	require.Equal(t, zone.RepeatQueue, repeats[1].params[0])
	require.Len(t, zones.commands(backend.CmdPause), 1)
}

func TestBellOnMusicAssistantUsesAnnounce(t *testing.T) {
	zones := newFakeZones(1)
	z := zones.zones[1]
	z.Binding.Kind = backend.KindMusicAssistant
	zones.zones[1] = z
	c := newTestController(zones)

	result := c.Start(context.Background(), TypeBell, []int{1}, "", Options{})
	require.Equal(t, StatusOK, result.Targets[0].Status)

	announces := zones.commands(backend.CmdAnnounce)
	require.Len(t, announces, 1)
	require.Contains(t, announces[0].params[0], `"url"`)
	require.Empty(t, zones.commands(backend.CmdServicePlay))
}

func TestAlarmOnMusicAssistantStaysServiceplay(t *testing.T) {
	zones := newFakeZones(1)
	z := zones.zones[1]
	z.Binding.Kind = backend.KindMusicAssistant
	zones.zones[1] = z
	c := newTestController(zones)

	c.Start(context.Background(), TypeAlarm, []int{1}, "", Options{})
	require.Empty(t, zones.commands(backend.CmdAnnounce))
	require.Len(t, zones.commands(backend.CmdServicePlay), 1)
}

func TestStartWithFadePrimesVolumeAndFadesIn(t *testing.T) {
	zones := newFakeZones(2)
	c := newTestController(zones)

	result := c.Start(context.Background(), TypeBell, []int{2}, "",
		Options{Fading: true, FadeDuration: 400 * time.Millisecond})
	require.Equal(t, StatusOK, result.Targets[0].Status)

	require.Eventually(t, func() bool {
		volumes := zones.commands(backend.CmdVolume)
		if len(volumes) < 3 {
			return false
		}
		return volumes[len(volumes)-1].params[0] == "40"
	}, 2*time.Second, 20*time.Millisecond)

	volumes := zones.commands(backend.CmdVolume)
	require.Equal(t, "-100", volumes[0].params[0])
	require.Equal(t, "-100", volumes[1].params[0])
	require.Equal(t, "0", volumes[2].params[0])
}

func TestStopFadesOutOverDefaultDuration(t *testing.T) {
	zones := newFakeZones(4)
	c := newTestController(zones)

	c.Start(context.Background(), TypeAlarm, []int{4}, "",
		Options{Fading: true, FadeDuration: 100 * time.Millisecond})
	require.Eventually(t, func() bool {
		volumes := zones.commands(backend.CmdVolume)
		return len(volumes) > 0 && volumes[len(volumes)-1].params[0] == "40"
	}, 2*time.Second, 20*time.Millisecond)

	stopped := time.Now()
	result := c.Stop(context.Background(), TypeAlarm, []int{4})
	require.Equal(t, StatusOK, result.Targets[0].Status)

	// The ramp-out runs over the 3 s default, not the 100 ms the alert
	// started with; pause fires only once it completes.
	require.Eventually(t, func() bool {
		return len(zones.commands(backend.CmdPause)) == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.GreaterOrEqual(t, time.Since(stopped), 2500*time.Millisecond)
}

func TestStopUnknownAlertReportsUnknownZone(t *testing.T) {
	zones := newFakeZones(1)
	c := newTestController(zones)

	result := c.Stop(context.Background(), TypeAlarm, []int{1})
	require.Equal(t, SkipUnknownZone, result.Targets[0].Status)
}

func TestStartReportsPerTargetFailures(t *testing.T) {
	zones := newFakeZones(1)
	zones.fail[backend.CmdServicePlay] = errors.New("backend gone")
	c := newTestController(zones)

	result := c.Start(context.Background(), TypeAlarm, []int{1, 99, -4}, "", Options{})
	require.Equal(t, SkipDispatchFailed, result.Targets[0].Status)
	require.Equal(t, SkipUnknownZone, result.Targets[1].Status)
	require.Equal(t, SkipInvalidZone, result.Targets[2].Status)
}

func TestStartWithNoTargets(t *testing.T) {
	c := newTestController(newFakeZones())
	result := c.Start(context.Background(), TypeAlarm, nil, "", Options{})
	require.Equal(t, []TargetResult{{Status: SkipNoTargets}}, result.Targets)
}

func TestStopWithoutTargetsStopsAllActiveOfType(t *testing.T) {
	zones := newFakeZones(1, 2)
	c := newTestController(zones)

	c.Start(context.Background(), TypeBuzzer, []int{1, 2}, "", Options{})
	result := c.Stop(context.Background(), TypeBuzzer, nil)
	require.Len(t, result.Targets, 2)
	for _, target := range result.Targets {
		require.Equal(t, StatusOK, target.Status)
	}
}

func TestParseTTS(t *testing.T) {
	lang, text := ParseTTS("deu|Guten Morgen")
	require.Equal(t, "de", lang)
	require.Equal(t, "Guten Morgen", text)

	lang, text = ParseTTS("nld|hallo")
	require.Equal(t, "nl", lang)
	require.Equal(t, "hallo", text)

	lang, text = ParseTTS("sv-SE|hej")
	require.Equal(t, "sv", lang)
	require.Equal(t, "hej", text)

	lang, text = ParseTTS("plain text")
	require.Equal(t, "en", lang)
	require.Equal(t, "plain text", text)

	long := make([]byte, 900)
	for i := range long {
		long[i] = 'a'
	}
	_, text = ParseTTS(string(long))
	require.Len(t, []rune(text), 801)
}

func TestParseOptions(t *testing.T) {
	options := ParseOptions("")
	require.False(t, options.Fading)
	require.Equal(t, fade.DefaultDuration, options.FadeDuration)

	options = ParseOptions("fading=1&fadingTime=2")
	require.True(t, options.Fading)
	require.Equal(t, 2*time.Second, options.FadeDuration)

	options = ParseOptions("fade=true")
	require.True(t, options.Fading)

	// q&<base64> wrapping of "fading=1&fadeTime=1.5"
	options = ParseOptions("q&ZmFkaW5nPTEmZmFkZVRpbWU9MS41")
	require.True(t, options.Fading)
	require.Equal(t, 1500*time.Millisecond, options.FadeDuration)
}
