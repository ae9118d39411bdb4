// Package heartbeat emits the periodic hw_event broadcast the MiniServer
// uses to supervise the AudioServer core and its extensions.
package heartbeat

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/loxgrid/audioserver-bridge/internal/msconfig"
)

const uptimeResetInterval = 24 * time.Hour

// Broadcaster is the event fan-out the emitter publishes through.
type Broadcaster interface {
	Broadcast(message string)
}

// ConfigSource supplies the appliance identity and the extension list.
type ConfigSource interface {
	MacID() string
	Extensions() []msconfig.Extension
}

// Entry is one hw_event record.
type Entry struct {
	ClientID string `json:"client_id"`
	EventID  int    `json:"event_id"`
	Value    int64  `json:"value"`
}

// Emitter broadcasts one hw_event per schedule tick.
type Emitter struct {
	mu      sync.Mutex
	started time.Time

	bus    Broadcaster
	source ConfigSource
	spec   string
	cron   *cron.Cron
	logger zerolog.Logger
}

func NewEmitter(bus Broadcaster, source ConfigSource, spec string, logger zerolog.Logger) *Emitter {
	return &Emitter{
		started: time.Now(),
		bus:     bus,
		source:  source,
		spec:    spec,
		logger:  logger.With().Str("component", "heartbeat").Logger(),
	}
}

// Start emits immediately, then on every schedule tick. Errors in the
// schedule spec are returned; emit failures are logged and skipped.
func (e *Emitter) Start() error {
	e.Emit()

	e.cron = cron.New()
	if _, err := e.cron.AddFunc(e.spec, e.Emit); err != nil {
		return fmt.Errorf("invalid heartbeat schedule %q: %w", e.spec, err)
	}
	e.cron.Start()
	return nil
}

// Stop halts the schedule. Safe to call before Start.
func (e *Emitter) Stop() {
	if e.cron != nil {
		e.cron.Stop()
	}
}

// Emit broadcasts one hw_event built from the current uptime and extension
// list.
func (e *Emitter) Emit() {
	entries := e.buildEntries()
	message, err := json.Marshal(map[string]any{"hw_event": entries})
	if err != nil {
		e.logger.Error().Err(err).Msg("hw_event marshal failed")
		return
	}
	e.bus.Broadcast(string(message))
}

// Uptime returns seconds since start, wrapping every 24 h.
func (e *Emitter) Uptime() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	elapsed := time.Since(e.started)
	for elapsed >= uptimeResetInterval {
		e.started = e.started.Add(uptimeResetInterval)
		elapsed -= uptimeResetInterval
	}
	return int64(elapsed.Seconds())
}

// coreEventIDs are the supervision datapoints of the AudioServer core, in
// emission order. 2105 carries the uptime, the rest are static health flags.
var coreEventIDs = []int{2005, 2100, 2101, 2102, 2103, 2105, 2106}

// extensionEventIDs are the per-channel datapoints of an extension. 2104 is
// the static presence flag, 2105 the uptime.
var extensionEventIDs = []int{2100, 2101, 2102, 2103, 2104, 2105}

func (e *Emitter) buildEntries() []Entry {
	uptime := e.Uptime()
	macID := e.source.MacID()

	entries := make([]Entry, 0, 7)
	coreClient := macID + "#1"
	for _, eventID := range coreEventIDs {
		entries = append(entries, Entry{
			ClientID: coreClient,
			EventID:  eventID,
			Value:    coreValue(eventID, uptime),
		})
	}

	for _, extension := range e.source.Extensions() {
		for channel := 1; channel <= 2; channel++ {
			client := fmt.Sprintf("%s#%d", extension.Serial, channel)
			for _, eventID := range extensionEventIDs {
				entries = append(entries, Entry{
					ClientID: client,
					EventID:  eventID,
					Value:    extensionValue(eventID, uptime),
				})
			}
		}
	}
	return entries
}

func coreValue(eventID int, uptime int64) int64 {
	switch eventID {
	case 2005:
		return 1
	case 2105:
		return uptime
	default:
		return 0
	}
}

func extensionValue(eventID int, uptime int64) int64 {
	switch eventID {
	case 2104:
		return 1
	case 2105:
		return uptime
	default:
		return 0
	}
}
