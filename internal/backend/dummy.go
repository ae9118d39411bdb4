package backend

import (
	"context"

	"github.com/rs/zerolog"
)

// Dummy is the placeholder backend for zones without a configured media
// system. Commands are accepted and logged; nothing plays. A dummy-backed
// zone is never marked connected.
type Dummy struct {
	playerID int
	logger   zerolog.Logger
}

func NewDummy(playerID int, logger zerolog.Logger) *Dummy {
	return &Dummy{playerID: playerID, logger: logger}
}

func (d *Dummy) Initialize(ctx context.Context) error { return nil }

func (d *Dummy) SendCommand(ctx context.Context, command Command, params ...string) error {
	d.logger.Debug().Str("command", string(command)).Strs("params", params).Msg("dummy backend swallowed command")
	return nil
}

func (d *Dummy) SendGroupCommand(ctx context.Context, command Command, groupType string, leader string, others ...string) error {
	d.logger.Debug().Str("command", string(command)).Msg("dummy backend swallowed group command")
	return nil
}

func (d *Dummy) Cleanup() {}

func (d *Dummy) Kind() Kind { return KindDummy }
