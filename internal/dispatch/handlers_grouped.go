package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loxgrid/audioserver-bridge/internal/alerts"
	"github.com/loxgrid/audioserver-bridge/internal/apperrors"
	"github.com/loxgrid/audioserver-bridge/internal/backend"
	"github.com/loxgrid/audioserver-bridge/internal/groups"
	"github.com/loxgrid/audioserver-bridge/internal/zone"
)

// handleDGroupUpdate creates, reshapes or dissolves a dynamic group.
// URL: audio/cfg/dgroup/update/<groupId|new>[/<csv>].
func (d *Dispatcher) handleDGroupUpdate(ctx context.Context, req Request) CommandResult {
	if len(req.Segments) < 5 {
		return failure("dgroup", apperrors.NewConfigInvalid("missing group id", nil))
	}
	groupID := req.Segments[4]
	csv := ""
	if len(req.Segments) > 5 {
		csv = req.Segments[5]
	}

	// An empty member list dissolves the group.
	if csv == "" {
		group, ok := d.tracker.GetByExternalID(groupID)
		if !ok {
			return failure("dgroup", apperrors.NewConfigInvalid("unknown group "+groupID, nil))
		}
		members := memberCSV(group)
		d.tracker.RemoveByLeader(group.Leader)
		if err := d.registry.SendGroupCommandToZone(ctx, backend.CmdGroupLeaveMany, "dynamic", members); err != nil {
			d.logger.Warn().Err(err).Str("group", groupID).Msg("ungroup dispatch failed")
		}
		d.registry.UpdateZoneGroup()
		return CommandResult{Name: "dgroup", Payload: []any{}}
	}

	ids, err := zone.ParsePlayerIDs(csv)
	if err != nil || len(ids) == 0 {
		return failure("dgroup", apperrors.NewConfigInvalid("invalid member list "+csv, nil))
	}
	leader := ids[0]

	if groupID == "new" {
		groupID = fmt.Sprintf("grp-%d-%d", leader, time.Now().UnixMilli())
	}

	z, ok := d.registry.GetZone(leader)
	if !ok {
		return failure("dgroup", apperrors.NewZoneNotFound(leader))
	}
	d.tracker.Upsert(leader, ids, string(z.Binding.Kind), groupID, groups.SourceManual)

	if err := d.registry.SendGroupCommandToZone(ctx, backend.CmdGroupJoinMany, "dynamic", csv); err != nil {
		d.logger.Warn().Err(err).Str("group", groupID).Msg("group dispatch failed")
	}
	d.registry.UpdateZoneGroup()
	return CommandResult{Name: "dgroup", Payload: map[string]any{
		"group":   groupID,
		"players": ids,
	}}
}

func memberCSV(group groups.Group) string {
	parts := make([]string, 0, len(group.Members))
	parts = append(parts, fmt.Sprintf("%d", group.Leader))
	for _, member := range group.Members {
		if member != group.Leader {
			parts = append(parts, fmt.Sprintf("%d", member))
		}
	}
	return strings.Join(parts, ",")
}

// handleGroupedVolume applies plus/minus/absolute volume to a target set.
func (d *Dispatcher) handleGroupedVolume(ctx context.Context, req Request) CommandResult {
	token := req.Matches[1]
	ids, err := zone.ParsePlayerIDs(req.Matches[2])
	if err != nil {
		return failure("volume", apperrors.NewConfigInvalid("invalid target list", nil))
	}

	param := token
	switch token {
	case "plus":
		param = "+5"
	case "minus":
		param = "-5"
	}

	for _, id := range ids {
		if err := d.registry.SendCommandToZone(ctx, id, backend.CmdVolume, param); err != nil {
			d.logger.Warn().Err(err).Int("zone", id).Msg("grouped volume failed")
		}
	}
	return CommandResult{Name: "volume", Payload: []any{}}
}

var groupedTransport = map[string]backend.Command{
	"pause":  backend.CmdPause,
	"play":   backend.CmdPlay,
	"resume": backend.CmdResume,
	"stop":   backend.CmdStop,
}

func (d *Dispatcher) handleGroupedTransport(ctx context.Context, req Request) CommandResult {
	verb := req.Matches[1]
	ids, err := zone.ParsePlayerIDs(req.Matches[2])
	if err != nil {
		return failure(verb, apperrors.NewConfigInvalid("invalid target list", nil))
	}
	for _, id := range ids {
		if err := d.registry.SendCommandToZone(ctx, id, groupedTransport[verb]); err != nil {
			d.logger.Warn().Err(err).Int("zone", id).Str("verb", verb).Msg("grouped transport failed")
		}
	}
	return CommandResult{Name: verb, Payload: []any{}}
}

// handleGroupedAlert parses audio/grouped/<type>[/off][/<targets>][/<payload?opts>]
// and drives the alert controller.
func (d *Dispatcher) handleGroupedAlert(ctx context.Context, req Request) CommandResult {
	alertType := req.Matches[1]
	if !alerts.IsAlertType(alertType) {
		return EmptyResult(lastAlphaSegment(req.URL))
	}

	rest := req.Matches[2]
	var segments []string
	if rest != "" {
		segments = strings.Split(rest, "/")
	}

	stop := len(segments) > 0 && segments[0] == "off"
	if stop {
		segments = segments[1:]
	}

	var targets []int
	payload := ""
	options := alerts.Options{FadeDuration: alerts.ParseOptions("").FadeDuration}

	if len(segments) > 0 {
		targetPart, opts := splitAlertOpts(segments[0])
		ids, err := zone.ParsePlayerIDs(targetPart)
		if err == nil {
			targets = ids
		}
		if opts != "" {
			options = alerts.ParseOptions(opts)
		}
		segments = segments[1:]
	}
	if len(segments) > 0 {
		payloadPart, opts := splitAlertOpts(strings.Join(segments, "/"))
		payload = payloadPart
		if opts != "" {
			options = alerts.ParseOptions(opts)
		}
	}

	var result alerts.Result
	if stop {
		result = d.alerts.Stop(ctx, alertType, targets)
	} else {
		result = d.alerts.Start(ctx, alertType, targets, payload, options)
	}
	return CommandResult{Name: alertType, Payload: result}
}

// splitAlertOpts cuts the "?opts" tail off a targets or payload segment.
func splitAlertOpts(raw string) (string, string) {
	value, opts, _ := strings.Cut(raw, "?")
	return value, opts
}
