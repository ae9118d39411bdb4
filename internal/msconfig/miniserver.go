package msconfig

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loxgrid/audioserver-bridge/internal/apperrors"
)

// musicConfigPath is where the MiniServer exposes its music configuration.
const musicConfigPath = "/dev/fsget/prog/music.json"

const miniserverFetchTimeout = 10 * time.Second

// FetchFromMiniserver pulls the music config straight from the paired
// MiniServer and feeds it through the regular setconfig path. Used when
// PAIRING_SOURCE=miniserver; the cache variant never calls this.
func (o *Orchestrator) FetchFromMiniserver(ctx context.Context) error {
	ms := o.Miniserver()
	if ms.IP == "" {
		return apperrors.NewConfigInvalid("no MiniServer IP configured", nil)
	}

	url := "http://" + ms.IP + musicConfigPath
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Authorization", ComputeAuthorizationHeader(ms.Username, ms.Password))

	client := &http.Client{Timeout: miniserverFetchTimeout}
	response, err := client.Do(request)
	if err != nil {
		return apperrors.NewBackendUnreachable(fmt.Sprintf("miniserver fetch failed: %v", err))
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return apperrors.NewBackendUnreachable(
			fmt.Sprintf("miniserver returned %d for %s", response.StatusCode, musicConfigPath))
	}

	raw, err := io.ReadAll(io.LimitReader(response.Body, 4<<20))
	if err != nil {
		return err
	}

	crc, _, err := o.ProcessAudioServerConfig(ctx, raw)
	if err != nil {
		return err
	}
	o.logger.Info().Str("crc32", crc).Str("miniserver", ms.IP).Msg("paired from miniserver")
	return nil
}
