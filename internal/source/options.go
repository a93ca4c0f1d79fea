package source

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// pcapTunables are the Extra keys understood by the pcap backend.
type pcapTunables struct {
	ImmediateMode bool `mapstructure:"immediate_mode"`
}

// afpacketTunables are the Extra keys understood by the AF_PACKET backend.
// Zero values fall back to the computed ring layout.
type afpacketTunables struct {
	BlockSize  int    `mapstructure:"block_size"`
	NumBlocks  int    `mapstructure:"num_blocks"`
	FanoutID   uint16 `mapstructure:"fanout_id"`
	FanoutType string `mapstructure:"fanout_type"`
}

// decodeExtra decodes backend tunables. Unknown keys are rejected so a typo
// does not silently fall back to defaults.
func decodeExtra(extra map[string]any, out any) error {
	if len(extra) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(extra); err != nil {
		return fmt.Errorf("invalid capture.extra: %w", err)
	}
	return nil
}
