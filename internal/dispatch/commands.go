package dispatch

import (
	"fmt"
	"math"

	"github.com/nerrad567/tuyalink-core/internal/device"
	"github.com/nerrad567/tuyalink-core/internal/transport"
)

// CommandKind names one of the commands the engine understands.
type CommandKind string

// Supported commands.
const (
	CommandTurnOn        CommandKind = "turn_on"
	CommandTurnOff       CommandKind = "turn_off"
	CommandToggle        CommandKind = "toggle"
	CommandSetBrightness CommandKind = "set_brightness"
	CommandSetColour     CommandKind = "set_colour"
	CommandSetParameter  CommandKind = "set_parameter"
)

// ParseCommandKind validates a command name from an external caller.
func ParseCommandKind(s string) (CommandKind, error) {
	switch CommandKind(s) {
	case CommandTurnOn, CommandTurnOff, CommandToggle,
		CommandSetBrightness, CommandSetColour, CommandSetParameter:
		return CommandKind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, s)
	}
}

// Tuya data point indexes. Bulbs speak the 20-24 range (protocol 3.3+);
// plugs and switches keep power on DPS 1.
const (
	dpsPowerPlug      = "1"
	dpsPowerBulb      = "20"
	dpsBulbMode       = "21"
	dpsBulbBrightness = "22"
	dpsBulbColour     = "24"

	bulbModeColour = "colour"
)

// Brightness limits on the Tuya scale. Values below 10 make bulbs flicker
// or shut off, so the floor is 10 rather than 0.
const (
	brightnessMin = 10
	brightnessMax = 1000
)

// commandTable is the fixed validity table: which commands are meaningful
// for which device kind. Kept exhaustive so validation never needs to
// inspect live device state.
var commandTable = map[device.Kind]map[CommandKind]bool{
	device.KindBulb: {
		CommandTurnOn: true, CommandTurnOff: true, CommandToggle: true,
		CommandSetBrightness: true, CommandSetColour: true, CommandSetParameter: true,
	},
	device.KindOutlet: {
		CommandTurnOn: true, CommandTurnOff: true, CommandToggle: true,
		CommandSetParameter: true,
	},
	device.KindSwitch: {
		CommandTurnOn: true, CommandTurnOff: true, CommandToggle: true,
		CommandSetParameter: true,
	},
	device.KindGeneric: {
		CommandTurnOn: true, CommandTurnOff: true, CommandToggle: true,
		CommandSetParameter: true,
	},
}

// validateCommand checks that cmd is meaningful for the device kind.
func validateCommand(kind device.Kind, cmd CommandKind) error {
	allowed, known := commandTable[kind]
	if !known {
		return fmt.Errorf("%w: unknown device kind %q", ErrInvalidCommand, kind)
	}
	if !allowed[cmd] {
		return fmt.Errorf("%w: %s not supported on %s devices", ErrInvalidCommand, cmd, kind)
	}
	return nil
}

// powerDPS returns the power data point index for a device kind.
func powerDPS(kind device.Kind) string {
	if kind == device.KindBulb {
		return dpsPowerBulb
	}
	return dpsPowerPlug
}

// buildParams maps a validated command and value to the parameter map the
// transport sends. Toggle is absent here: it needs the device's live power
// state and is resolved inside the held session by the dispatcher.
func buildParams(kind device.Kind, cmd CommandKind, value any) (transport.Params, error) {
	switch cmd {
	case CommandTurnOn:
		return transport.Params{powerDPS(kind): true}, nil

	case CommandTurnOff:
		return transport.Params{powerDPS(kind): false}, nil

	case CommandSetBrightness:
		percent, ok := toInt(value)
		if !ok {
			return nil, fmt.Errorf("%w: set_brightness needs a number 0-100, got %T", ErrInvalidValue, value)
		}
		return transport.Params{dpsBulbBrightness: scaleBrightness(percent)}, nil

	case CommandSetColour:
		r, g, b, err := colourValue(value)
		if err != nil {
			return nil, err
		}
		return transport.Params{
			dpsBulbMode:   bulbModeColour,
			dpsBulbColour: rgbToColourHex(r, g, b),
		}, nil

	case CommandSetParameter:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: set_parameter needs {dp, value}", ErrInvalidValue)
		}
		dp, ok := toInt(m["dp"])
		if !ok {
			return nil, fmt.Errorf("%w: set_parameter needs a numeric dp", ErrInvalidValue)
		}
		raw, ok := m["value"]
		if !ok {
			return nil, fmt.Errorf("%w: set_parameter needs a value", ErrInvalidValue)
		}
		return transport.Params{fmt.Sprintf("%d", dp): raw}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidCommand, cmd)
	}
}

// scaleBrightness converts a 0-100 percentage to the Tuya 10-1000 range.
func scaleBrightness(percent int) int {
	scaled := percent * 10
	if scaled < brightnessMin {
		return brightnessMin
	}
	if scaled > brightnessMax {
		return brightnessMax
	}
	return scaled
}

// colourValue extracts r/g/b channels from a command value.
func colourValue(value any) (int, int, int, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: set_colour needs {r, g, b}", ErrInvalidValue)
	}
	r, okR := toInt(m["r"])
	g, okG := toInt(m["g"])
	b, okB := toInt(m["b"])
	if !okR || !okG || !okB {
		return 0, 0, 0, fmt.Errorf("%w: set_colour needs numeric r, g, b", ErrInvalidValue)
	}
	for _, c := range []int{r, g, b} {
		if c < 0 || c > 255 {
			return 0, 0, 0, fmt.Errorf("%w: colour channels must be 0-255", ErrInvalidValue)
		}
	}
	return r, g, b, nil
}

// rgbToColourHex converts RGB (0-255) to the 12-digit Tuya HSV hex format:
// hue, saturation, and value each scaled to 0-1000 and rendered %04x.
func rgbToColourHex(r, g, b int) string {
	h, s, v := rgbToHSV(float64(r)/255, float64(g)/255, float64(b)/255)
	return fmt.Sprintf("%04x%04x%04x",
		int(h*1000),
		int(s*1000),
		int(v*1000),
	)
}

// rgbToHSV converts normalised RGB (0-1) to HSV with all components 0-1.
func rgbToHSV(r, g, b float64) (h, s, v float64) {
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	v = maxC

	delta := maxC - minC
	if maxC == 0 || delta == 0 {
		return 0, 0, v
	}
	s = delta / maxC

	switch maxC {
	case r:
		h = (g - b) / delta
	case g:
		h = 2 + (b-r)/delta
	default:
		h = 4 + (r-g)/delta
	}
	h /= 6
	if h < 0 {
		h++
	}
	return h, s, v
}

// toInt accepts the numeric types JSON and YAML decoding produce.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	default:
		return 0, false
	}
}
