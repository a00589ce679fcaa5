package grid_world

import "fmt"

// Every level shares the same world-to-grid offsets.
const (
	XOffset = 6
	ZOffset = 11
)

// The three planets. Rows run from world z = -ZOffset toward +z and columns
// from world x = -XOffset toward +x.
var (
	EarthTrack []string = []string{
		"WWWWWWWWWWWWW",
		"WoooooooooooW",
		"Wooooo+oooooW",
		"WoooooooooooW",
		"WooWWWWWWWooW",
		"WoooooooooooW",
		"WoocoooooocoW",
		"WoooooooooooW",
		"WooooWWWooooW",
		"WoooooooooooW",
		"Wooooo-oooooW",
		"WoooooooooooW",
		"WWWWWWWWWWWWW",
	}

	IceTrack []string = []string{
		"WWWWWWWWWWWWW",
		"Wooooo-oooooW",
		"WoooooooooooW",
		"WWWWWocoWWWWW",
		"WoooooooooooW",
		"WcooooooooocW",
		"WoWWWWWWWWWoW",
		"WcWoooooooWcW",
		"WoWoWWWWWoWoW",
		"WcoocooocoocW",
		"WoooooooooooW",
		"Wooooo+oooooW",
		"WWWWWWWWWWWWW",
	}

	MixTrack []string = []string{
		"WWWWWWWWWWWWW",
		"Wooooooooco-W",
		"WoWWWWWWWWWoW",
		"WcoooooocWWoW",
		"WWWWWWWWoWWoW",
		"WooooocoooocW",
		"WoWWWWWWWWWWW",
		"WocoooWooocoW",
		"WWWWWoWoWWWWW",
		"Wooo+oooooooW",
		"WWWWWWWWWWWWW",
	}
)

var tracks = map[string][]string{
	"earth": EarthTrack,
	"ice":   IceTrack,
	"mix":   MixTrack,
}

// LoadLevel parses one of the built-in levels by name.
func LoadLevel(name string) (*Level, error) {
	track, ok := tracks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLevel, name)
	}
	return Convert(name, track, XOffset, ZOffset)
}
