package radiobot

import (
	"strconv"
	"strings"
)

// Volume levels accepted by the volume command. The stored gain is level/MaxVolume.
const (
	MinVolume = 1
	MaxVolume = 20
)

// CommandKind enumerates the chat commands the bot understands.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandConnect
	CommandPlay
	CommandStop
	CommandResume
	CommandVolume
	CommandHelp
	CommandDisconnect
)

var commandNames = map[CommandKind]string{
	CommandUnknown:    "unknown",
	CommandConnect:    "connect",
	CommandPlay:       "play",
	CommandStop:       "stop",
	CommandResume:     "resume",
	CommandVolume:     "volume",
	CommandHelp:       "help",
	CommandDisconnect: "disconnect",
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "unknown"
}

var commandTokens = map[string]CommandKind{
	"c":          CommandConnect,
	"connect":    CommandConnect,
	"p":          CommandPlay,
	"play":       CommandPlay,
	"s":          CommandStop,
	"stop":       CommandStop,
	"r":          CommandResume,
	"resume":     CommandResume,
	"v":          CommandVolume,
	"volume":     CommandVolume,
	"help":       CommandHelp,
	"d":          CommandDisconnect,
	"disconnect": CommandDisconnect,
}

// Command is a parsed chat command with its validated argument.
type Command struct {
	Kind CommandKind
	// Station is the raw station identifier given to play, possibly empty.
	Station string
	// Volume is the requested level, or 0 when the argument was missing,
	// not an integer or outside MinVolume..MaxVolume.
	Volume int
}

// ParseCommand reports whether content carries the prefix and, if so, which
// command it names. The command token is case-insensitive; the first
// argument after it is the station id or volume.
func ParseCommand(prefix, content string) (Command, bool) {
	if !strings.HasPrefix(content, prefix) {
		return Command{}, false
	}
	fields := strings.Fields(content[len(prefix):])
	if len(fields) == 0 {
		return Command{Kind: CommandUnknown}, true
	}

	cmd := Command{Kind: commandTokens[strings.ToLower(fields[0])]}
	var arg string
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd.Kind {
	case CommandPlay:
		cmd.Station = arg
	case CommandVolume:
		cmd.Volume = parseVolume(arg)
	}
	return cmd, true
}

// parseVolume reads the leading integer of arg, so "7.5" is 7 and "10abc"
// is 10. It returns 0 when there is none or it is out of range.
func parseVolume(arg string) int {
	end := 0
	if end < len(arg) && (arg[end] == '+' || arg[end] == '-') {
		end++
	}
	digits := end
	for end < len(arg) && arg[end] >= '0' && arg[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(arg[:end])
	if err != nil || n < MinVolume || n > MaxVolume {
		return 0
	}
	return n
}

// volumeGain converts a level to the linear gain applied to samples.
func volumeGain(level int) float64 {
	return float64(level) / MaxVolume
}
