package domain

import (
	"fmt"
	"regexp"
)

// Status names the role mutation carried by a command.
type Status int

const (
	StatusMute Status = iota
	StatusAdmin
	StatusKick
)

func (s Status) String() string {
	switch s {
	case StatusMute:
		return "MUTE"
	case StatusAdmin:
		return "ADMIN"
	case StatusKick:
		return "KICK"
	default:
		return "UNKNOWN"
	}
}

// infoToken marks both name positions of a relay-issued command. A user
// command can never match the INFO shape because the relay checks the
// INFO pattern first and discards inbound frames that wear it.
const infoToken = "INFO"

// Both command families share the textual shape <A>|STATUS|<B>, sent as
// ordinary message content. User commands carry requester and target
// usernames; INFO commands carry the INFO token in both positions and
// are addressed by which connection receives them.
var (
	commandPattern = regexp.MustCompile(`^<(.+)>\|(MUTE|ADMIN|KICK)\|<(.+)>$`)
	infoPattern    = regexp.MustCompile(`^<INFO>\|(MUTE|ADMIN|KICK)\|<INFO>$`)
)

// Command is a parsed user-issued status command.
type Command struct {
	Requester string
	Status    Status
	Target    string
}

// FormatCommand renders a user-issued status command.
func FormatCommand(requester string, status Status, target string) string {
	return fmt.Sprintf("<%s>|%s|<%s>", requester, status, target)
}

// ParseCommand matches text against the user-command shape. Text in the
// INFO shape is not a user command.
func ParseCommand(text string) (Command, bool) {
	if IsInfo(text) {
		return Command{}, false
	}
	m := commandPattern.FindStringSubmatch(text)
	if m == nil {
		return Command{}, false
	}
	status, ok := parseStatus(m[2])
	if !ok {
		return Command{}, false
	}
	return Command{Requester: m[1], Status: status, Target: m[3]}, true
}

// FormatInfo renders a relay-issued INFO command.
func FormatInfo(status Status) string {
	return fmt.Sprintf("<%s>|%s|<%s>", infoToken, status, infoToken)
}

// ParseInfo matches text against the INFO shape and yields its status.
func ParseInfo(text string) (Status, bool) {
	m := infoPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseStatus(m[1])
}

// IsInfo reports whether text wears the INFO-command shape.
func IsInfo(text string) bool {
	return infoPattern.MatchString(text)
}

func parseStatus(s string) (Status, bool) {
	switch s {
	case "MUTE":
		return StatusMute, true
	case "ADMIN":
		return StatusAdmin, true
	case "KICK":
		return StatusKick, true
	default:
		return 0, false
	}
}
