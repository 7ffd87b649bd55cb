package webhook

import (
	"strings"

	"homework_bot/internal/domain"
)

type Command string

const (
	CommandAccepted Command = "/accepted"
	CommandNeedwork Command = "/needwork"
)

var commandTargets = map[Command]domain.SubmissionStatus{
	CommandAccepted: domain.SubmissionStatusAccepted,
	CommandNeedwork: domain.SubmissionStatusNeedwork,
}

// ParseCommand matches a staff comment against the command vocabulary.
// Only an exact match, ignoring surrounding whitespace, is a command.
func ParseCommand(text string) (Command, bool) {
	c := Command(strings.TrimSpace(text))
	_, ok := commandTargets[c]
	return c, ok
}

func (c Command) Target() domain.SubmissionStatus {
	return commandTargets[c]
}

func looksLikeCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}
