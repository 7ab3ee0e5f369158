package claudecode

import (
	"strings"

	"ccflow/internal/shared/config"
)

// Command is the argument vector and optional stdin payload for one invocation.
type Command struct {
	Args     []string
	Stdin    string
	HasStdin bool
}

// Build translates an intent into CLI arguments. It never fails: empty
// prompts and empty flags pass through unchanged.
func Build(intent Intent, settings config.Settings) Command {
	args := make([]string, 0, 12+len(intent.ExtraFlags))

	if intent.Mode == ModePrint {
		args = append(args, "-p", "--output-format", "json")
	}

	args = append(args, "--dangerously-skip-permissions")
	if dir := strings.TrimSpace(settings.WorkingDir); dir != "" {
		args = append(args, "--add-dir", dir)
	}

	model := strings.TrimSpace(intent.Model)
	if model == "" {
		model = strings.TrimSpace(settings.Model)
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if settings.Verbose {
		args = append(args, "--verbose")
	}
	if settings.Debug {
		args = append(args, "--debug")
	}

	switch intent.Session.Kind {
	case SessionContinue:
		args = append(args, "--continue")
	case SessionResume:
		if intent.Session.ID != "" {
			args = append(args, "--resume", intent.Session.ID)
		}
	}

	if intent.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", intent.SystemPrompt)
	}

	args = append(args, intent.ExtraFlags...)

	if intent.Mode == ModePrint {
		args = append(args, intent.Prompt)
		return Command{Args: args}
	}
	return Command{Args: args, Stdin: intent.Prompt, HasStdin: intent.Prompt != ""}
}
