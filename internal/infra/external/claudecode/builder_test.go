package claudecode

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ccflow/internal/shared/config"
)

func indexOf(args []string, want string) int {
	for i, arg := range args {
		if arg == want {
			return i
		}
	}
	return -1
}

func TestBuildArgumentOrder(t *testing.T) {
	settings := config.Settings{
		Model:          "sonnet",
		WorkingDir:     "/repo",
		TimeoutSeconds: 30,
		Verbose:        true,
		Debug:          true,
	}

	tests := []struct {
		name     string
		intent   Intent
		settings config.Settings
		want     Command
	}{
		{
			name:     "print mode minimal",
			intent:   Intent{Prompt: "hello"},
			settings: config.Settings{},
			want:     Command{Args: []string{"-p", "--output-format", "json", "--dangerously-skip-permissions", "hello"}},
		},
		{
			name: "print mode full",
			intent: Intent{
				Prompt:       "fix it",
				Session:      Resume("abc-123"),
				SystemPrompt: "be terse",
				ExtraFlags:   []string{"--max-turns", "3"},
			},
			settings: settings,
			want: Command{Args: []string{
				"-p", "--output-format", "json",
				"--dangerously-skip-permissions", "--add-dir", "/repo",
				"--model", "sonnet", "--verbose", "--debug",
				"--resume", "abc-123",
				"--append-system-prompt", "be terse",
				"--max-turns", "3",
				"fix it",
			}},
		},
		{
			name:     "continue with intent model override",
			intent:   Intent{Prompt: "again", Session: Continue(), Model: "opus"},
			settings: config.Settings{Model: "sonnet"},
			want: Command{Args: []string{
				"-p", "--output-format", "json", "--dangerously-skip-permissions",
				"--model", "opus", "--continue", "again",
			}},
		},
		{
			name:     "interactive sends prompt on stdin",
			intent:   Intent{Prompt: "status", Mode: ModeInteractive, ExtraFlags: []string{"--help"}},
			settings: config.Settings{WorkingDir: "/repo"},
			want: Command{
				Args:     []string{"--dangerously-skip-permissions", "--add-dir", "/repo", "--help"},
				Stdin:    "status",
				HasStdin: true,
			},
		},
		{
			name:     "interactive without input has no stdin",
			intent:   Intent{Mode: ModeInteractive},
			settings: config.Settings{},
			want:     Command{Args: []string{"--dangerously-skip-permissions"}},
		},
		{
			name:     "empty prompt passes through",
			intent:   Intent{},
			settings: config.Settings{},
			want:     Command{Args: []string{"-p", "--output-format", "json", "--dangerously-skip-permissions", ""}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Build(tt.intent, tt.settings))
		})
	}
}

func TestBuildResumeIsAdjacentAndExclusive(t *testing.T) {
	for _, id := range []string{"s1", "0f3c-uuid", "--weird"} {
		cmd := Build(Intent{Prompt: "p", Session: Resume(id), SystemPrompt: "sys"}, config.Settings{WorkingDir: "/w"})
		i := indexOf(cmd.Args, "--resume")
		if assert.GreaterOrEqual(t, i, 0) {
			assert.Equal(t, id, cmd.Args[i+1])
		}
		assert.Equal(t, -1, indexOf(cmd.Args, "--continue"))
	}
}

func TestResumeBlankIDMeansNoSession(t *testing.T) {
	assert.Equal(t, NoSession(), Resume("  "))
	cmd := Build(Intent{Prompt: "p", Session: Resume("")}, config.Settings{})
	assert.Equal(t, -1, indexOf(cmd.Args, "--resume"))
}

func TestBuildSystemPromptWithContinue(t *testing.T) {
	cmd := Build(Intent{Prompt: "p", Session: Continue(), SystemPrompt: "sys"}, config.Settings{})
	assert.Equal(t, indexOf(cmd.Args, "--continue")+1, indexOf(cmd.Args, "--append-system-prompt"))
}

func TestModeAndSessionStrings(t *testing.T) {
	assert.Equal(t, "print", ModePrint.String())
	assert.Equal(t, "interactive", ModeInteractive.String())
	assert.Equal(t, "none", NoSession().String())
	assert.Equal(t, "continue", Continue().String())
	assert.Equal(t, "resume:x", Resume("x").String())
}
