package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ccflow/internal/infra/external/claudecode"
	"ccflow/internal/infra/external/subprocess"
	"ccflow/internal/shared/config"
)

func newInitCommand(cli *CLI) *cobra.Command {
	var apiKey string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Locate or install the claude CLI and print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, result, err := cli.initialize(cmd.Context(), apiKey)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			fmt.Fprintln(cli.out, result.ConfigSummary)
			fmt.Fprintf(cli.out, "%s %s\n", gray("Source:"), result.Source)
			if result.Version != "" {
				fmt.Fprintf(cli.out, "%s %s\n", gray("Version:"), result.Version)
			}
			fmt.Fprintln(cli.out, green("Claude Code is ready."))
			return nil
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key to export as "+config.CredentialEnvVar)
	return cmd
}

func newChatCommand(cli *CLI) *cobra.Command {
	var (
		req    claudecode.ChatRequest
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Send a prompt in print mode",
		Long:  "Send a prompt in print mode. Without arguments the prompt is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := cli.readPrompt(args)
			if err != nil {
				return err
			}
			if req.ContinueConversation && req.SessionID != "" {
				return fmt.Errorf("--continue and --resume are mutually exclusive")
			}

			rt, _, err := cli.initialize(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			req.Prompt = prompt
			result, err := rt.executor.Chat(cmd.Context(), req)
			if err != nil {
				return err
			}
			return cli.report(result, asJSON)
		},
	}
	flags := cmd.Flags()
	flags.BoolVarP(&req.ContinueConversation, "continue", "c", false, "Continue the most recent conversation")
	flags.StringVarP(&req.SessionID, "resume", "r", "", "Resume the session with this id")
	flags.StringVar(&req.SystemPrompt, "system", "", "System prompt")
	flags.StringArrayVar(&req.ExtraFlags, "flag", nil, "Extra flag passed to the CLI (repeatable)")
	flags.BoolVar(&asJSON, flagJSON, false, "Print the analysis as JSON")
	return cmd
}

func newEditCommand(cli *CLI) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "edit <file> <instruction...>",
		Short: "Ask the CLI to edit a file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			instruction := strings.TrimSpace(strings.Join(args[1:], " "))
			if instruction == "" {
				return fmt.Errorf("instruction is required")
			}

			rt, _, err := cli.initialize(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			result, err := rt.executor.EditFile(cmd.Context(), claudecode.EditRequest{
				Path:        args[0],
				Instruction: instruction,
			})
			if err != nil {
				return err
			}
			return cli.report(result, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, flagJSON, false, "Print the analysis as JSON")
	return cmd
}

func newExecCommand(cli *CLI) *cobra.Command {
	var (
		input  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "exec [-- args...]",
		Short: "Run the CLI with raw arguments",
		Long:  "Run the CLI in interactive mode with the arguments after --. With --input, the text is written to its stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := cli.initialize(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			result, err := rt.executor.Run(cmd.Context(), claudecode.RawRequest{
				Args:  strings.Join(args, " "),
				Input: input,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return cli.report(result, true)
			}
			fmt.Fprint(cli.out, result.Raw.Stdout)
			fmt.Fprint(cli.errOut, result.Raw.Stderr)
			if result.Raw.Failed() {
				return failedInvocation("claude exited with code %d", result.Raw.ExitCode)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Text written to the CLI's stdin")
	cmd.Flags().BoolVar(&asJSON, flagJSON, false, "Print the analysis as JSON")
	return cmd
}

func newBatchCommand(cli *CLI) *cobra.Command {
	var (
		system string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "batch <file.yaml | prompt...>",
		Short: "Run several prompts and print usage totals",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := claudecode.BatchRequest{Prompts: args, SystemPrompt: system}
			if isBatchFileArg(args) {
				file, err := loadBatchFile(args[0])
				if err != nil {
					return err
				}
				req = claudecode.BatchRequest{Prompts: file.Prompts, Model: file.Model, SystemPrompt: file.SystemPrompt}
				if system != "" {
					req.SystemPrompt = system
				}
			}

			rt, _, err := cli.initialize(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			batch, runErr := rt.executor.Batch(cmd.Context(), req)
			if asJSON {
				views := make([]resultView, 0, len(batch.Results))
				for _, result := range batch.Results {
					views = append(views, newResultView(result))
				}
				if err := writeJSON(cli.out, map[string]any{"results": views, "summary": batch.Summary}); err != nil {
					return err
				}
			} else {
				for i, result := range batch.Results {
					fmt.Fprintf(cli.out, "%s %s\n", bold(fmt.Sprintf("[%d/%d]", i+1, len(req.Prompts))), result.Intent.Prompt)
					renderResult(cli.out, result, cli.markdownWidth())
					fmt.Fprintln(cli.out)
				}
				renderSummary(cli.out, batch.Summary)
			}
			if runErr != nil {
				return runErr
			}
			if batch.Summary.Failed > 0 {
				return failedInvocation("%d of %d prompts failed", batch.Summary.Failed, batch.Summary.TotalOperations)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "System prompt for every prompt")
	cmd.Flags().BoolVar(&asJSON, flagJSON, false, "Print results and summary as JSON")
	return cmd
}

func newAnalyzeCommand(cli *CLI) *cobra.Command {
	var (
		stdoutPath string
		stderrPath string
		raw        subprocess.RawResult
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze previously captured CLI output",
		Long:  "Analyze previously captured CLI output. Use '-' to read a stream from stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if stdoutPath == "" && stderrPath == "" {
				return fmt.Errorf("at least one of --stdout or --stderr is required")
			}
			if stdoutPath == "-" && stderrPath == "-" {
				return fmt.Errorf("only one of --stdout or --stderr can read stdin")
			}
			var err error
			if raw.Stdout, err = cli.readCapture(stdoutPath); err != nil {
				return err
			}
			if raw.Stderr, err = cli.readCapture(stderrPath); err != nil {
				return err
			}

			analysis := claudecode.Analyze(raw)
			if asJSON {
				return writeJSON(cli.out, analysis)
			}
			if text := strings.TrimRight(analysis.ResponseText, "\n"); text != "" && analysis.Structured {
				fmt.Fprintln(cli.out, text)
				fmt.Fprintln(cli.out)
			}
			renderStatus(cli.out, analysis, raw)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&stdoutPath, "stdout", "", "File with captured stdout")
	flags.StringVar(&stderrPath, "stderr", "", "File with captured stderr")
	flags.IntVar(&raw.ExitCode, "exit-code", 0, "Exit code of the captured run")
	flags.BoolVar(&raw.TimedOut, "timed-out", false, "The captured run timed out")
	flags.BoolVar(&asJSON, flagJSON, false, "Print the analysis as JSON")
	return cmd
}

func newVersionCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ccflow version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(cli.out, "ccflow %s\n", appVersion())
		},
	}
}

// readPrompt joins args, or reads stdin when no args are given and stdin is
// not a terminal.
func (cli *CLI) readPrompt(args []string) (string, error) {
	if len(args) > 0 {
		if prompt := strings.TrimSpace(strings.Join(args, " ")); prompt != "" {
			return prompt, nil
		}
	} else if cli.stdinTTY == nil || !cli.stdinTTY() {
		data, err := io.ReadAll(cli.in)
		if err != nil {
			return "", fmt.Errorf("read prompt from stdin: %w", err)
		}
		if prompt := strings.TrimSpace(string(data)); prompt != "" {
			return prompt, nil
		}
	}
	return "", fmt.Errorf("prompt is required")
}

func (cli *CLI) markdownWidth() int {
	if cli.stdoutWidth == nil {
		return 0
	}
	return cli.stdoutWidth()
}

func (cli *CLI) readCapture(path string) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		data, err := io.ReadAll(cli.in)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read capture: %w", err)
		}
		return string(data), nil
	}
}

// report prints one result and turns an unsuccessful invocation into exit 1.
func (cli *CLI) report(result claudecode.Result, asJSON bool) error {
	if asJSON {
		if err := writeJSON(cli.out, newResultView(result)); err != nil {
			return err
		}
	} else {
		renderResult(cli.out, result, cli.markdownWidth())
	}
	if !result.Analysis.Success {
		if result.Raw.TimedOut {
			return failedInvocation("%s", strings.TrimSpace(result.Raw.Stderr))
		}
		if result.Raw.ExitCode != 0 {
			return failedInvocation("claude exited with code %d", result.Raw.ExitCode)
		}
		return failedInvocation("claude reported an error")
	}
	return nil
}
