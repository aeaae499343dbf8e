package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenInterpreter/open-interpreter-sub000/internal/interpreter"
	"github.com/OpenInterpreter/open-interpreter-sub000/internal/protocol"
)

var (
	execLanguage string
	execCode     string
	execYes      bool
)

var execCmd = &cobra.Command{
	Use:   "exec [file]",
	Short: "Execute a block of code and print its output",
	Long: `exec runs one block of code in the named language and prints the chunk
stream: console output to stdout, errors to stderr. Code comes from -c,
a file argument, or stdin.

Unless --yes is given, the code is shown and must be approved before it
runs.`,
	Example: `  interpreter exec -l python -c "print('hi')"
  interpreter exec -l shell script.sh
  echo "1 + 1" | interpreter exec -l python --yes`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVarP(&execLanguage, "language", "l", "", "Language to execute (required)")
	execCmd.Flags().StringVarP(&execCode, "code", "c", "", "Code to execute inline")
	execCmd.Flags().BoolVarP(&execYes, "yes", "y", false, "Run without asking for confirmation")
	execCmd.MarkFlagRequired("language")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	code, err := readCode(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	reg := buildRegistry(cfg, log)
	defer reg.ResetAll()

	opts := []interpreter.Option{}
	if !execYes && !cfg.Engine.AutoRun {
		opts = append(opts, interpreter.WithConfirm(promptConfirm))
	}
	in := interpreter.New(reg, log, opts...)

	ctx, cancel := signalContext()
	defer cancel()

	ch, err := in.Run(ctx, execLanguage, code)
	if err != nil {
		return err
	}

	sawError := false
	for chunk := range ch {
		switch chunk.Type {
		case protocol.ChunkConsole:
			if s, ok := chunk.Content.(string); ok {
				fmt.Print(s)
			}
		case protocol.ChunkActiveLine:
			if verbose {
				fmt.Fprintf(os.Stderr, "── line %v\n", chunk.Content)
			}
		case protocol.ChunkError:
			sawError = true
			fmt.Fprintf(os.Stderr, "error: %v\n", chunk.Content)
		}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("execution cancelled")
	}
	if sawError {
		return fmt.Errorf("execution failed")
	}
	return nil
}

// readCode resolves the code source: -c flag, file argument, then stdin.
func readCode(args []string) (string, error) {
	if execCode != "" {
		return execCode, nil
	}
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read code file: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

// promptConfirm shows the code and asks for approval on the terminal.
func promptConfirm(ctx context.Context, language, code string) bool {
	fmt.Fprintf(os.Stderr, "About to run the following %s code:\n\n", language)
	for _, line := range strings.Split(strings.TrimRight(code, "\n"), "\n") {
		fmt.Fprintf(os.Stderr, "    %s\n", line)
	}
	fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")

	answer := make(chan bool, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			answer <- false
			return
		}
		line = strings.ToLower(strings.TrimSpace(line))
		answer <- line == "y" || line == "yes"
	}()

	select {
	case ok := <-answer:
		return ok
	case <-ctx.Done():
		return false
	}
}
