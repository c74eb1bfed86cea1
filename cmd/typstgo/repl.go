package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/goodguyjay/typstgo/compiler"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive document session",
	Long: `Start an interactive session that grows a document line by line and
recompiles it on every entry, reusing the engine's incremental state.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Commands:
  :show           Print the accumulated document
  :clear          Discard the accumulated document
  :pages          Page count of the last successful compile
  :render <file>  Render the last successful compile (format by extension)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Run: runRepl,
}

func init() {
	replCmd.Flags().String("root", ".", "Workspace root")
	replCmd.Flags().StringSlice("font-path", nil, "Extra font directory (repeatable)")
	replCmd.Flags().String("package-path", "", "Package repository root")
	replCmd.Flags().String("history", "", "History file path (default: ~/.typstgo_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) {
	root, _ := cmd.Flags().GetString("root")
	fontPaths, _ := cmd.Flags().GetStringSlice("font-path")
	packagePath, _ := cmd.Flags().GetString("package-path")
	historyFile, _ := cmd.Flags().GetString("history")

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".typstgo_history")
	}

	eng, err := newEngine(cmd)
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer eng.Close()

	opts := []compiler.Option{compiler.WithEngine(eng)}
	if len(fontPaths) > 0 {
		opts = append(opts, compiler.WithFontPaths(fontPaths...))
	}
	if packagePath != "" {
		opts = append(opts, compiler.WithPackagePath(packagePath))
	}

	comp, err := compiler.New(root, opts...)
	if err != nil {
		fatalf("Error starting session: %v", err)
	}
	defer comp.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fatalf("Error initializing readline: %v", err)
	}
	defer rl.Close()

	fmt.Fprintf(os.Stderr, "typstgo REPL, typst %s (type 'exit' to quit, Ctrl+D to exit)\n", compiler.EngineVersion())

	var document strings.Builder
	var lastDoc *compiler.Document
	defer func() {
		if lastDoc != nil {
			lastDoc.Close()
		}
	}()

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
					continue
				}
				continue
			}
			if err == io.EOF {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			break
		}

		// Handle multi-line input
		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == "exit" || trimmed == "quit" {
			break
		}

		if strings.HasPrefix(trimmed, ":") {
			runReplCommand(trimmed, &document, comp, lastDoc)
			continue
		}

		document.WriteString(line)
		document.WriteString("\n")
		comp.UpdateSource(document.String())

		res := comp.Compile(context.Background())
		if res.Error != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", res.Error)
			continue
		}
		printDiagnostics(res.Diagnostics)
		if !res.Success {
			continue
		}
		if lastDoc != nil {
			lastDoc.Close()
		}
		lastDoc = res.Document
		fmt.Printf("%d page(s)\n", lastDoc.PageCount())
	}
}

func runReplCommand(line string, document *strings.Builder, comp *compiler.Compiler, lastDoc *compiler.Document) {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case ":show":
		fmt.Print(document.String())
	case ":clear":
		document.Reset()
		comp.UpdateSource("")
		fmt.Println("cleared")
	case ":pages":
		if lastDoc == nil {
			fmt.Println("no document yet")
			return
		}
		fmt.Printf("%d page(s)\n", lastDoc.PageCount())
	case ":render":
		if lastDoc == nil {
			fmt.Println("no document yet")
			return
		}
		arg = strings.TrimSpace(arg)
		if arg == "" {
			fmt.Println("usage: :render <file>")
			return
		}
		if err := renderTo(lastDoc, arg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return
		}
		fmt.Printf("rendered to %s\n", arg)
	default:
		fmt.Printf("unknown command %s\n", cmd)
	}
}

func renderTo(doc *compiler.Document, output string) error {
	ctx := context.Background()
	switch formatFromOutput(output) {
	case "pdf":
		data, err := doc.RenderPDF(ctx)
		if err != nil {
			return err
		}
		return writeOutput(output, data)
	default:
		pages, err := doc.RenderSVGAll(ctx)
		if err != nil {
			return err
		}
		for i, page := range pages {
			if err := writeOutput(svgPageName(output, i+1, len(pages)), page); err != nil {
				return err
			}
		}
		return nil
	}
}
