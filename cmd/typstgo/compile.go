package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodguyjay/typstgo/compiler"
	"github.com/spf13/cobra"
)

var compileCmd = &cobra.Command{
	Use:   "compile [file]",
	Short: "Compile a document to PDF or SVG",
	Long: `Compile a Typst document and render it.

The document can be provided via:
  - File argument: typstgo compile report.typ
  - Stdin: cat report.typ | typstgo compile --root .

The workspace root defaults to the document's directory; reads during
compilation cannot leave it. SVG output writes one file per page
(out.svg, out-2.svg, ...); PDF output is a single file. Set
SOURCE_DATE_EPOCH to pin the document's date for reproducible builds.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runCompile,
}

func init() {
	compileCmd.Flags().String("root", "", "Workspace root (default: document directory)")
	compileCmd.Flags().StringP("format", "f", "", "Output format: pdf, svg (default: by output extension, else pdf)")
	compileCmd.Flags().StringP("output", "o", "", "Output path, - for stdout (default: document name with format extension)")
	compileCmd.Flags().StringSlice("font-path", nil, "Extra font directory (repeatable)")
	compileCmd.Flags().String("package-path", "", "Package repository root")
	compileCmd.Flags().StringArray("input", nil, "Document input key=value (repeatable)")
	compileCmd.Flags().Bool("system-fonts", true, "Include system font directories")
	rootCmd.AddCommand(compileCmd)
}

var (
	errorLabel   = color.New(color.FgRed, color.Bold).SprintFunc()
	warningLabel = color.New(color.FgYellow, color.Bold).SprintFunc()
)

func printDiagnostics(diags []compiler.Diagnostic) {
	for _, d := range diags {
		label := errorLabel("error")
		if d.Severity == compiler.SeverityWarning {
			label = warningLabel("warning")
		}
		if d.File != "" && !d.Location.Absent() {
			fmt.Fprintf(os.Stderr, "%s:%d:%d: %s: %s\n", d.File, d.Location.Line, d.Location.Column, label, d.Message)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %s\n", label, d.Message)
		}
	}
}

func runCompile(cmd *cobra.Command, args []string) {
	root, _ := cmd.Flags().GetString("root")
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	fontPaths, _ := cmd.Flags().GetStringSlice("font-path")
	packagePath, _ := cmd.Flags().GetString("package-path")
	inputs, _ := cmd.Flags().GetStringArray("input")
	systemFonts, _ := cmd.Flags().GetBool("system-fonts")

	var source, filename string
	switch {
	case len(args) > 0:
		filename = args[0]
		data, err := os.ReadFile(filename)
		if err != nil {
			fatalf("Error: %v", err)
		}
		source = string(data)
	default:
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) != 0 {
			cmd.Help()
			return
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fatalf("Error: %v", err)
		}
		source = string(data)
	}

	if root == "" {
		if filename != "" {
			root = filepath.Dir(filename)
		} else {
			root = "."
		}
	}
	if format == "" {
		format = formatFromOutput(output)
	}
	if format != "pdf" && format != "svg" {
		fatalf("Error: unknown format %q (expected pdf or svg)", format)
	}
	if output == "" {
		output = defaultOutput(filename, format)
	}

	inputsJSON, err := parseInputs(inputs)
	if err != nil {
		fatalf("Error: %v", err)
	}
	creation, err := creationFromEnv()
	if err != nil {
		fatalf("Error: %v", err)
	}

	eng, err := newEngine(cmd)
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer eng.Close()

	opts := []compiler.Option{
		compiler.WithEngine(eng),
		compiler.WithSource(source),
		compiler.WithSystemFonts(systemFonts),
	}
	if len(fontPaths) > 0 {
		opts = append(opts, compiler.WithFontPaths(fontPaths...))
	}
	if packagePath != "" {
		opts = append(opts, compiler.WithPackagePath(packagePath))
	}
	if inputsJSON != nil {
		opts = append(opts, compiler.WithInputsJSON(inputsJSON))
	}
	if creation != nil {
		opts = append(opts, compiler.WithCreationTimestamp(*creation))
	}

	comp, err := compiler.New(root, opts...)
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer comp.Close()

	ctx := cmd.Context()
	res := comp.Compile(ctx)
	if res.Error != nil {
		fatalf("Error: %v", res.Error)
	}
	printDiagnostics(res.Diagnostics)
	if !res.Success {
		os.Exit(1)
	}
	defer res.Document.Close()

	switch format {
	case "pdf":
		data, err := res.Document.RenderPDF(ctx)
		if err != nil {
			fatalf("Error: %v", err)
		}
		if err := writeOutput(output, data); err != nil {
			fatalf("Error: %v", err)
		}
	case "svg":
		pages, err := res.Document.RenderSVGAll(ctx)
		if err != nil {
			fatalf("Error: %v", err)
		}
		for i, page := range pages {
			if err := writeOutput(svgPageName(output, i+1, len(pages)), page); err != nil {
				fatalf("Error: %v", err)
			}
		}
	}

	fmt.Fprintf(os.Stderr, "compiled %d page(s) in %s\n", res.Document.PageCount(), res.Duration.Round(time.Millisecond))
}

func formatFromOutput(output string) string {
	switch strings.ToLower(filepath.Ext(output)) {
	case ".svg":
		return "svg"
	case ".pdf", "":
		return "pdf"
	default:
		return "pdf"
	}
}

func defaultOutput(filename, format string) string {
	base := "out"
	if filename != "" {
		base = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	return base + "." + format
}

// svgPageName numbers multi-page outputs: out.svg, out-2.svg, out-3.svg.
func svgPageName(output string, page, total int) string {
	if total <= 1 || page == 1 || output == "-" {
		return output
	}
	ext := filepath.Ext(output)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(output, ext), page, ext)
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
