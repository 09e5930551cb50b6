// Command testsmith generates Go unit tests with an LLM, verifies them in a
// sandboxed scratch module, and repairs failures across a bounded number of
// iterations.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"testsmith/pkg/config"
	"testsmith/pkg/prompts"
	"testsmith/pkg/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var code int
	switch os.Args[1] {
	case "generate":
		code = runGenerate(os.Args[2:])
	case "report":
		code = runReport(os.Args[2:])
	case "prompts":
		code = runPrompts(os.Args[2:])
	case "models":
		code = runModels(os.Args[2:])
	case "init":
		code = runInit(os.Args[2:])
	case "version":
		fmt.Printf("testsmith %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		printUsage()
		code = 1
	}
	os.Exit(code)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "testsmith - LLM unit test generation with verify-and-repair\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  %s <command> [flags]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  generate  - Generate tests for a source file (-source) or a directory (-dir)\n")
	fmt.Fprintf(os.Stderr, "  report    - Aggregate stored experiments by technique or model\n")
	fmt.Fprintf(os.Stderr, "  prompts   - List registered prompt techniques\n")
	fmt.Fprintf(os.Stderr, "  models    - List known models with providers and pricing\n")
	fmt.Fprintf(os.Stderr, "  init      - Initialize a project directory and optionally store API keys\n")
	fmt.Fprintf(os.Stderr, "  version   - Print build version information\n\n")
	fmt.Fprintf(os.Stderr, "Examples:\n")
	fmt.Fprintf(os.Stderr, "  %s init\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s generate -source clamp.go -technique cot-v1\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s generate -dir ./pkg/mathx -workers 4\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s report -by model\n", os.Args[0])
}

// runPrompts lists registered prompt techniques.
func runPrompts(args []string) int {
	fs := flag.NewFlagSet("prompts", flag.ExitOnError)
	category := fs.String("category", "", "Filter by category (zero-shot, few-shot, chain-of-thought)")
	all := fs.Bool("all", false, "Include deactivated techniques")
	techniquesFile := fs.String("techniques", "", "YAML file of additional techniques to load")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	registry := prompts.NewRegistry()
	if *techniquesFile != "" {
		if err := registry.LoadFile(*techniquesFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tVERSION\tACTIVE")
	for _, t := range registry.List(*category, !*all) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", t.ID, t.Name, t.Category, t.Version, t.Active)
	}
	_ = w.Flush()
	return 0
}

// runModels lists the known model registry with pricing.
func runModels(args []string) int {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	names := make([]string, 0, len(config.KnownModels))
	for name := range config.KnownModels {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tPROVIDER\tINPUT $/M\tOUTPUT $/M\tCONTEXT")
	for _, name := range names {
		info := config.KnownModels[name]
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%d\n",
			name, info.Provider, info.InputCPM, info.OutputCPM, info.MaxContextTokens)
	}
	_ = w.Flush()
	return 0
}
