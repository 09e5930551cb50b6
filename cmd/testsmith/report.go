package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"testsmith/pkg/config"
	"testsmith/pkg/metrics"
	"testsmith/pkg/persistence"
)

// runReport aggregates stored experiments and, when Prometheus is
// configured, per-experiment provider usage.
func runReport(args []string) int {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	project := fs.String("project", ".", "Project directory holding .testsmith/")
	by := fs.String("by", "technique", "Aggregation dimension: technique or model")
	list := fs.Int("list", 0, "List the N most recent experiments instead of aggregating")
	experiment := fs.String("experiment", "", "Show the attempt trace for one experiment ID")
	usage := fs.String("usage", "", "Query Prometheus for token and cost usage of one experiment ID")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if err := config.LoadConfig(*project); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := persistence.Initialize(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = persistence.Close() }()

	switch {
	case *usage != "":
		return reportUsage(*usage)
	case *experiment != "":
		return reportExperiment(*experiment)
	case *list > 0:
		return reportList(*list)
	default:
		return reportAggregate(*by)
	}
}

func reportAggregate(by string) int {
	var rows []persistence.ReportRow
	var err error
	switch by {
	case "technique":
		rows, err = persistence.Ops().ReportByTechnique()
	case "model":
		rows, err = persistence.Ops().ReportByModel()
	default:
		fmt.Fprintf(os.Stderr, "Error: -by must be technique or model, got %q\n", by)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(rows) == 0 {
		fmt.Println("No completed experiments recorded.")
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tEXPERIMENTS\tSUCCESSES\tSUCCESS RATE\tMEAN ITERATIONS\tMEAN COVERAGE\n", headerFor(by))
	for _, row := range rows {
		coverage := "n/a"
		if row.MeanCoverage != nil {
			coverage = fmt.Sprintf("%.1f%%", *row.MeanCoverage)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\t%.1f\t%s\n",
			row.Group, row.Experiments, row.Successes, row.SuccessRate*100, row.MeanIterations, coverage)
	}
	_ = w.Flush()
	return 0
}

func headerFor(by string) string {
	if by == "model" {
		return "MODEL"
	}
	return "TECHNIQUE"
}

func reportList(limit int) int {
	experiments, err := persistence.Ops().ListExperiments(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tPUT\tTECHNIQUE\tMODEL\tOUTCOME\tITERATIONS\tCOVERAGE\tCOST")
	for _, exp := range experiments {
		outcome := exp.OutcomeKind
		if outcome == "" {
			outcome = "pending"
		}
		coverage := "n/a"
		if exp.CoveragePercent != nil {
			coverage = fmt.Sprintf("%.1f%%", *exp.CoveragePercent)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t$%.4f\n",
			exp.ID, exp.CreatedAt.Format(time.RFC3339), exp.PUTID, exp.Technique,
			exp.Model, outcome, exp.Iterations, coverage, exp.CostUSD)
	}
	_ = w.Flush()
	return 0
}

func reportExperiment(id string) int {
	exp, err := persistence.Ops().GetExperiment(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if exp == nil {
		fmt.Fprintf(os.Stderr, "Error: experiment %s not found\n", id)
		return 1
	}

	coverage := "n/a"
	if exp.CoveragePercent != nil {
		coverage = fmt.Sprintf("%.1f%%", *exp.CoveragePercent)
	}
	fmt.Printf("Experiment %s\n", exp.ID)
	fmt.Printf("  PUT:        %s\n", exp.PUTID)
	fmt.Printf("  Technique:  %s (%s)\n", exp.Technique, exp.Category)
	fmt.Printf("  Model:      %s\n", exp.Model)
	fmt.Printf("  Outcome:    %s\n", exp.OutcomeKind)
	fmt.Printf("  Iterations: %d/%d\n", exp.Iterations, exp.MaxIterations)
	fmt.Printf("  Coverage:   %s\n", coverage)
	fmt.Printf("  Tokens:     %d prompt, %d completion\n", exp.PromptTokens, exp.CompletionTokens)
	fmt.Printf("  Cost:       $%.4f\n", exp.CostUSD)
	if exp.ErrorText != "" {
		fmt.Printf("  Error:      %s\n", exp.ErrorText)
	}

	attempts, err := persistence.Ops().GetAttempts(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Println("\nAttempts:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  ITERATION\tVALID\tEXECUTION\tCOVERAGE\tDURATION")
	for _, a := range attempts {
		execution := a.ExecutionStatus
		if execution == "" {
			execution = "-"
		}
		coverage := "n/a"
		if a.CoveragePercent != nil {
			coverage = fmt.Sprintf("%.1f%%", *a.CoveragePercent)
		}
		fmt.Fprintf(w, "  %d\t%t\t%s\t%s\t%dms\n", a.Iteration, a.Valid, execution, coverage, a.DurationMS)
	}
	_ = w.Flush()
	return 0
}

// reportUsage queries Prometheus for token and cost totals recorded by the
// metrics middleware.
func reportUsage(experimentID string) int {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Metrics.PrometheusURL == "" {
		fmt.Fprintf(os.Stderr, "Error: metrics.prometheus_url is not configured\n")
		return 1
	}

	service, err := metrics.NewQueryService(cfg.Metrics.PrometheusURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	usage, err := service.GetExperimentMetrics(ctx, experimentID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Experiment %s usage:\n", experimentID)
	fmt.Printf("  Prompt tokens:     %d\n", usage.PromptTokens)
	fmt.Printf("  Completion tokens: %d\n", usage.CompletionTokens)
	fmt.Printf("  Total tokens:      %d\n", usage.TotalTokens)
	fmt.Printf("  Total cost:        $%.4f\n", usage.TotalCost)

	byModel, err := service.GetExperimentMetricsByModel(ctx, experimentID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(byModel) > 1 {
		fmt.Println("\nBy model:")
		for model, m := range byModel {
			fmt.Printf("  %s: %d tokens, $%.4f\n", model, m.TotalTokens, m.TotalCost)
		}
	}
	return 0
}
