package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"testsmith/pkg/config"
	"testsmith/pkg/exec"
	"testsmith/pkg/harness"
	"testsmith/pkg/llm/factory"
	"testsmith/pkg/logx"
	"testsmith/pkg/loop"
	"testsmith/pkg/persistence"
	"testsmith/pkg/prompts"
	"testsmith/pkg/put"
	"testsmith/pkg/utils"
	"testsmith/pkg/validity"
)

// runGenerate drives the generate-verify-repair loop for one source file or
// a directory of them.
func runGenerate(args []string) int {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	source := fs.String("source", "", "Go source file to generate tests for")
	dir := fs.String("dir", "", "Directory of Go source files for batch generation")
	project := fs.String("project", ".", "Project directory holding .testsmith/")
	model := fs.String("model", "", "Model name (overrides configured model)")
	technique := fs.String("technique", "", "Prompt technique ID (overrides configured technique)")
	iterations := fs.Int("iterations", 0, "Maximum loop iterations (overrides configured value)")
	output := fs.String("output", "", "Directory for accepted test files (overrides configured value)")
	workers := fs.Int("workers", 0, "Concurrent workers for batch mode (overrides configured value)")
	timeout := fs.Int("timeout", 0, "Test execution timeout in seconds (overrides configured value)")
	dbFlag := fs.String("db", "", "SQLite database path (overrides configured value)")
	noExec := fs.Bool("no-exec", false, "Syntax check only, skip test execution")
	noCover := fs.Bool("no-cover", false, "Skip coverage measurement for passing tests")
	techniquesFile := fs.String("techniques", "", "YAML file of additional prompt techniques")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if (*source == "") == (*dir == "") {
		fmt.Fprintf(os.Stderr, "Error: exactly one of -source or -dir is required\n")
		return 1
	}

	if err := config.LoadConfig(*project); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := unlockSecrets(*project); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Flags override project config.
	modelName := cfg.Generation.Model
	if *model != "" {
		modelName = *model
	}
	techniqueID := cfg.Generation.Technique
	if *technique != "" {
		techniqueID = *technique
	}
	maxIterations := cfg.Generation.MaxIterations
	if *iterations > 0 {
		maxIterations = *iterations
	}
	outputDir := cfg.Generation.OutputDir
	if *output != "" {
		outputDir = *output
	}
	if !filepath.IsAbs(outputDir) {
		outputDir = filepath.Join(*project, outputDir)
	}
	workerCount := cfg.Batch.Workers
	if *workers > 0 {
		workerCount = *workers
	}
	executeTests := cfg.Generation.ExecuteTests && !*noExec
	measureCoverage := executeTests && cfg.Generation.MeasureCoverage && !*noCover
	execTimeoutSec := cfg.Execution.TimeoutSeconds
	if *timeout > 0 {
		execTimeoutSec = *timeout
	}

	dbPath := *dbFlag
	if dbPath == "" {
		dbPath, err = config.GetDatabasePath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	if err := persistence.Initialize(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = persistence.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientFactory := factory.NewClientFactory(ctx)
	defer clientFactory.Stop()

	manager, err := prompts.NewManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *techniquesFile != "" {
		if err := manager.Registry().LoadFile(*techniquesFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	if _, err := manager.Registry().Get(techniqueID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := logx.NewLogger("cli")
	tokens, err := utils.NewTokenCounter(modelName)
	if err != nil {
		logger.Warn("token counter unavailable for %s, using character estimate: %v", modelName, err)
		tokens = nil
	}

	testHarness := harness.New(
		exec.NewLocalExec(),
		cfg.Execution.GoBinary,
		time.Duration(execTimeoutSec)*time.Second,
	)

	newController := func() (*loop.Controller, error) {
		controller := loop.NewController(manager, testHarness, tokens)
		client, err := clientFactory.CreateClientWithContext(modelName, controller, logger)
		if err != nil {
			return nil, err
		}
		controller.SetClient(client)
		return controller, nil
	}

	var puts []*put.PUT
	if *source != "" {
		p, err := put.Load(*source)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		puts = []*put.PUT{p}
	} else {
		puts, err = put.LoadDir(*dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create output directory: %v\n", err)
		return 1
	}

	requests := make([]loop.GenerationRequest, len(puts))
	for i, p := range puts {
		requests[i] = loop.GenerationRequest{
			ExperimentID:    persistence.NewExperimentID(),
			PUTID:           p.ID,
			SourceCode:      p.Source,
			PackageName:     p.Package,
			Functions:       p.Functions,
			Technique:       techniqueID,
			MaxIterations:   maxIterations,
			ExecuteTests:    executeTests,
			MeasureCoverage: measureCoverage,
		}
		if err := recordExperimentStart(&requests[i], techniqueID, modelName, manager); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	results := loop.RunBatch(ctx, requests, workerCount, newController)

	exitCode := 0
	for _, result := range results {
		if result.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", result.Request.PUTID, result.Err)
			exitCode = 1
			continue
		}

		if err := recordExperimentEnd(&result, modelName); err != nil {
			logger.Error("failed to persist experiment %s: %v", result.Request.ExperimentID, err)
		}

		if result.Outcome.Accepted() {
			path := filepath.Join(outputDir, result.Request.PUTID+"_test.go")
			if err := os.WriteFile(path, []byte(result.Outcome.Candidate+"\n"), 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "%s: failed to write %s: %v\n", result.Request.PUTID, path, err)
				exitCode = 1
				continue
			}
			fmt.Printf("%s: %s after %d iteration(s), coverage %s -> %s\n",
				result.Request.PUTID, result.Outcome.Kind, result.Outcome.Iterations,
				result.Outcome.Coverage, path)
		} else {
			fmt.Printf("%s: %s after %d iteration(s)\n",
				result.Request.PUTID, result.Outcome.Kind, result.Outcome.Iterations)
			exitCode = 1
		}
	}
	return exitCode
}

// recordExperimentStart persists the experiment row before the loop runs.
func recordExperimentStart(req *loop.GenerationRequest, techniqueID, modelName string, manager *prompts.Manager) error {
	techniqueObj, err := manager.Registry().Get(techniqueID)
	if err != nil {
		return err
	}
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		provider = ""
	}
	return persistence.Ops().InsertExperiment(&persistence.Experiment{
		ID:              req.ExperimentID,
		CreatedAt:       time.Now().UTC(),
		PUTID:           req.PUTID,
		Technique:       techniqueID,
		Category:        techniqueObj.Category,
		Model:           modelName,
		Provider:        provider,
		MaxIterations:   req.MaxIterations,
		ExecuteTests:    req.ExecuteTests,
		MeasureCoverage: req.MeasureCoverage,
	})
}

// recordExperimentEnd writes the outcome, accounting totals, and the full
// attempt trace.
func recordExperimentEnd(result *loop.BatchResult, modelName string) error {
	var promptTokens, completionTokens int64
	records := make([]persistence.AttemptRecord, 0, len(result.Attempts))
	for i := range result.Attempts {
		a := &result.Attempts[i]
		promptTokens += int64(a.PromptTokens)
		completionTokens += int64(a.CompletionTokens)

		record := persistence.AttemptRecord{
			ExperimentID:    result.Request.ExperimentID,
			Iteration:       a.Iteration,
			Valid:           a.Validity.Valid,
			ValidityMessage: a.Validity.Message,
			Candidate:       a.Candidate,
			ErrorText:       a.ErrorText,
			DurationMS:      a.Duration.Milliseconds(),
		}
		if a.Execution != nil {
			record.ExecutionStatus = string(a.Execution.Status)
			record.ExecutionDetail = a.Execution.Detail
		}
		if a.Coverage.Available {
			percent := a.Coverage.Percent
			record.CoveragePercent = &percent
		}
		records = append(records, record)
	}

	cost, err := config.CalculateCost(modelName, int(promptTokens), int(completionTokens))
	if err != nil {
		cost = 0
	}

	exp := &persistence.Experiment{
		ID:               result.Request.ExperimentID,
		OutcomeKind:      string(result.Outcome.Kind),
		Iterations:       result.Outcome.Iterations,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostUSD:          cost,
		ErrorText:        result.Outcome.ErrorText,
	}
	if result.Outcome.Coverage.Available {
		percent := result.Outcome.Coverage.Percent
		exp.CoveragePercent = &percent
	}
	if result.Outcome.Accepted() {
		exp.TestCount = len(validity.Functions(result.Outcome.Candidate))
	}

	if err := persistence.Ops().CompleteExperiment(exp); err != nil {
		return err
	}
	return persistence.Ops().InsertAttempts(records)
}

// unlockSecrets decrypts the project secrets file when present. The password
// comes from TESTSMITH_PASSWORD or a masked terminal prompt.
func unlockSecrets(projectDir string) error {
	if !config.SecretsFileExists(projectDir) {
		return nil
	}

	password := os.Getenv("TESTSMITH_PASSWORD")
	if password == "" {
		fmt.Print("Project password: ")
		raw, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
	}

	secrets, err := config.DecryptSecretsFile(projectDir, password)
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}
