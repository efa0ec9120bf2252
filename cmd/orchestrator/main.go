// Command orchestrator is a headless CLI over the core packages, useful
// for local verification without standing up cmd/apiserver. It mirrors
// the teacher's stdlib-flag entry point (no resource-schema CLI
// framework applies to a handful of subcommands here).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/devops-wiz/apiflow/internal/config"
	"github.com/devops-wiz/apiflow/internal/executor"
	"github.com/devops-wiz/apiflow/internal/httpclient"
	"github.com/devops-wiz/apiflow/internal/inference"
	"github.com/devops-wiz/apiflow/internal/ingest"
	"github.com/devops-wiz/apiflow/internal/reporting"
	"github.com/devops-wiz/apiflow/internal/specsource"
	"github.com/devops-wiz/apiflow/internal/sqlstore"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	rc := config.Derive()
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	store, err := sqlstore.Open(rc.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()

	ctx := context.Background()

	switch os.Args[1] {
	case "ingest":
		runIngest(ctx, store, log, rc, os.Args[2:])
	case "analyze":
		runAnalyze(ctx, store, log, rc, os.Args[2:])
	case "run":
		runExecute(ctx, store, log, rc, os.Args[2:])
	case "report":
		runReport(ctx, store, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: orchestrator <ingest|analyze|run|report> [flags]")
}

func runIngest(ctx context.Context, store *sqlstore.Store, log zerolog.Logger, rc config.Resolved, args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	project := fs.String("project", "", "project id")
	path := fs.String("spec", "", "path to an OpenAPI document")
	specURL := fs.String("url", "", "URL of an OpenAPI document")
	_ = fs.Parse(args)

	var src specsource.Source
	switch {
	case *path != "":
		src = specsource.FileSource{Path: *path}
	case *specURL != "":
		src = specsource.HTTPSource{URL: *specURL, Client: httpclient.NewTargetClient(httpclient.Options{TimeoutSeconds: rc.HTTPTimeoutSec})}
	default:
		log.Fatal().Msg("one of -spec or -url is required")
	}

	ingestor := ingest.New(store, log)
	result, err := ingestor.Ingest(ctx, *project, src)
	if err != nil {
		log.Fatal().Err(err).Msg("ingest failed")
	}
	fmt.Printf("ingested spec %s with %d endpoints\n", result.SpecID, len(result.Endpoints))
}

func runAnalyze(ctx context.Context, store *sqlstore.Store, log zerolog.Logger, rc config.Resolved, args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	project := fs.String("project", "", "project id")
	_ = fs.Parse(args)

	analyzer := &inference.Analyzer{
		Store: store,
		Chat: inference.HTTPChatClient{
			Endpoint: rc.LLMEndpoint,
			APIKey:   rc.LLMAPIKey,
			Client:   httpclient.NewLLMClient(httpclient.Options{TimeoutSeconds: rc.HTTPTimeoutSec}),
		},
		Model:       rc.LLMModel,
		Concurrency: rc.InferenceConcurrency,
	}
	if err := analyzer.Analyze(ctx, *project); err != nil {
		log.Fatal().Err(err).Msg("analyze failed")
	}
	fmt.Println("analysis complete")
}

func runExecute(ctx context.Context, store *sqlstore.Store, log zerolog.Logger, rc config.Resolved, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	project := fs.String("project", "", "project id")
	environment := fs.String("environment", rc.TargetBaseURL, "base URL of the target environment")
	_ = fs.Parse(args)

	ex := executor.New(store, httpclient.NewTargetClient(httpclient.Options{TimeoutSeconds: rc.HTTPTimeoutSec}))
	run, err := ex.Run(ctx, *project, *environment)
	if err != nil {
		log.Fatal().Err(err).Msg("run failed")
	}
	fmt.Printf("run %s finished with status %s\n", run.ID, run.Status)
}

func runReport(ctx context.Context, store *sqlstore.Store, args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	runID := fs.String("run", "", "run id")
	_ = fs.Parse(args)

	report, err := reporting.ProjectRun(ctx, store, *runID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("run %s status=%s executions=%d\n", report.Run.ID, report.Run.Status, len(report.Executions))
	for _, e := range report.Executions {
		fmt.Printf("  %s %s -> %s\n", e.Api.Method, e.Api.Path, e.Execution.Status)
	}
}
