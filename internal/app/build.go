package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"horse.fit/dailybrief/internal/cli"
	"horse.fit/dailybrief/internal/globaltime"
	"horse.fit/dailybrief/internal/model"
	"horse.fit/dailybrief/internal/pipeline"
)

func runBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	date := fs.String("date", "", "Partition day YYYY-MM-DD (default: today in TIMEZONE)")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	noOracle := fs.Bool("no-oracle", false, "Score with heuristics only, even when ORACLE_ENABLED=true")
	jsonOut := fs.Bool("json", false, "Print the full run report as JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *timeout <= 0 {
		fmt.Fprintln(os.Stderr, "--timeout must be > 0")
		return 2
	}
	day := strings.TrimSpace(*date)
	if day != "" {
		if _, err := time.Parse(model.DateLayout, day); err != nil {
			fmt.Fprintln(os.Stderr, "--date must be YYYY-MM-DD")
			return 2
		}
	}

	cfg, logger, ok := loadRuntime(envLoader)
	if !ok {
		return 1
	}
	if day == "" {
		day = globaltime.Today(cfg.Location())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	svc, cleanup, err := newService(ctx, cfg, logger, serviceOptions{noOracle: *noOracle})
	if err != nil {
		logger.Error().Err(err).Msg("build setup failed")
		fmt.Fprintf(os.Stderr, "Build setup failed: %v\n", err)
		return 1
	}
	defer cleanup()

	report, runErr := svc.RunForDate(ctx, day)

	if *jsonOut {
		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode report: %v\n", err)
			return 1
		}
		fmt.Println(string(encoded))
	} else {
		printReport(os.Stdout, report)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", runErr)
		return 1
	}
	return 0
}

func printReport(w io.Writer, r pipeline.Report) {
	fmt.Fprintf(w,
		"build date=%s status=%s items=%d rejected=%d events=%d brief=%d full=%d oracle_used=%d oracle_skipped=%d missing=%d duration=%s\n",
		r.Date,
		r.Status,
		r.ItemsFetched,
		len(r.Rejected),
		r.Events,
		r.BriefCount,
		r.FullCount,
		r.Oracle.Used(),
		r.Oracle.NotUsed(),
		len(r.MissingSources),
		r.Duration.Round(time.Millisecond),
	)
	for _, missing := range r.MissingSources {
		fmt.Fprintf(w, "  missing source=%s error=%q\n", missing.SourceID, missing.Error)
	}
	for _, group := range []struct {
		outcome string
		ids     []string
	}{
		{"failed", r.Oracle.FailedIDs},
		{"timed_out", r.Oracle.TimedOutIDs},
		{"skipped", r.Oracle.SkippedIDs},
	} {
		if len(group.ids) > 0 {
			fmt.Fprintf(w, "  oracle %s events=%s\n", group.outcome, strings.Join(group.ids, ","))
		}
	}
}
