package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"horse.fit/dailybrief/internal/cli"
	"horse.fit/dailybrief/internal/source"
)

func runSources(args []string) int {
	fs := flag.NewFlagSet("sources", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	all := fs.Bool("all", false, "Include disabled sources")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, _, ok := loadRuntime(envLoader)
	if !ok {
		return 1
	}

	catalog, err := source.LoadCatalog(cfg.SourcesFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load sources: %v\n", err)
		return 1
	}

	if err := writeCatalog(os.Stdout, catalog, *all); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print sources: %v\n", err)
		return 1
	}
	return 0
}

func writeCatalog(w io.Writer, catalog *source.Catalog, includeDisabled bool) error {
	entries := catalog.Enabled()
	if includeDisabled {
		entries = catalog.Sources
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "catalog %s (%d sources)\n", catalog.Version, len(entries))
	fmt.Fprintln(tw, "ID\tKIND\tTIER\tLANG\tENABLED\tNAME")
	for _, s := range entries {
		lang := s.Lang
		if lang == "" {
			lang = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%t\t%s\n", s.ID, s.Kind, s.Tier, lang, s.IsEnabled(), s.Name)
		if len(s.DomainTiers) > 0 {
			fmt.Fprintf(tw, "\t\t\t\t\t  domain tiers: %s\n", formatDomainTiers(s.DomainTiers))
		}
	}
	return tw.Flush()
}

func formatDomainTiers(tiers map[string]int) string {
	domains := make([]string, 0, len(tiers))
	for domain := range tiers {
		domains = append(domains, domain)
	}
	sort.Strings(domains)

	parts := make([]string, 0, len(domains))
	for _, domain := range domains {
		parts = append(parts, fmt.Sprintf("%s=%d", domain, tiers[domain]))
	}
	return strings.Join(parts, " ")
}
