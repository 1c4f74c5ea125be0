// Package lookup implements the one-shot district lookup command.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kjstillabower/blaue-tonne-service/internal/models"
	"github.com/kjstillabower/blaue-tonne-service/internal/validation"
)

// Fetcher resolves a district to its collection dates.
type Fetcher interface {
	GetDates(ctx context.Context, district string) (models.Schedule, error)
	Invalidate(ctx context.Context, district string) error
	Plans() []models.Plan
}

// Config holds the command flags.
type Config struct {
	District string
	JSON     bool
	// Refresh drops the cached dates of District before the lookup.
	Refresh bool
	// ListPlans prints the configured plans instead of looking up a district.
	ListPlans bool
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.StringVar(&cfg.District, "district", "", "district (Gemeinde) to look up")
	fs.BoolVar(&cfg.JSON, "json", false, "print the result as a JSON object")
	fs.BoolVar(&cfg.Refresh, "refresh", false, "drop the cached dates of the district before looking it up")
	fs.BoolVar(&cfg.ListPlans, "plans", false, "list the configured plans and exit")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.District == "" && fs.NArg() > 0 {
		cfg.District = fs.Arg(0)
	}
	return cfg, nil
}

// Run looks up cfg.District and writes one date per line, or the whole schedule as JSON.
func Run(ctx context.Context, cfg Config, fetcher Fetcher, out io.Writer) error {
	if out == nil {
		return errors.New("output is required")
	}
	if cfg.ListPlans {
		return writePlans(out, fetcher.Plans(), cfg.JSON)
	}
	district, err := validation.ValidateDistrict(cfg.District, 0, 0)
	if err != nil {
		return fmt.Errorf("district: %w", err)
	}

	if cfg.Refresh {
		if err := fetcher.Invalidate(ctx, district); err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
	}
	result, err := fetcher.GetDates(ctx, district)
	if err != nil {
		return err
	}

	if cfg.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	for _, d := range result.Dates {
		if _, err := fmt.Fprintln(out, d); err != nil {
			return err
		}
	}
	return nil
}

// writePlans prints one plan per line as "<url> pages=<p1,p2>", or the list as JSON.
func writePlans(out io.Writer, plans []models.Plan, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(plans)
	}
	for _, p := range plans {
		pages := make([]string, len(p.Pages))
		for i, n := range p.Pages {
			pages[i] = strconv.Itoa(n)
		}
		if _, err := fmt.Fprintf(out, "%s pages=%s\n", p.URL, strings.Join(pages, ",")); err != nil {
			return err
		}
	}
	return nil
}
