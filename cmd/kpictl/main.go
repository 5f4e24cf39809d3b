// kpictl runs an upload through the reporting pipeline without a database and prints
// or exports the resulting KPIs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/davidleathers/workforce-analytics-backend/internal/infrastructure/config"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/analytics"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/export"
	"github.com/davidleathers/workforce-analytics-backend/internal/service/reporting"
)

type options struct {
	input  string
	format string
	xlsx   string
	pdf    string
	title  string
	user   string
}

func main() {
	var opts options
	flag.StringVar(&opts.input, "input", "", "Path to the .xlsx upload (required)")
	flag.StringVar(&opts.format, "format", "text", "Output format: text or json")
	flag.StringVar(&opts.xlsx, "xlsx", "", "Also write a workbook export to this path")
	flag.StringVar(&opts.pdf, "pdf", "", "Also write a PDF export to this path")
	flag.StringVar(&opts.title, "title", config.Defaults().Export.Title, "Export title")
	flag.StringVar(&opts.user, "user", currentUser(), "Uploader recorded in the summary")
	flag.Parse()

	if err := run(context.Background(), opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "kpictl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if opts.input == "" {
		return fmt.Errorf("-input is required")
	}
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown -format %q", opts.format)
	}

	f, err := os.Open(opts.input)
	if err != nil {
		return err
	}
	defer f.Close()

	defaults := config.Defaults()
	pipeline := reporting.NewPipeline(analytics.NewAggregator(nil), reporting.PipelineConfig{
		MaxBytes: defaults.Upload.MaxBytes,
		MaxRows:  defaults.Upload.MaxRows,
	})

	analysis, err := pipeline.Analyze(ctx, opts.user, f)
	if err != nil {
		return err
	}
	doc := analysis.Document(opts.title)

	exports := []struct {
		path   string
		format reporting.Format
	}{
		{opts.xlsx, reporting.FormatXLSX},
		{opts.pdf, reporting.FormatPDF},
	}
	for _, e := range exports {
		if e.path == "" {
			continue
		}
		data, err := reporting.Render(doc, e.format, export.DefaultBarChart())
		if err != nil {
			return err
		}
		if err := os.WriteFile(e.path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", e.path, err)
		}
	}

	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	}
	return writeText(out, doc, len(analysis.Dropped))
}

func writeText(out io.Writer, doc export.Document, dropped int) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, doc.Title)
	fmt.Fprintln(tw, strings.Repeat("=", len(doc.Title)))
	for _, m := range doc.Metrics {
		fmt.Fprintf(tw, "%s:\t%s\n", m.Label, m.Value)
	}
	if dropped > 0 {
		fmt.Fprintf(tw, "Rows skipped:\t%d\n", dropped)
	}

	for _, t := range doc.Tables {
		fmt.Fprintf(tw, "\n%s\n", t.Name)
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
		for _, row := range t.Rows {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = cell(c)
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
	}
	return tw.Flush()
}

func cell(v any) string {
	switch c := v.(type) {
	case time.Time:
		return c.Format(time.DateOnly)
	case float64:
		return export.FormatFixed(c, 2)
	case nil:
		return ""
	default:
		return fmt.Sprint(c)
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "kpictl"
}
