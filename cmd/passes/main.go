// Command passes prints visibility windows for the element sets in one or
// more TLE files (or stdin) over a ground observer, using the two-body model.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/star/keplertrack/internal/passes"
	"github.com/star/keplertrack/internal/propagation"
	"github.com/star/keplertrack/internal/tle"
	"github.com/star/keplertrack/internal/transform"
)

func main() {
	var (
		lat        = flag.Float64("lat", 0, "observer latitude, degrees")
		lon        = flag.Float64("lon", 0, "observer longitude, degrees")
		alt        = flag.Float64("alt", 0, "observer altitude, metres")
		startStr   = flag.String("start", "", "search start, RFC 3339 (default now)")
		hours      = flag.Float64("hours", 24, "search length, hours")
		minEl      = flag.Float64("min-el", 0, "minimum elevation, degrees")
		step       = flag.Duration("step", 30*time.Second, "coarse sampling step")
		partial    = flag.Bool("partial", false, "include windows clipped by the search interval")
		refraction = flag.Bool("refraction", false, "apply atmospheric refraction below 15 degrees")
		limit      = flag.Int("limit", 0, "maximum passes per object (0 for no limit)")
		refYear    = flag.Int("ref-year", 0, "reference year for two-digit epochs (default current year)")
		catnrs     = flag.String("catnr", "", "comma-separated catalog numbers (default all)")
		asCSV      = flag.Bool("csv", false, "write CSV instead of a table")
		verbose    = flag.Bool("v", false, "log skipped element sets")
	)
	flag.Parse()

	logLevel := slog.LevelError
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	now := time.Now().UTC()
	start := now
	if *startStr != "" {
		t, err := time.Parse(time.RFC3339, *startStr)
		if err != nil {
			fatal("invalid -start: %v", err)
		}
		start = t.UTC()
	}
	if *refYear == 0 {
		*refYear = start.Year()
	}
	if *lat < -90 || *lat > 90 || *lon < -180 || *lon > 180 {
		fatal("observer outside lat [-90, 90], lon [-180, 180]")
	}
	if *step < time.Second {
		fatal("-step must be at least 1s")
	}

	r, closeAll, err := inputs()
	if err != nil {
		fatal("%v", err)
	}
	sets, err := tle.ParseCatalog(r, *refYear, logger)
	closeAll()
	if err != nil {
		fatal("read element sets: %v", err)
	}
	if len(sets) == 0 {
		fatal("no valid element sets")
	}

	store := tle.NewStore()
	store.Set(tle.NewCatalog("cli", now, sets))
	prop := propagation.NewPropagator(store, propagation.DefaultConfig(), logger)

	ids, err := selectIDs(*catnrs, store.Get())
	if err != nil {
		fatal("%v", err)
	}

	opts := passes.Options{
		MinElevation:   *minEl,
		Step:           *step,
		Tolerance:      passes.DefaultOptions().Tolerance,
		IncludePartial: *partial,
		MaxPasses:      *limit,
	}
	if *refraction {
		opts.Refraction = transform.DefaultRefraction()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	obs := transform.NewObserver(*lat, *lon, *alt)
	end := start.Add(time.Duration(*hours * float64(time.Hour)))

	// Warn about element sets too old for the two-body model.
	for _, id := range ids {
		es, m, err := prop.Model(id)
		if err != nil {
			continue
		}
		if age := m.AgeDays(start); propagation.IsStale(age, prop.Config().StaleAfter) {
			fmt.Fprintf(os.Stderr, "warning: %s (%d) elements are %.1f days from epoch; two-body positions degrade quickly\n",
				es.Name(), id, age)
		}
	}

	results, err := prop.Passes(ctx, ids, obs, start, end, opts)
	if err != nil {
		fatal("%v", err)
	}

	if *asCSV {
		err = writeCSV(os.Stdout, results)
	} else {
		err = writeTable(os.Stdout, results)
	}
	if err != nil {
		fatal("%v", err)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "passes: "+format+"\n", args...)
	os.Exit(1)
}

// inputs concatenates the files named on the command line, or stdin.
func inputs() (io.Reader, func(), error) {
	if flag.NArg() == 0 {
		return os.Stdin, func() {}, nil
	}
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	rs := make([]io.Reader, 0, flag.NArg())
	for _, a := range flag.Args() {
		f, err := os.Open(a)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		files = append(files, f)
		// Files may lack a final newline; keep records from running together.
		rs = append(rs, f, strings.NewReader("\n"))
	}
	return io.MultiReader(rs...), closeAll, nil
}

func selectIDs(list string, c *tle.Catalog) ([]int, error) {
	if strings.TrimSpace(list) == "" {
		ids := make([]int, 0, c.Len())
		for _, es := range c.Sets {
			ids = append(ids, es.CatalogNumber())
		}
		return ids, nil
	}
	var ids []int
	for _, f := range strings.Split(list, ",") {
		n, err := tle.ParseCatalogNumber(f)
		if err != nil {
			return nil, fmt.Errorf("invalid -catnr entry %q", f)
		}
		ids = append(ids, n)
	}
	return ids, nil
}

func writeTable(w io.Writer, results []passes.SatellitePasses) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATNR\tNAME\tAOS (UTC)\tAZ\tMAX (UTC)\tEL\tLOS (UTC)\tAZ\tDURATION\t")
	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(tw, "%d\t%s\terror: %s\t\t\t\t\t\t\t\n", r.ID, r.Name, r.Error)
			continue
		}
		for _, p := range r.Passes {
			fmt.Fprintf(tw, "%d\t%s\t%s%s\t%.0f\t%s\t%.1f\t%s%s\t%.0f\t%s\t\n",
				r.ID, r.Name,
				p.Acquisition.Time.Format("2006-01-02 15:04:05"), clipMark(p.AcquisitionClipped), p.Acquisition.Azimuth,
				p.Maximum.Time.Format("15:04:05"), p.Maximum.Elevation,
				p.Loss.Time.Format("15:04:05"), clipMark(p.LossClipped), p.Loss.Azimuth,
				p.Duration().Round(time.Second),
			)
		}
	}
	return tw.Flush()
}

func clipMark(clipped bool) string {
	if clipped {
		return "*"
	}
	return ""
}

func writeCSV(w io.Writer, results []passes.SatellitePasses) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"catnr", "name", "aos", "aos_az", "max", "max_el", "los", "los_az", "duration_s", "partial"})
	for _, r := range results {
		for _, p := range r.Passes {
			cw.Write([]string{
				strconv.Itoa(r.ID),
				r.Name,
				p.Acquisition.Time.Format(time.RFC3339),
				strconv.FormatFloat(p.Acquisition.Azimuth, 'f', 1, 64),
				p.Maximum.Time.Format(time.RFC3339),
				strconv.FormatFloat(p.Maximum.Elevation, 'f', 2, 64),
				p.Loss.Time.Format(time.RFC3339),
				strconv.FormatFloat(p.Loss.Azimuth, 'f', 1, 64),
				strconv.FormatFloat(p.Duration().Seconds(), 'f', 0, 64),
				strconv.FormatBool(p.Partial()),
			})
		}
	}
	cw.Flush()
	return cw.Error()
}
