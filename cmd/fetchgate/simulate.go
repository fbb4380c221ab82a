package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/fwojciec/fetchgate"
	"github.com/fwojciec/fetchgate/publicsuffix"
	"github.com/fwojciec/fetchgate/sqlite"
	"github.com/fwojciec/fetchgate/throttle"
	"golang.org/x/sync/errgroup"
)

// Run executes the simulate command.
func (c *SimulateCmd) Run(deps *Dependencies) error {
	opts := throttle.Options{}
	if c.ByDomain {
		opts.Resolver = publicsuffix.NewDomainResolver()
	}
	if c.Verbose {
		opts.Logger = slog.New(slog.NewTextHandler(deps.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	var journal *sqlite.Journal
	if c.Journal != "" {
		db := sqlite.NewDB(c.Journal)
		if err := db.Open(); err != nil {
			return fmt.Errorf("failed to open journal database: %w", err)
		}
		defer db.Close()
		journal = sqlite.NewJournal(db)
		opts.Journal = journal
	}

	gate, err := throttle.New(deps.Config, opts)
	if err != nil {
		return err
	}
	defer gate.Close()

	classifier := throttle.NewClassifier(deps.Config)

	var mu sync.Mutex
	rng := rand.New(rand.NewSource(c.Seed))
	counts := map[string]int{}
	start := time.Now()

	g, ctx := errgroup.WithContext(deps.Ctx)
	g.SetLimit(c.Workers)

	for i := 0; i < c.Requests; i++ {
		mu.Lock()
		host := c.Hosts[rng.Intn(len(c.Hosts))]
		backoff := rng.Float64() < c.BackoffRate
		latency := time.Duration(10+rng.Intn(40)) * time.Millisecond
		mu.Unlock()

		req := fetchgate.NewRequest(fmt.Sprintf("https://%s/page/%d", host, i))

		g.Go(func() error {
			res, err := gate.Admit(ctx, req)
			if err != nil {
				return err
			}

			// Stand-in for the actual fetch.
			time.Sleep(latency)

			status := http.StatusOK
			if backoff {
				status = http.StatusTooManyRequests
			}
			outcome := classifier.Response(status, http.Header{}, latency)
			gate.Report(res, outcome)

			mu.Lock()
			counts[fmt.Sprintf("%d", status)]++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	stats := gate.Stats()
	fmt.Fprintf(deps.Stdout, "simulated %d requests in %s (%.1f req/s)\n",
		c.Requests, elapsed.Round(time.Millisecond), float64(c.Requests)/elapsed.Seconds())
	fmt.Fprintf(deps.Stdout, "admits=%d releases=%d scopes=%d\n", stats.Admits, stats.Releases, stats.Scopes)
	for status, n := range counts {
		fmt.Fprintf(deps.Stdout, "  status %s: %d\n", status, n)
	}

	fmt.Fprintln(deps.Stdout, "scope state:")
	for _, info := range gate.ScopeInfos() {
		fmt.Fprintf(deps.Stdout, "  %-24s delay=%-8s concurrency=%d backoffs=%d streak=%d\n",
			info.Name, info.Delay.Round(time.Millisecond), info.Concurrency, info.WindowBackoffs, info.CleanStreak)
	}

	if journal != nil {
		outcomes, err := journal.OutcomeCounts(deps.Ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(deps.Stdout, "journaled outcomes:")
		for name, n := range outcomes {
			fmt.Fprintf(deps.Stdout, "  %s: %d\n", name, n)
		}
	}
	return nil
}
