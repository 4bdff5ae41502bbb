package main

import (
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"wayfarer/cmd/internal/transport"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type fetchResult struct {
	path    string
	status  int
	size    int
	elapsed time.Duration
	err     error
}

func newFetchCommand(c *cli) *cobra.Command {
	var (
		concurrency int
		repeat      int
	)
	cmd := &cobra.Command{
		Use:   "fetch <path>...",
		Short: "GET several paths concurrently",
		Long: "Fetch issues all GETs at once. When the session has expired they share a\n" +
			"single renewal and are replayed after it.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.newClient(cmd)
			if err != nil {
				return err
			}
			defer cl.Close()

			var paths []string
			for range max(repeat, 1) {
				for _, p := range args {
					if !strings.HasPrefix(p, "/") {
						p = "/" + p
					}
					paths = append(paths, p)
				}
			}

			results := make([]fetchResult, len(paths))
			before := cl.Coordinator().Snapshot().Episode
			start := time.Now()

			g, ctx := errgroup.WithContext(cmd.Context())
			if concurrency > 0 {
				g.SetLimit(concurrency)
			}
			for i, p := range paths {
				g.Go(func() error {
					t0 := time.Now()
					resp, err := cl.Do(ctx, transport.NewDescriptor(http.MethodGet, p, nil))
					r := fetchResult{path: p, elapsed: time.Since(t0), err: err}
					if resp != nil {
						r.status, r.size = resp.Status, len(resp.Body)
					}
					results[i] = r
					// Failures are reported per path, not as a group error.
					return nil
				})
			}
			_ = g.Wait()

			failed := 0
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range results {
				if r.err != nil {
					failed++
					fmt.Fprintf(tw, "ERR\t-\t%s\t%s\t%v\n", r.elapsed.Round(time.Millisecond), r.path, describe(r.err))
					continue
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.status, humanize.Bytes(uint64(r.size)), r.elapsed.Round(time.Millisecond), r.path)
			}
			renewals := cl.Coordinator().Snapshot().Episode - before
			fmt.Fprintf(tw, "\n%d requests, %d failed, %d renewals in %s\n", len(results), failed, renewals, time.Since(start).Round(time.Millisecond))
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d requests failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum requests in flight (0 = all)")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "issue each path this many times")
	return cmd
}
