package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/wootoff-monitor/internal/checker"
	"github.com/wootoff-monitor/internal/proxypool"
)

var (
	checkFast    bool
	checkSort    bool
	checkTimeout time.Duration
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every configured SOCKS5 endpoint and print a health table.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		pool, err := buildPool(ctx, cfg)
		if err != nil {
			return err
		}
		endpoints := pool.Endpoints()

		timeout := cfg.Proxies.ProbeTimeout()
		if checkTimeout > 0 {
			timeout = checkTimeout
		}

		var unreachable []checker.Result
		if checkFast {
			addrs := make([]string, len(endpoints))
			for i, ep := range endpoints {
				addrs[i] = ep.Address()
			}
			connectable := make(map[string]bool)
			for _, addr := range checker.FastConnectFilter(ctx, addrs, timeout, cfg.Proxies.ProbeConcurrency) {
				connectable[addr] = true
			}

			var reachable []proxypool.Endpoint
			for _, ep := range endpoints {
				if connectable[ep.Address()] {
					reachable = append(reachable, ep)
				} else {
					unreachable = append(unreachable, checker.Result{Endpoint: ep, Error: "TCP connect failed"})
				}
			}
			endpoints = reachable
		}

		chk := checker.NewChecker(cfg.Proxies.ProbeURL, timeout, nil)
		results := append(chk.CheckAll(ctx, endpoints, cfg.Proxies.ProbeConcurrency), unreachable...)

		if checkSort {
			sort.SliceStable(results, func(i, j int) bool {
				if results[i].Alive != results[j].Alive {
					return results[i].Alive
				}
				return results[i].LatencyMs < results[j].LatencyMs
			})
		}

		renderResults(results)
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkFast, "fast", false, "run a TCP connect pre-filter before the SOCKS5 check")
	checkCmd.Flags().BoolVar(&checkSort, "sort", false, "sort alive endpoints first, by latency")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 0, "probe timeout (default: proxies.probe_timeout_ms)")
	rootCmd.AddCommand(checkCmd)
}

func renderResults(results []checker.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Endpoint", "Alive", "Latency", "Error"})

	alive := 0
	for _, r := range results {
		latency := ""
		if r.Alive {
			alive++
			latency = fmt.Sprintf("%dms", r.LatencyMs)
		}
		t.AppendRow(table.Row{r.Endpoint.Address(), r.Alive, latency, r.Error})
	}

	t.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d alive", alive, len(results)), "", ""})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
