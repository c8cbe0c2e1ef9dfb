package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/kvrouter/router/trace"
	"github.com/inference-sim/kvrouter/sim"
)

var (
	simWorkers           int     // Number of simulated workers
	simRequests          int     // Number of requests to route
	simGroups            int     // Number of concurrent shared-prefix groups
	simSeed              int64   // Seed for workload and router randomness
	simRate              float64 // Requests arrival per second
	simCacheCapacity     int     // Prefixes each worker keeps cached
	simOracleFailureRate float64 // Fraction of oracle queries that fail
	simBlend             float64 // Overrides bandit.blend when set
	simOut               string  // Decision log CSV path
)

// simulateCmd routes a synthetic workload against a simulated cluster
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Route a synthetic workload against a simulated cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		routerCfg, err := loadRouterConfig(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("seed") {
			routerCfg.Seed = simSeed
		}
		if cmd.Flags().Changed("blend") {
			routerCfg.Bandit.Blend = &simBlend
		}

		cfg := sim.DefaultConfig()
		cfg.Workers = simWorkers
		cfg.Requests = simRequests
		cfg.Seed = simSeed
		cfg.CacheCapacity = simCacheCapacity
		cfg.OracleFailureRate = simOracleFailureRate
		cfg.Workload.Groups = simGroups
		cfg.Workload.ArrivalRate = simRate

		var csvRec *trace.CSVRecorder
		var recorder trace.Recorder
		if simOut != "" {
			// Size the buffer so an in-process run never drops records.
			buffer := max(routerCfg.Recorder.Buffer, simRequests)
			csvRec, err = trace.OpenCSVRecorder(simOut, buffer)
			if err != nil {
				return err
			}
			recorder = csvRec
		}

		s, err := sim.New(cfg, routerCfg, recorder)
		if err != nil {
			if csvRec != nil {
				_ = csvRec.Close()
			}
			return err
		}
		logrus.Infof("Simulating %d requests across %d workers", cfg.Requests, cfg.Workers)
		report, runErr := s.Run(cmd.Context())
		if csvRec != nil {
			if err := csvRec.Close(); err != nil {
				return fmt.Errorf("closing decision log: %w", err)
			}
			logrus.Infof("Wrote %d decision records to %s (%d dropped)", csvRec.Written(), simOut, csvRec.Dropped())
		}
		if runErr != nil {
			return runErr
		}
		report.Print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	def := sim.DefaultConfig()
	simulateCmd.Flags().IntVar(&simWorkers, "workers", def.Workers, "Number of simulated workers")
	simulateCmd.Flags().IntVar(&simRequests, "requests", def.Requests, "Number of requests")
	simulateCmd.Flags().IntVar(&simGroups, "groups", def.Workload.Groups, "Concurrent shared-prefix groups")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", def.Seed, "Seed for workload and routing randomness")
	simulateCmd.Flags().Float64Var(&simRate, "rate", def.Workload.ArrivalRate, "Requests arrival per second")
	simulateCmd.Flags().IntVar(&simCacheCapacity, "cache-capacity", def.CacheCapacity, "Prefixes each worker keeps cached")
	simulateCmd.Flags().Float64Var(&simOracleFailureRate, "oracle-failure-rate", 0, "Fraction of overlap queries that fail")
	simulateCmd.Flags().Float64Var(&simBlend, "blend", 0.2, "Weight of the success bandit in the final score")
	simulateCmd.Flags().StringVar(&simOut, "out", "", "Write the decision log CSV to this path")
	rootCmd.AddCommand(simulateCmd)
}
