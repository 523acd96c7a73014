// demandctl is the operational CLI for the demand forecasting pipeline:
// aggregate raw sales into monthly demand, trigger runs, inspect forecasts
// and the model registry.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/retailcast/demandcast/internal/dataset"
	"github.com/retailcast/demandcast/internal/orchestrator"
	"github.com/retailcast/demandcast/internal/registry"
	"github.com/retailcast/demandcast/internal/store"
)

var (
	flagStoreBackend string
	flagSnapshot     string
	flagPostgresConn string
	flagRedisAddr    string
	flagRegistryDir  string
)

func main() {
	root := &cobra.Command{
		Use:           "demandctl",
		Short:         "Operate the demand forecasting pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagStoreBackend, "store", envOr("DFC_STORE_BACKEND", "memory"), "store backend: memory, postgres, redis")
	root.PersistentFlags().StringVar(&flagSnapshot, "snapshot", envOr("DFC_SNAPSHOT", "data/demand.json"), "snapshot path for the memory store")
	root.PersistentFlags().StringVar(&flagPostgresConn, "pg-conn", envOr("DFC_POSTGRES_CONN", ""), "Postgres connection string")
	root.PersistentFlags().StringVar(&flagRedisAddr, "redis-addr", envOr("DFC_REDIS_ADDR", "localhost:6379"), "Redis address")
	root.PersistentFlags().StringVar(&flagRegistryDir, "registry-dir", envOr("DFC_REGISTRY_DIR", "data/registry"), "model registry directory")

	root.AddCommand(newAggregateCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newForecastCmd())
	root.AddCommand(newModelsCmd())
	root.AddCommand(newRegistryCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func openStore() (store.Store, error) {
	switch flagStoreBackend {
	case "memory":
		return store.NewMemoryStore(flagSnapshot), nil
	case "postgres":
		return store.NewPostgresStore(flagPostgresConn, 10)
	case "redis":
		return store.NewRedisStore(flagRedisAddr, os.Getenv("DFC_REDIS_PASSWORD"), 0)
	default:
		return nil, fmt.Errorf("unknown store backend %q", flagStoreBackend)
	}
}

// rawSale mirrors the classified-sales export consumed by aggregation.
type rawSale struct {
	Category      string  `json:"category"`
	Specification string  `json:"specification"`
	Date          string  `json:"date"` // YYYY-MM-DD
	Quantity      float64 `json:"quantity"`
	Revenue       float64 `json:"revenue"`
}

func newAggregateCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate raw sales into monthly demand collections (full replace)",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(input)
			if err != nil {
				return fmt.Errorf("read sales file: %w", err)
			}
			var raw []rawSale
			if err := json.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("decode sales file: %w", err)
			}

			sales := make([]dataset.SaleRecord, 0, len(raw))
			for _, r := range raw {
				date, err := time.Parse("2006-01-02", r.Date)
				if err != nil {
					log.Printf("skipping sale with bad date %q: %v", r.Date, err)
					continue
				}
				sales = append(sales, dataset.SaleRecord{
					Category:      r.Category,
					Specification: r.Specification,
					Date:          date,
					Quantity:      r.Quantity,
					Revenue:       r.Revenue,
				})
			}

			category, item := dataset.Aggregate(sales)

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			nc, err := st.ReplaceDemand(ctx, store.CollectionCategoryDemand, category)
			if err != nil {
				return fmt.Errorf("write category demand: %w", err)
			}
			ni, err := st.ReplaceDemand(ctx, store.CollectionItemDemand, item)
			if err != nil {
				return fmt.Errorf("write item demand: %w", err)
			}
			fmt.Printf("aggregated %d sales into %d category records and %d item records\n", len(sales), nc, ni)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "path to raw sales JSON")
	cmd.MarkFlagRequired("input")
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		noTrain    bool
		noForecast bool
		noPersist  bool
		horizon    int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a full forecast pipeline run",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			reg, err := registry.NewRegistry(flagRegistryDir)
			if err != nil {
				return err
			}

			config := orchestrator.DefaultConfig()
			orch := orchestrator.New(st, reg, config, log.Default())
			if rs, ok := st.(*store.RedisStore); ok {
				orch = orch.WithRunLock(rs)
			}

			opts := orchestrator.RunOptions{
				TrainModels:       !noTrain,
				GenerateForecasts: !noForecast,
				Persist:           !noPersist,
				Horizon:           horizon,
			}
			report, runErr := orch.Run(cmd.Context(), opts)
			printJSON(report)
			return runErr
		},
	}
	cmd.Flags().BoolVar(&noTrain, "no-train", false, "skip model training")
	cmd.Flags().BoolVar(&noForecast, "no-forecast", false, "skip forecast generation")
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "skip writing forecast collections")
	cmd.Flags().IntVar(&horizon, "horizon", 0, "forecast horizon in months (0 = default)")
	return cmd
}

func newForecastCmd() *cobra.Command {
	var (
		category string
		level    string
		yearFrom int
		yearTo   int
	)
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Show persisted forecasts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			collection := store.CollectionCategoryForecast
			if level == "item" {
				collection = store.CollectionItemForecast
			}
			filter := store.Filter{YearFrom: yearFrom, YearTo: yearTo}
			if category != "" {
				filter.Categories = []string{category}
			}

			records, err := st.FetchForecasts(cmd.Context(), collection, filter)
			if err != nil {
				return err
			}
			printJSON(records)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "restrict to one category")
	cmd.Flags().StringVar(&level, "level", "category", "forecast level: category or item")
	cmd.Flags().IntVar(&yearFrom, "year-from", 0, "first year (0 = unrestricted)")
	cmd.Flags().IntVar(&yearTo, "year-to", 0, "last year (0 = unrestricted)")
	return cmd
}

func newModelsCmd() *cobra.Command {
	var (
		entity string
		best   bool
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List registered models and their evaluation metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.NewRegistry(flagRegistryDir)
			if err != nil {
				return err
			}

			if best {
				if entity == "" {
					return fmt.Errorf("--best requires --entity")
				}
				e, err := reg.BestModel(entity)
				if err != nil {
					return err
				}
				printJSON(e)
				return nil
			}
			if entity != "" {
				printJSON(reg.ListEntity(entity))
				return nil
			}
			printJSON(reg.List())
			return nil
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "restrict to one entity key")
	cmd.Flags().BoolVar(&best, "best", false, "show only the entity's best model")
	return cmd
}

func newRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Registry maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the registry catalog, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.NewRegistry(flagRegistryDir)
			if err != nil {
				return err
			}
			printJSON(reg.List())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify artifact integrity for every registered model",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.NewRegistry(flagRegistryDir)
			if err != nil {
				return err
			}

			var failures int
			for _, e := range reg.List() {
				if e.ArtifactPath == "" {
					continue
				}
				if err := reg.VerifyArtifact(e.ModelID); err != nil {
					failures++
					fmt.Printf("FAIL %s: %v\n", e.ModelID, err)
					continue
				}
				fmt.Printf("ok   %s\n", e.ModelID)
			}
			if failures > 0 {
				return fmt.Errorf("%d artifacts failed verification", failures)
			}
			return nil
		},
	})
	return cmd
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
