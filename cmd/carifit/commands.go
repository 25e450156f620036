package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/engine/schedule"
	"github.com/IsmailZhaf/cari-fit-backend/engine/store"
)

func newCrawlCmd(c *cli) *cobra.Command {
	var only []string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			a := newApp(cfg, log)
			defer a.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			crawler, err := a.crawler(ctx)
			if err != nil {
				return err
			}
			locker, err := a.locker(ctx, cfg.Crawl.Timeout)
			if err != nil {
				return err
			}
			plan, err := filterPlan(cfg.Crawl.Plan(), only)
			if err != nil {
				return err
			}
			sched := schedule.New(crawler, plan, locker, schedule.Options{Spec: cfg.Crawl.Schedule, Timeout: cfg.Crawl.Timeout}, log)
			report, err := sched.RunOnce(ctx)
			if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
				log.Warn("printing report", zap.Error(perr))
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&only, "category", nil, "crawl only these categories (default all configured)")
	return cmd
}

func newMatchCmd(c *cli) *cobra.Command {
	var user, profilePath string
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match one profile and replace the user's recommendations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			profile, err := loadProfile(profilePath)
			if err != nil {
				return err
			}
			a := newApp(cfg, log)
			defer a.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := a.matcher(ctx)
			if err != nil {
				return err
			}
			outcome, err := svc.Run(ctx, domain.MatchRequest{User: user, Profile: profile})
			if err != nil {
				return err
			}
			recs, err := store.NewRecommendationStore(a.pool, log).List(ctx, user)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"outcome":         outcome,
				"recommendations": recs,
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user the recommendations belong to")
	cmd.Flags().StringVarP(&profilePath, "profile", "p", "", "candidate profile JSON file, - for stdin")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func newReindexCmd(c *cli) *cobra.Command {
	var only []string
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Index stored postings whose index write never completed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			a := newApp(cfg, log)
			defer a.Close()
			ctx := cmd.Context()

			r, err := a.reindexer(ctx)
			if err != nil {
				return err
			}
			plan, err := filterPlan(cfg.Crawl.Plan(), only)
			if err != nil {
				return err
			}
			type result struct {
				Indexed int    `json:"indexed"`
				Failed  int    `json:"failed"`
				Error   string `json:"error,omitempty"`
			}
			out := make(map[domain.Category]result, len(plan))
			for _, ck := range plan {
				indexed, failed, err := r.Run(ctx, ck.Category)
				res := result{Indexed: indexed, Failed: failed}
				if err != nil {
					res.Error = err.Error()
				}
				out[ck.Category] = res
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringSliceVar(&only, "category", nil, "reindex only these categories (default all configured)")
	return cmd
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			a := newApp(cfg, log)
			defer a.Close()

			pool, err := a.postgres(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			log.Info("schema up to date")
			return nil
		},
	}
}

// filterPlan keeps the plan entries named in only, or the whole plan when
// only is empty.
func filterPlan(plan []domain.CategoryKeywords, only []string) ([]domain.CategoryKeywords, error) {
	if len(only) == 0 {
		return plan, nil
	}
	want := make(map[domain.Category]bool, len(only))
	for _, name := range only {
		c := domain.ParseCategory(name)
		if !c.Routable() {
			return nil, fmt.Errorf("unknown category %q", name)
		}
		want[c] = true
	}
	var out []domain.CategoryKeywords
	for _, ck := range plan {
		if want[ck.Category] {
			out = append(out, ck)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no configured category matches %v", only)
	}
	return out, nil
}

func loadProfile(path string) (domain.CandidateProfile, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return domain.CandidateProfile{}, fmt.Errorf("profile: %w", err)
		}
		defer f.Close()
		r = f
	}
	var p domain.CandidateProfile
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return domain.CandidateProfile{}, fmt.Errorf("profile: decode: %w", err)
	}
	p.Category = domain.ParseCategory(string(p.Category))
	return p, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
