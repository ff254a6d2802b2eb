package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lendpath/funnel/internal/server"
	"github.com/lendpath/funnel/internal/utils"
	"github.com/lendpath/funnel/pkg/ai"
	"github.com/lendpath/funnel/pkg/compliance"
	"github.com/lendpath/funnel/pkg/enrich/address"
	"github.com/lendpath/funnel/pkg/enrich/news"
	"github.com/lendpath/funnel/pkg/enrich/registry"
	"github.com/lendpath/funnel/pkg/enrich/website"
	"github.com/lendpath/funnel/pkg/metrics"
	"github.com/lendpath/funnel/pkg/whttp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the persistence and enrichment API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, dbPath, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		m := metrics.New()
		enrichment := buildEnrichment()

		s := server.New(db, viper.GetString("server.username"), viper.GetString("server.password"))
		s.Metrics = m
		s.Enrichment = enrichment
		s.Dispatcher = compliance.NewDispatcher(db, &compliance.Comprehensive{
			Website: enrichment.Website,
			News:    enrichment.News,
			AI:      enrichment.AI,
		}, compliance.WithMetrics(m))

		if s.Username == "" {
			utils.Log.Warn("server.username is empty, the API is unauthenticated")
		}
		utils.Log.Infof("Using database %s", dbPath)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return s.Start(ctx, flagOrConfig(cmd, "listen", "server.listen"))
	},
}

// buildEnrichment wires every collaborator whose credentials are configured.
// Unconfigured members stay nil and their routes answer 503.
func buildEnrichment() server.Enrichment {
	httpc := whttp.NewClient(2, 20*time.Second)
	e := server.Enrichment{
		Website:  website.NewScraper(httpc),
		Registry: registry.NewClient(viper.GetString("registry.endpoint"), httpc),
	}

	if nc, err := news.NewClient(news.Config{APIKey: viper.GetString("newsapi.key"), Client: httpc}); err != nil {
		utils.Log.Warnf("News search disabled: %v", err)
	} else {
		e.News = nc
	}

	if an, err := ai.NewAnalyzer(ai.Config{
		APIKey: viper.GetString("openai.api_key"),
		Model:  viper.GetString("openai.model"),
	}); err != nil {
		utils.Log.Warnf("AI analysis disabled: %v", err)
	} else {
		e.AI = an
	}

	if ac, err := address.NewClient(viper.GetString("geoapify.key"), "", httpc); err != nil {
		utils.Log.Warnf("Address autocomplete disabled: %v", err)
	} else {
		e.Address = ac
	}
	return e
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("dbpath", "", "Path to SQLite DB file (default: ~/.config/funnel/funnel.sqlite)")
}
