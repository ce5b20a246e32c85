// Package cli implements the docsearch command line: indexing JSON-lines
// document streams, searching, inspecting the index and running the HTTP
// and Kafka services.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/ledger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/status"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/database"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
)

// app carries the global flags and the state shared by subcommands.
type app struct {
	configPath string
	indexDir   string
	ledgerPath string
	logLevel   string

	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	newProducer func(cfg config.KafkaConfig, topic string) *kafka.Producer
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{newProducer: kafka.NewProducer})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "docsearch",
		Short: "Full-text search over extracted document text",
		Long: `docsearch keeps a BM25-ranked inverted index of document text.
Documents arrive as JSON lines, through the HTTP API or from Kafka; queries
support AND, OR, grouping and name: field restriction.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML or TOML config file")
	root.PersistentFlags().StringVar(&a.indexDir, "index-dir", "", "index directory (overrides config)")
	root.PersistentFlags().StringVar(&a.ledgerPath, "ledger", "", "SQLite ledger file recording indexing sessions")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newIndexCmd(a),
		newDeleteCmd(a),
		newSearchCmd(a),
		newStatsCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newConsumeCmd(a),
		newPublishCmd(a),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.indexDir != "" {
		cfg.Index.Dir = a.indexDir
	}
	if a.ledgerPath != "" {
		cfg.Ledger.Driver = database.DriverSQLite
		cfg.Ledger.Path = a.ledgerPath
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	a.cfg = cfg
	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)
	return nil
}

func (a *app) openIndex(create bool, sink status.Sink) (*indexer.Index, error) {
	return indexer.Open(a.cfg.Index, indexer.Options{
		Create:  create,
		Sink:    sink,
		Metrics: a.metrics,
	})
}

// openLedger returns a started ledger, or nil when none is configured. The
// returned close function flushes pending messages.
func (a *app) openLedger(ctx context.Context) (*ledger.Ledger, func(), error) {
	if a.cfg.Ledger.Driver == "" {
		return nil, func() {}, nil
	}
	db, err := database.Open(a.cfg.Ledger)
	if err != nil {
		return nil, nil, err
	}
	l, err := ledger.New(ctx, db, 0)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	l.Start(ctx)
	return l, func() {
		l.Close()
		db.Close()
	}, nil
}

func (a *app) producer(topic string) *kafka.Producer {
	return a.newProducer(a.cfg.Kafka, topic)
}

// sinkOf returns the ledger as a status.Sink without wrapping a nil
// pointer in a non-nil interface.
func sinkOf(l *ledger.Ledger) status.Sink {
	if l == nil {
		return nil
	}
	return l
}

var errNoLedger = errors.New("no ledger configured, pass --ledger or set ledger.driver")
