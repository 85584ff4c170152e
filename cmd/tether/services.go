package main

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/hpungsan/tether/internal/agent"
	"github.com/hpungsan/tether/internal/chain"
	"github.com/hpungsan/tether/internal/condense"
	"github.com/hpungsan/tether/internal/config"
	"github.com/hpungsan/tether/internal/identity"
	"github.com/hpungsan/tether/internal/llm"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/mcp"
	"github.com/hpungsan/tether/internal/notebook"
	"github.com/hpungsan/tether/internal/tokens"
	"github.com/hpungsan/tether/internal/transcript"
)

// apiKeyEnv names the environment variable holding the Anthropic API key.
const apiKeyEnv = "ANTHROPIC_API_KEY"

// services is the wired object graph shared by CLI commands and the MCP server.
type services struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *chain.Store
	notebook  *notebook.Ledger
	identity  *identity.Source
	estimator *tokens.Estimator
	exporter  *transcript.Exporter

	// agent is nil when no API key is configured; only chat needs it.
	agent *agent.Agent
}

// newServices wires every component over database. Extra request options
// are passed to the Anthropic client (tests point it at a local server).
func newServices(database *sql.DB, cfg *config.Config, baseDir string, logger *zap.Logger, llmOpts ...option.RequestOption) (*services, error) {
	logger = logging.OrNop(logger)
	agentDir := cfg.ResolveAgentDir(baseDir)

	estimator, err := tokens.New(cfg.TokenizerModel, cfg.ContextLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create token estimator: %w", err)
	}

	store := chain.New(database, logger)
	svc := &services{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		notebook:  notebook.New(agentDir, logger),
		identity:  identity.New(agentDir, logger),
		estimator: estimator,
		exporter:  transcript.NewExporter(store, filepath.Join(baseDir, "exports")),
	}

	client, err := llm.NewClient(llm.Options{
		APIKey:    os.Getenv(apiKeyEnv),
		BaseURL:   cfg.LLMBaseURL,
		Model:     cfg.LLMModel,
		MaxTokens: cfg.LLMMaxTokens,
	}, logger, llmOpts...)
	if stderrors.Is(err, llm.ErrNoAPIKey) {
		logger.Debug("text generation disabled", zap.String("env", apiKeyEnv))
		return svc, nil
	}
	if err != nil {
		return nil, err
	}

	summarizer := client.WithModel(cfg.SummaryModel())
	engine := condense.New(estimator, summarizer, store, logger)
	assembler := agent.NewAssembler(store, engine, svc.notebook, svc.identity, estimator, cfg.NotebookTailLines, logger)

	svc.agent = agent.New(agent.Deps{
		Store:        store,
		Assembler:    assembler,
		Generator:    client,
		Notebook:     svc.notebook,
		Profile:      agent.NewProfileUpdater(summarizer, svc.identity, logger),
		ProfileEvery: cfg.ProfileUpdateInterval,
		Logger:       logger,
	})
	return svc, nil
}

// mcpServices exposes the stores to the MCP tool handlers.
func (s *services) mcpServices() mcp.Services {
	return mcp.Services{
		Store:     s.store,
		Notebook:  s.notebook,
		Estimator: s.estimator,
		Exporter:  s.exporter,
		Logger:    s.logger,
	}
}
