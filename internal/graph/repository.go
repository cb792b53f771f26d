// Package graph persists fingerprints, action graphs, findings, and repair
// lineage in Neo4j. Every operation opens its own session and runs inside a
// managed transaction; all Cypher is parameterized.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// ErrNoActionGraph means the fingerprint has no compiled graph yet; the
// orchestrator takes the cold-start path.
var ErrNoActionGraph = errors.New("no action graph for fingerprint")

// Config carries the connection settings from the environment.
type Config struct {
	URI          string
	Username     string
	Password     string
	Database     string
	EmbeddingDim int
}

// Repository is the graph store. Safe for concurrent use; the driver pools
// connections and each call gets its own session.
type Repository struct {
	driver       neo4j.DriverWithContext
	database     string
	embeddingDim int
	logger       *zap.Logger

	schemaOnce sync.Once
	schemaErr  error
}

// New connects and verifies connectivity. The schema is created lazily on
// first use, or eagerly via EnsureSchema.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verifying neo4j connectivity to %s: %w", cfg.URI, err)
	}
	dim := cfg.EmbeddingDim
	if dim <= 0 {
		dim = 384
	}
	return &Repository{
		driver:       driver,
		database:     cfg.Database,
		embeddingDim: dim,
		logger:       logger,
	}, nil
}

// Close releases the driver's connection pool.
func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraints and vector indexes. Every
// statement is IF NOT EXISTS, so running it repeatedly is harmless.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT fingerprint_hash_unique IF NOT EXISTS FOR (f:Fingerprint) REQUIRE f.hash IS UNIQUE",
		"CREATE CONSTRAINT action_graph_id_unique IF NOT EXISTS FOR (g:ActionGraph) REQUIRE g.id IS UNIQUE",
		"CREATE CONSTRAINT finding_id_unique IF NOT EXISTS FOR (f:Finding) REQUIRE f.id IS UNIQUE",
		// Vector index options do not accept query parameters, so the
		// dimension is rendered into the statement.
		fmt.Sprintf("CREATE VECTOR INDEX fingerprintEmbeddings IF NOT EXISTS FOR (f:Fingerprint) ON (f.embedding) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}", r.embeddingDim),
		fmt.Sprintf("CREATE VECTOR INDEX findingEmbeddings IF NOT EXISTS FOR (f:Finding) ON (f.observation_embedding) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}", r.embeddingDim),
	}

	session := r.session(ctx, neo4j.AccessModeWrite)
	defer r.closeSession(ctx, session)

	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	r.logger.Info("graph schema ensured", zap.Int("embedding_dim", r.embeddingDim))
	return nil
}

// ensureSchema is the idempotent latch the write paths go through.
func (r *Repository) ensureSchema(ctx context.Context) error {
	r.schemaOnce.Do(func() {
		r.schemaErr = r.EnsureSchema(ctx)
	})
	return r.schemaErr
}

func (r *Repository) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: r.database,
		AccessMode:   mode,
	})
}

func (r *Repository) closeSession(ctx context.Context, s neo4j.SessionWithContext) {
	if err := s.Close(ctx); err != nil {
		r.logger.Warn("closing neo4j session", zap.Error(err))
	}
}

// read runs work in a managed read transaction on a fresh session.
func (r *Repository) read(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer r.closeSession(ctx, session)
	return session.ExecuteRead(ctx, work)
}

// write runs work in a managed write transaction on a fresh session, after
// the schema latch.
func (r *Repository) write(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer r.closeSession(ctx, session)
	return session.ExecuteWrite(ctx, work)
}

// missingIndex detects the server telling us a vector index does not exist
// yet; similarity search treats that as an empty result.
func missingIndex(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such vector schema index") ||
		strings.Contains(msg, "there is no such index") ||
		strings.Contains(msg, "index does not exist")
}
