// Package server exposes the grammar engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/anonymous-tct-authors/tct-models/api"
	"github.com/anonymous-tct-authors/tct-models/envconfig"
	"github.com/anonymous-tct-authors/tct-models/grammar"
	"github.com/anonymous-tct-authors/tct-models/grammar/jsonschema"
	"github.com/anonymous-tct-authors/tct-models/model"
	"github.com/anonymous-tct-authors/tct-models/sample"
	"github.com/anonymous-tct-authors/tct-models/tct"
	"github.com/anonymous-tct-authors/tct-models/version"
)

// Server holds per-process state: mask engines precomputed per schema
// digest over the byte vocabulary.
type Server struct {
	vocab *model.Vocabulary

	mu      sync.Mutex
	engines map[string]*sample.MaskEngine
}

func NewServer() *Server {
	return &Server{
		vocab:   model.NewByteVocabulary(),
		engines: make(map[string]*sample.MaskEngine),
	}
}

func (s *Server) engine(ctx context.Context, doc []byte) (*sample.MaskEngine, error) {
	a, digest, err := grammar.CompileCached(doc)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.engines[digest]; ok {
		return e, nil
	}
	e, err := sample.NewMaskEngine(ctx, a, s.vocab)
	if err != nil {
		return nil, err
	}
	s.engines[digest] = e
	return e, nil
}

// badRequest distinguishes caller mistakes from server faults.
func badRequest(err error) bool {
	var parseErr *jsonschema.ParseError
	var compileErr *grammar.CompileError
	var encodeErr *tct.EncodeError
	return errors.As(err, &parseErr) || errors.As(err, &compileErr) || errors.As(err, &encodeErr)
}

func (s *Server) CompileHandler(c *gin.Context) {
	var req api.CompileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.Schema) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: "schema is required"})
		return
	}
	budget := req.Budget
	if budget <= 0 {
		budget = envconfig.VocabBudget
	}
	codec, err := tct.Open(req.Schema, budget)
	if err != nil {
		status := http.StatusInternalServerError
		if badRequest(err) {
			status = http.StatusBadRequest
		}
		c.AbortWithStatusJSON(status, api.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, api.CompileResponse{
		Digest:    grammar.Digest(req.Schema),
		States:    codec.Automaton().Len(),
		VocabSize: codec.Vocabulary().Size(),
	})
}

func (s *Server) EncodeHandler(c *gin.Context) {
	var req api.EncodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	budget := req.Budget
	if budget <= 0 {
		budget = envconfig.VocabBudget
	}
	codec, err := tct.Open(req.Schema, budget)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	tokens, err := codec.Encode(req.Text)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, api.EncodeResponse{Tokens: tokens})
}

func (s *Server) DecodeHandler(c *gin.Context) {
	var req api.DecodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	budget := req.Budget
	if budget <= 0 {
		budget = envconfig.VocabBudget
	}
	codec, err := tct.Open(req.Schema, budget)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	text, consumed, surplus := codec.DecodePrefix(req.Tokens)
	c.JSON(http.StatusOK, api.DecodeResponse{Text: text, Consumed: consumed, Surplus: surplus})
}

func (s *Server) MaskHandler(c *gin.Context) {
	var req api.MaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	a, _, err := grammar.CompileCached(req.Schema)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	state, n, ok := a.WalkBytes(a.Start(), []byte(req.Prefix))
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{
			Error: fmt.Sprintf("prefix leaves the grammar at byte %d", n),
		})
		return
	}
	allowed := make([]string, 0, 16)
	for _, b := range a.EdgeBytes(state) {
		allowed = append(allowed, string([]byte{b}))
	}
	c.JSON(http.StatusOK, api.MaskResponse{Allowed: allowed, Accepting: a.Accepting(state)})
}

func (s *Server) GenerateHandler(c *gin.Context) {
	var req api.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	engine, err := s.engine(c.Request.Context(), req.Schema)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	count := req.Count
	if count <= 0 {
		count = 1
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = envconfig.MaxOutput
	}
	seed := -1
	if req.Seed != nil {
		seed = *req.Seed
	}
	sampler := sample.NewSampler(req.Temperature, req.TopK, req.TopP, req.MinP, seed)

	// no model is attached; uniform logits make generation a sampled
	// walk of the grammar
	size := s.vocab.Size()
	forward := func(ctx context.Context, tokens []int32) ([]float32, error) {
		return make([]float32, size), nil
	}

	results, err := sample.GenerateBatch(c.Request.Context(), engine, forward, sampler, maxTokens, count, envconfig.NumParallel)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Error: err.Error()})
		return
	}
	resp := api.GenerateResponse{Generations: make([]api.Generation, 0, len(results))}
	for _, gc := range results {
		resp.Generations = append(resp.Generations, api.Generation{
			ID:     gc.ID,
			Phase:  gc.Phase().String(),
			Output: gc.Output(),
			Tokens: len(gc.Tokens()),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) SchemasHandler(c *gin.Context) {
	c.JSON(http.StatusOK, api.SchemaResponse{Digests: grammar.CachedDigests()})
}

// GenerateRoutes wires the HTTP surface.
func (s *Server) GenerateRoutes() http.Handler {
	config := cors.DefaultConfig()
	config.AllowWildcard = true
	config.AllowOrigins = envconfig.AllowOrigins
	if len(config.AllowOrigins) == 0 {
		config.AllowAllOrigins = true
	}

	r := gin.Default()
	r.Use(cors.New(config))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "tct service is running")
	})
	r.HEAD("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/api/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": version.Version})
	})
	r.GET("/api/schemas", s.SchemasHandler)
	r.POST("/api/compile", s.CompileHandler)
	r.POST("/api/encode", s.EncodeHandler)
	r.POST("/api/decode", s.DecodeHandler)
	r.POST("/api/mask", s.MaskHandler)
	r.POST("/api/generate", s.GenerateHandler)

	return r
}

// Serve blocks serving the API on the given listener.
func Serve(ln net.Listener) error {
	if !envconfig.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := NewServer()
	srv := &http.Server{Handler: s.GenerateRoutes()}
	slog.Info("listening", "addr", ln.Addr())
	return srv.Serve(ln)
}
