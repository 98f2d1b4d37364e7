// Package cmd implements the tct command line interface.
package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anonymous-tct-authors/tct-models/envconfig"
	"github.com/anonymous-tct-authors/tct-models/format"
	"github.com/anonymous-tct-authors/tct-models/grammar"
	"github.com/anonymous-tct-authors/tct-models/grammar/jsonschema"
	"github.com/anonymous-tct-authors/tct-models/logutil"
	"github.com/anonymous-tct-authors/tct-models/model"
	"github.com/anonymous-tct-authors/tct-models/sample"
	"github.com/anonymous-tct-authors/tct-models/server"
	"github.com/anonymous-tct-authors/tct-models/tct"
	"github.com/anonymous-tct-authors/tct-models/version"
)

func loadSchema(path string) ([]byte, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func CompileHandler(cmd *cobra.Command, args []string) error {
	doc, err := loadSchema(args[0])
	if err != nil {
		return err
	}
	s, err := jsonschema.Parse(doc)
	if err != nil {
		return err
	}
	a, err := grammar.Compile(s)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "digest: %s\nstates: %d\n", grammar.Digest(doc), a.Len())
	return nil
}

func EncodeHandler(cmd *cobra.Command, args []string) error {
	doc, err := loadSchema(args[0])
	if err != nil {
		return err
	}
	budget, _ := cmd.Flags().GetInt("budget")
	codec, err := tct.Open(doc, budget)
	if err != nil {
		return err
	}
	tokens, err := codec.Encode(args[1])
	if err != nil {
		return err
	}
	out := make([]string, len(tokens))
	for i, id := range tokens {
		out[i] = strconv.Itoa(int(id))
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(out, " "))
	return nil
}

func DecodeHandler(cmd *cobra.Command, args []string) error {
	doc, err := loadSchema(args[0])
	if err != nil {
		return err
	}
	budget, _ := cmd.Flags().GetInt("budget")
	codec, err := tct.Open(doc, budget)
	if err != nil {
		return err
	}
	tokens := make([]int32, 0, len(args)-1)
	for _, arg := range args[1:] {
		id, err := strconv.ParseInt(arg, 10, 32)
		if err != nil {
			return fmt.Errorf("token %q: %w", arg, err)
		}
		tokens = append(tokens, int32(id))
	}
	text, consumed, surplus := codec.DecodePrefix(tokens)
	fmt.Fprintf(cmd.OutOrStdout(), "%s\nconsumed: %d surplus: %d\n", text, consumed, surplus)
	return nil
}

func VocabHandler(cmd *cobra.Command, args []string) error {
	doc, err := loadSchema(args[0])
	if err != nil {
		return err
	}
	budget, _ := cmd.Flags().GetInt("budget")
	codec, err := tct.Open(doc, budget)
	if err != nil {
		return err
	}
	v := codec.Vocabulary()

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"ID", "TOKEN", "BYTES"})
	var total int64
	for _, e := range v.Entries() {
		total += int64(len(e.Bytes))
		table.Append([]string{
			strconv.Itoa(int(e.ID)),
			strconv.Quote(string(e.Bytes)),
			strconv.Itoa(len(e.Bytes)),
		})
	}
	table.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "%s tokens, %s of token text, longest %d bytes\n",
		format.HumanNumber(uint64(v.Size())), format.HumanBytes(total), v.MaxTokenLen())
	return nil
}

func MaskHandler(cmd *cobra.Command, args []string) error {
	doc, err := loadSchema(args[0])
	if err != nil {
		return err
	}
	a, _, err := grammar.CompileCached(doc)
	if err != nil {
		return err
	}
	prefix := []byte(args[1])
	state, n, ok := a.WalkBytes(a.Start(), prefix)
	if !ok {
		return fmt.Errorf("prefix leaves the grammar at byte %d", n)
	}
	allowed := make([]string, 0, 16)
	for _, b := range a.EdgeBytes(state) {
		allowed = append(allowed, strconv.Quote(string([]byte{b})))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "allowed: %s\naccepting: %v\n", strings.Join(allowed, " "), a.Accepting(state))
	return nil
}

func GenerateHandler(cmd *cobra.Command, args []string) error {
	doc, err := loadSchema(args[0])
	if err != nil {
		return err
	}
	a, _, err := grammar.CompileCached(doc)
	if err != nil {
		return err
	}
	engine, err := sample.NewMaskEngine(cmd.Context(), a, model.NewByteVocabulary())
	if err != nil {
		return err
	}

	count, _ := cmd.Flags().GetInt("count")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	temperature, _ := cmd.Flags().GetFloat32("temperature")
	topK, _ := cmd.Flags().GetInt("top-k")
	topP, _ := cmd.Flags().GetFloat32("top-p")
	minP, _ := cmd.Flags().GetFloat32("min-p")
	seed, _ := cmd.Flags().GetInt("seed")
	sampler := sample.NewSampler(temperature, topK, topP, minP, seed)

	size := engine.Vocabulary().Size()
	forward := func(ctx context.Context, tokens []int32) ([]float32, error) {
		return make([]float32, size), nil
	}
	results, err := sample.GenerateBatch(cmd.Context(), engine, forward, sampler, maxTokens, count, envconfig.NumParallel)
	if err != nil {
		return err
	}
	for _, gc := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", gc.Phase(), gc.Output())
	}
	return nil
}

func ServeHandler(cmd *cobra.Command, args []string) error {
	ln, err := net.Listen("tcp", envconfig.Host)
	if err != nil {
		return err
	}
	return server.Serve(ln)
}

func NewCLI() *cobra.Command {
	logutil.Setup(os.Stderr, envconfig.Debug)
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "tct",
		Short:         "Schema-constrained tokenization and generation",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	compileCmd := &cobra.Command{
		Use:   "compile SCHEMA",
		Short: "Compile a schema to its grammar automaton",
		Args:  cobra.ExactArgs(1),
		RunE:  CompileHandler,
	}

	encodeCmd := &cobra.Command{
		Use:   "encode SCHEMA TEXT",
		Short: "Tokenize schema-conforming JSON text",
		Args:  cobra.ExactArgs(2),
		RunE:  EncodeHandler,
	}
	encodeCmd.Flags().Int("budget", 0, "Vocabulary size budget")

	decodeCmd := &cobra.Command{
		Use:   "decode SCHEMA TOKEN...",
		Short: "Decode the longest valid prefix of a token sequence",
		Args:  cobra.MinimumNArgs(2),
		RunE:  DecodeHandler,
	}
	decodeCmd.Flags().Int("budget", 0, "Vocabulary size budget")

	vocabCmd := &cobra.Command{
		Use:   "vocab SCHEMA",
		Short: "Show the vocabulary derived from a schema",
		Args:  cobra.ExactArgs(1),
		RunE:  VocabHandler,
	}
	vocabCmd.Flags().Int("budget", 0, "Vocabulary size budget")

	maskCmd := &cobra.Command{
		Use:   "mask SCHEMA PREFIX",
		Short: "Show the bytes allowed after a text prefix",
		Args:  cobra.ExactArgs(2),
		RunE:  MaskHandler,
	}

	generateCmd := &cobra.Command{
		Use:   "generate SCHEMA",
		Short: "Sample schema-conforming documents",
		Args:  cobra.ExactArgs(1),
		RunE:  GenerateHandler,
	}
	generateCmd.Flags().Int("count", 1, "Number of documents to generate")
	generateCmd.Flags().Int("max-tokens", 0, "Token budget per generation")
	generateCmd.Flags().Float32("temperature", 0.7, "Sampling temperature, 0 for greedy")
	generateCmd.Flags().Int("top-k", 0, "Keep only the k most likely tokens")
	generateCmd.Flags().Float32("top-p", 1.0, "Nucleus sampling cutoff")
	generateCmd.Flags().Float32("min-p", 0.0, "Minimum probability relative to the max")
	generateCmd.Flags().Int("seed", -1, "Random seed, -1 for nondeterministic")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the HTTP service",
		Args:    cobra.ExactArgs(0),
		RunE:    ServeHandler,
	}

	rootCmd.AddCommand(
		compileCmd,
		encodeCmd,
		decodeCmd,
		vocabCmd,
		maskCmd,
		generateCmd,
		serveCmd,
	)
	return rootCmd
}
