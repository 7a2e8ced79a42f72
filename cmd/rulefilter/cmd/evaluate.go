package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/rulefilter/internal/core/store"
	"github.com/solatis/rulefilter/internal/provider"
	"github.com/solatis/rulefilter/internal/rules"
	"github.com/solatis/rulefilter/internal/types"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <rule-set-id>",
	Short: "Evaluate a rule set against JSON entities",
	Long: `Evaluate compiles a rule set and matches it against a JSON array of
entities read from --entities (or stdin). Rule sets come from --rules, a YAML
fixture, or from the database when --rules is not given.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

var translateCmd = &cobra.Command{
	Use:   "translate <rule-set-id>",
	Short: "Print the target form of a rule set",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranslate,
}

func init() {
	for _, c := range []*cobra.Command{evaluateCmd, translateCmd} {
		c.Flags().String("rules", "", "YAML rule set fixture (default: read from the database)")
		c.Flags().String("provider", "memory", "target provider (memory, sql, cel, jsonlogic)")
		c.Flags().String("dialect", provider.DialectSQLite, "SQL dialect for the sql provider (sqlite, postgres)")
		rootCmd.AddCommand(c)
	}
	evaluateCmd.Flags().String("entities", "-", "JSON file holding an array of entities (- for stdin)")
}

// compileFromFlags resolves the rule source named by flags and compiles id.
func compileFromFlags(cmd *cobra.Command, id string) (*provider.Predicate, func(), error) {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, nil, err
	}

	kindName, _ := cmd.Flags().GetString("provider")
	kind, err := provider.ParseKind(kindName)
	if err != nil {
		return nil, nil, err
	}
	dialect, _ := cmd.Flags().GetString("dialect")

	closer := func() {}
	var source rules.RuleSetSource
	if path, _ := cmd.Flags().GetString("rules"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		fixture, err := rules.LoadRuleSetsYAML(f)
		if err != nil {
			return nil, nil, err
		}
		source = fixture
	} else {
		database, queries, err := openDatabase(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		closer = func() { database.Close() }
		source = store.New(database, queries)
	}

	engine := rules.NewEngine(registry, source)
	p, err := engine.CompileByID(ctx, types.RuleSetID(id), provider.Target{Kind: kind, Dialect: dialect})
	if err != nil {
		closer()
		return nil, nil, err
	}
	return p, closer, nil
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	entities, err := readEntities(cmd)
	if err != nil {
		return err
	}
	p, closer, err := compileFromFlags(cmd, args[0])
	if err != nil {
		return err
	}
	defer closer()

	results, err := rules.Match(p, types.RuleSetID(args[0]), entities)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), results)
}

func runTranslate(cmd *cobra.Command, args []string) error {
	p, closer, err := compileFromFlags(cmd, args[0])
	if err != nil {
		return err
	}
	defer closer()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, p.String())
	if p.SQL != nil && len(p.SQL.Args) > 0 {
		return writeJSON(out, map[string]any{"args": p.SQL.Args})
	}
	return nil
}

func readEntities(cmd *cobra.Command) ([]any, error) {
	path, _ := cmd.Flags().GetString("entities")
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var entities []any
	if err := json.NewDecoder(r).Decode(&entities); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	return entities, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
