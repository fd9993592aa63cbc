package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/orchestra"
	"github.com/BaSui01/orchestra/workflow"
	"github.com/BaSui01/orchestra/workflow/dsl"
)

// runOptions run 子命令参数
type runOptions struct {
	vars    []string
	timeout time.Duration
	compact bool
}

func newRunCmd(configPath *string) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Execute a workflow DSL file against the built-in agents",
		Long: `run executes a single workflow with an in-memory runtime and prints the
execution record as JSON. Variables are passed as --var name=value; values
are decoded as YAML scalars, so --var count=3 yields an integer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorkflowFile(ctx, *configPath, args[0], opts, cmd)
		},
	}
	cmd.Flags().StringArrayVar(&opts.vars, "var", nil, "workflow variable as name=value (repeatable)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "cancel the execution after this duration (0 = no limit)")
	cmd.Flags().BoolVar(&opts.compact, "compact", false, "print compact JSON")
	return cmd
}

// parseVars 解析 name=value 形式的变量
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q, expected name=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		vars[name] = value
	}
	return vars, nil
}

func runWorkflowFile(ctx context.Context, configPath, file string, opts *runOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// 本地执行只使用内存存储，不启动后台循环
	cfg.Store.Type = "memory"
	cfg.Store.MessageType = "memory"
	cfg.Store.CleanupEnabled = false
	cfg.Registry.MirrorToRedis = false
	cfg.Registry.HealthCheckInterval = 0
	// stdout 留给执行结果
	cfg.Log.OutputPaths = []string{"stderr"}

	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	input, err := parseVars(opts.vars)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read workflow: %w", err)
	}
	parser := dsl.NewParser()
	doc, err := parser.Decode(data)
	if err != nil {
		return err
	}
	def, _, err := parser.Build(doc)
	if err != nil {
		return err
	}
	initial, err := doc.InitialContext(input)
	if err != nil {
		return err
	}

	rt, err := orchestra.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Stop() }()
	if err := registerBuiltinAgents(rt); err != nil {
		return err
	}
	if err := rt.Start(ctx); err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	exec, err := rt.Execute(ctx, def, initial)
	if err != nil {
		return err
	}
	logger.Debug("workflow finished",
		zap.String("execution_id", exec.ID),
		zap.String("status", string(exec.Status)),
	)

	enc := json.NewEncoder(cmd.OutOrStdout())
	if !opts.compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(exec); err != nil {
		return fmt.Errorf("encode execution: %w", err)
	}
	if exec.Status != workflow.StatusCompleted {
		return fmt.Errorf("workflow %s finished with status %s", def.Name, exec.Status)
	}
	return nil
}
