package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"awrlens/internal/awr"
	"awrlens/internal/config"
	"awrlens/internal/format"
	"awrlens/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

// app carries what the persistent flags resolve to, for every subcommand.
type app struct {
	configPath string
	envFile    string
	apiURL     string
	logLevel   string
	output     string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "awrlens",
		Short: "Upload, parse and diagnose Oracle AWR reports",
		Long: "awrlens stores Oracle AWR HTML reports, extracts their performance metrics\n" +
			"and runs diagnostic rules against them. `awrlens serve` runs the service;\n" +
			"the other commands talk to it.",
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		SilenceErrors:     true,
		SilenceUsage:      true,
		Version:           version,
		PersistentPreRunE: a.setup,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"), "YAML or JSON config file")
	f.StringVar(&a.envFile, "env-file", "", "dotenv file to load (default .env when present)")
	f.StringVar(&a.apiURL, "api-url", "", "service base URL, e.g. http://localhost:8000/api/v1")
	f.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	f.StringVarP(&a.output, "format", "o", "table", "output format: table, markdown or json")

	root.AddCommand(
		newServeCmd(a),
		newMCPCmd(a),
		newUploadCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newWatchCmd(a),
		newDeleteCmd(a),
		newReparseCmd(a),
		newMetricsCmd(a),
		newAnalyzeCmd(a),
		newDiagnosticsCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.LoadOptions{Path: a.configPath, EnvFile: a.envFile})
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.Client.BaseURL = a.apiURL
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr()); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) client() (*awr.Client, error) {
	var opts []awr.Option
	if a.cfg.Client.RateLimit > 0 {
		opts = append(opts, awr.WithRateLimit(a.cfg.Client.RateLimit, a.cfg.Client.RateBurst))
	}
	opts = append(opts, awr.WithLogger(logging.New("client")))
	return awr.New(a.cfg.Client.AWR(), opts...)
}

// render writes v as JSON when --format json is set, otherwise the table text.
func (a *app) render(w io.Writer, v any, table func(format.Mode) string) error {
	if strings.EqualFold(a.output, "json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	mode, err := format.ParseMode(a.output)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, table(mode))
	return err
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid report id %q", arg)
	}
	return id, nil
}
