package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/xmppconv/pkg/catalog"
	"github.com/ajitpratap0/xmppconv/pkg/config"
	"github.com/ajitpratap0/xmppconv/pkg/converter"
	"github.com/ajitpratap0/xmppconv/pkg/converter/converters"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "xmppconv",
		Short: "xmppconv - XMPP server account migration",
		Long: `xmppconv copies user accounts and rosters from an ejabberd database into a
Tigase-style destination database, one converter at a time, over a bounded
pool of source connections.`,
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.AddCommand(newVersionCmd(), newListCmd(), newRunCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "xmppconv v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newListCmd() *cobra.Command {
	var catalogFile string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List converters and the sources they support",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := catalog.Default()
			if catalogFile != "" {
				loaded, err := catalog.LoadFile(catalogFile)
				if err != nil {
					return err
				}
				cat = loaded
			}
			return printSupport(cmd.OutOrStdout(), cat)
		},
	}
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "YAML file overriding built-in source queries")
	return cmd
}

// printSupport writes the converters shipped with the binary and, for every
// server type and dialect of cat, the converters able to run against it.
func printSupport(out io.Writer, cat *catalog.Catalog) error {
	registry, err := converters.NewRegistry(nil)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Available Converters:")
	for _, name := range registry.Names() {
		fmt.Fprintf(out, "  - %s\n", name)
	}

	fmt.Fprintln(out, "\nSupported Sources:")
	for _, server := range cat.ServerTypes() {
		for _, d := range cat.Dialects(server) {
			// converters of single-host schemas refuse to initialise without a host
			names, err := registry.Supported(converter.Properties{
				ServerType:  server,
				Dialect:     d,
				VirtualHost: "localhost",
				Catalog:     cat,
			})
			if err != nil {
				return err
			}
			supported := "none"
			if len(names) > 0 {
				supported = strings.Join(names, ", ")
			}
			fmt.Fprintf(out, "  %s/%s: %s\n", server, d, supported)
		}
	}
	return nil
}

func newRunCmd() *cobra.Command {
	v := config.NewViper()
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Migrate accounts from the source server",
		Long: `Run every converter supported by the source against the destination.

Settings come from flags, then XMPPCONV_* environment variables, then the
YAML file given with --config, then defaults.`,
		Example: `  xmppconv run -S "jdbc:mysql://db/ejabberd?user=ejabberd&password=secret" \
    -D postgres://tigase@localhost/tigase -H example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromViper(v, configFile)
			if err != nil {
				return err
			}
			_, err = migrate(cmd.Context(), cfg, cmd.OutOrStdout())
			return err
		},
	}

	d := config.NewDefault()
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "YAML configuration file")
	f.StringP("repository-type", "R", d.Source.RepositoryType, "source repository type")
	f.StringP("source-uri", "S", "", "source database URI (jdbc: prefix accepted)")
	f.StringP("server-type", "T", d.Source.ServerType, "source server schema: ejabberd or ejabberd_new")
	f.StringP("destination-uri", "D", "", "destination database URI")
	f.StringSliceP("converters", "C", nil, "run only the named converters")
	f.StringP("virtual-host", "H", "", "destination default virtual host")
	f.String("catalog", "", "YAML file overriding built-in source queries")
	f.Int("pool-size", d.Pool.Size, "number of source connections")
	f.Duration("acquire-timeout", d.Pool.AcquireTimeout, "maximum wait for a source connection, 0 waits forever")
	f.String("log-level", d.Observability.LogLevel, "log level (debug, info, warn, error)")
	f.String("log-dir", d.Observability.LogDir, "directory for the diagnostic and status logs")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.Bool("trace", false, "export trace spans to stdout")
	f.String("report", "", "write a JSON run report to this path")

	bindFlags(v, f, map[string]string{
		"source.repository_type":     "repository-type",
		"source.uri":                 "source-uri",
		"source.server_type":         "server-type",
		"source.catalog":             "catalog",
		"destination.uri":            "destination-uri",
		"destination.virtual_host":   "virtual-host",
		"pool.size":                  "pool-size",
		"pool.acquire_timeout":       "acquire-timeout",
		"run.converters":             "converters",
		"run.report":                 "report",
		"observability.log_level":    "log-level",
		"observability.log_dir":      "log-dir",
		"observability.metrics_addr": "metrics-addr",
		"observability.tracing":      "trace",
	})
	return cmd
}

func bindFlags(v *viper.Viper, f *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		// keys and flags are fixed above, a failure is a programming error
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}
