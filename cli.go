package compiler_tester

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bootcs-dev/compiler-tester/tester_context"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "COMPILER_TESTER"

// settingKeys are the configuration keys that may come from flags, COMPILER_TESTER_* variables
// or the user config file. Each maps to the tester_context env key of the same name.
var settingKeys = []string{
	"debug",
	"summary",
	"quiet",
	"extension",
	"comment_marker",
	"banner",
	"assembler",
	"linker",
	"entry_point_pattern",
	"timeout",
	"run_in_pty",
	"abort_on_toolchain_error",
	"artifacts_dir",
}

// flagKeys binds command-line flags to setting keys.
var flagKeys = map[string]string{
	"debug":     "debug",
	"summary":   "summary",
	"quiet":     "quiet",
	"extension": "extension",
	"assembler": "assembler",
	"linker":    "linker",
	"timeout":   "timeout",
	"pty":       "run_in_pty",
}

// Run executes the tester with command-line arguments and the process environment.
// This is the entry point of cmd/compiler-tester.
//
// Usage:
//
//	os.Exit(compiler_tester.Run(os.Args[1:]))
func Run(args []string) int {
	return run(args, getEnvMap(), os.Stdout, os.Stderr)
}

func run(args []string, env map[string]string, stdout, stderr io.Writer) int {
	exitCode := 0
	cmd := newRootCommand(env, stdout, stderr, &exitCode)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", err)
		fmt.Fprint(stderr, cmd.UsageString())
		return 1
	}

	return exitCode
}

func newRootCommand(env map[string]string, stdout, stderr io.Writer, exitCode *int) *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "compiler-tester [flags] <compiler_binary_path> <tests_directory>",
		Short: "Run a directory of test programs through a compiler toolchain",
		Long: `compiler-tester compiles every test file of a directory with the given compiler,
assembles and links the result, runs it and compares the outcome with the expectations written
in the file header:

  // comp_err <text>   the compiler must report <text>
  // ret <n>           the program must exit with status <n>
  // END_HEADER

The score is printed on stdout as <passed>/<total>.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(v, configFile, stderr); err != nil {
				return err
			}

			merged := MergeArgsIntoEnv(args, settingsFromViper(v), env)
			*exitCode = RunCLI(merged, stdout, stderr)
			return nil
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.Bool("debug", false, "Show every command run and its output")
	flags.Bool("summary", false, "Print a table of all test cases once the run is over")
	flags.Bool("quiet", false, "Only print the score and toolchain errors")
	flags.String("extension", tester_context.DefaultExtension, "Extension of the test files")
	flags.String("assembler", "", "Assembler turning compiler output into an object file (default llc)")
	flags.String("linker", "", "Linker producing the test binary (default clang)")
	flags.Duration("timeout", 0, "Time limit for each tool and test binary, e.g. 10s (default none)")
	flags.Bool("pty", false, "Run test binaries attached to a pseudo-terminal")
	flags.StringVar(&configFile, "config", "", "Config file (default $HOME/.compiler-tester.yaml)")

	flags.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			_ = v.BindPFlag(key, f)
		}
	})

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	for _, key := range settingKeys {
		_ = v.BindEnv(key)
	}

	return cmd
}

// loadConfig reads the user config file. A missing default config file is not an error; a
// missing or broken explicit one is.
func loadConfig(v *viper.Viper, configFile string, stderr io.Writer) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}

		v.AddConfigPath(home)
		v.SetConfigType("yaml")
		v.SetConfigName(".compiler-tester")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("can't read config file: %w", err)
	}

	fmt.Fprintln(stderr, "Using config file:", v.ConfigFileUsed())
	return nil
}

// settingsFromViper returns the settings that were explicitly given, keyed by setting key.
func settingsFromViper(v *viper.Viper) map[string]string {
	settings := map[string]string{}
	for _, key := range settingKeys {
		if v.IsSet(key) {
			settings[key] = v.GetString(key)
		}
	}
	return settings
}

// MergeArgsIntoEnv merges the positional arguments and resolved settings into env map
// (arguments and settings take precedence)
func MergeArgsIntoEnv(args []string, settings map[string]string, env map[string]string) map[string]string {
	result := make(map[string]string)
	for k, v := range env {
		result[k] = v
	}

	for key, value := range settings {
		result[envKey(key)] = value
	}

	if len(args) > 0 {
		result[tester_context.EnvCompiler] = args[0]
	}
	if len(args) > 1 {
		result[tester_context.EnvTestsDir] = args[1]
	}

	return result
}

func envKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(key)
}

// getEnvMap converts os.Environ() to a map
func getEnvMap() map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		pair := strings.SplitN(e, "=", 2)
		if len(pair) == 2 {
			env[pair[0]] = pair[1]
		}
	}
	return env
}
