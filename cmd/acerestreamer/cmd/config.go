package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kism/acerestreamer/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Commands for inspecting acerestreamer configuration.",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

Without --config this shows the defaults; with a config file or
environment variables set, the merged result is shown. Redirect the
output to create a configuration template:

  acerestreamer config dump > config.yaml

Environment variables use the ACERESTREAMER_ prefix and underscores for
nesting. Example: server.port -> ACERESTREAMER_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toTree(reflect.ValueOf(cfg)))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# acerestreamer configuration")
	fmt.Println("#")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("# Environment variable overrides: ACERESTREAMER_SERVER_PORT,")
	fmt.Println("# ACERESTREAMER_ENGINE_ADDRESS, ACERESTREAMER_LOGGING_LEVEL, etc.")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}

// toTree converts the config struct into plain maps and slices keyed by
// mapstructure tags, with durations rendered in their human form.
func toTree(val reflect.Value) any {
	switch val.Kind() {
	case reflect.Ptr:
		if val.IsNil() {
			return nil
		}
		return toTree(val.Elem())
	case reflect.Struct:
		if d, ok := val.Interface().(time.Time); ok {
			return d
		}
		result := make(map[string]any, val.NumField())
		typ := val.Type()
		for i := 0; i < val.NumField(); i++ {
			key := typ.Field(i).Tag.Get("mapstructure")
			if key == "" {
				key = typ.Field(i).Name
			}
			result[key] = toTree(val.Field(i))
		}
		return result
	case reflect.Slice, reflect.Array:
		items := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			items[i] = toTree(val.Index(i))
		}
		return items
	default:
		if d, ok := val.Interface().(time.Duration); ok {
			return d.String()
		}
		return val.Interface()
	}
}
