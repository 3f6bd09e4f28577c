package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/htab/lib/hmap"
	"github.com/ValentinKolb/htab/lib/hmap/engines/htab"
	hmapUtil "github.com/ValentinKolb/htab/lib/hmap/util"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupTableFlags adds the flags configuring a table to a command
func SetupTableFlags(cmd *cobra.Command) {
	defaults := htab.DefaultOptions()

	key := "name"
	cmd.PersistentFlags().String(key, "perf", WrapString("Name of the table used in log messages and metric labels"))

	key = "key-size"
	cmd.PersistentFlags().Int(key, defaults.KeySize, WrapString("Fixed key size in bytes"))

	key = "value-size"
	cmd.PersistentFlags().Int(key, defaults.ValueSize, WrapString("Fixed value size in bytes (per CPU for per-cpu tables)"))

	key = "max-entries"
	cmd.PersistentFlags().Int(key, 100_000, WrapString("Capacity of the table"))

	key = "buckets"
	cmd.PersistentFlags().Int(key, 0, WrapString("Number of buckets, rounded up to a power of two (0 = max entries)"))

	key = "variant"
	cmd.PersistentFlags().String(key, "plain", WrapString("Behaviour of a full table (plain, lru)"))

	key = "allocation"
	cmd.PersistentFlags().String(key, "prealloc", WrapString("How element storage is obtained (prealloc, dynamic)"))

	key = "per-cpu"
	cmd.PersistentFlags().Bool(key, false, WrapString("Store one value per CPU"))

	key = "per-cpu-lru"
	cmd.PersistentFlags().Bool(key, false, WrapString("Give every CPU its own LRU list (lru variant only)"))

	key = "cpus"
	cmd.PersistentFlags().Int(key, 0, WrapString("Number of execution contexts (0 = GOMAXPROCS)"))

	key = "hasher"
	cmd.PersistentFlags().String(key, "xxhash", WrapString("Hash function (xxhash, fnv)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("htab")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetTableOptions reads the table configuration from viper
func GetTableOptions() (*htab.Options, error) {
	opts := htab.DefaultOptions()
	opts.Name = viper.GetString("name")
	opts.KeySize = viper.GetInt("key-size")
	opts.ValueSize = viper.GetInt("value-size")
	opts.MaxEntries = viper.GetInt("max-entries")
	opts.BucketCountHint = viper.GetInt("buckets")
	opts.PerCPU = viper.GetBool("per-cpu")
	opts.PerCPULRU = viper.GetBool("per-cpu-lru")
	if cpus := viper.GetInt("cpus"); cpus > 0 {
		opts.NumCPU = cpus
	}

	switch viper.GetString("variant") {
	case "plain":
		opts.Variant = hmap.Plain
	case "lru":
		opts.Variant = hmap.LRU
	default:
		return nil, fmt.Errorf("invalid variant %s", viper.GetString("variant"))
	}

	switch viper.GetString("allocation") {
	case "prealloc":
		opts.Allocation = hmap.Preallocated
	case "dynamic":
		opts.Allocation = hmap.Dynamic
	default:
		return nil, fmt.Errorf("invalid allocation %s", viper.GetString("allocation"))
	}

	switch viper.GetString("hasher") {
	case "xxhash":
		opts.Hasher = hmapUtil.HashXX
	case "fnv":
		opts.Hasher = hmapUtil.HashFNV
	default:
		return nil, fmt.Errorf("invalid hasher %s", viper.GetString("hasher"))
	}

	return opts, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
