// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the heicjpg CLI.
// Converts HEIC photos to JPEG from the command line (convert) or through a
// local upload page (serve).
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/heicjpg/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// logger is built in PersistentPreRunE once --verbose is known.
var logger = zap.NewNop()

// rootCmd is the base command for the heicjpg CLI.
var rootCmd = &cobra.Command{
	Use:   "heicjpg",
	Short: "Convert HEIC photos to JPEG",
	Long: `heicjpg converts HEIC/HEIF photos into JPEG images.

The convert subcommand takes files or directories, converts every HEIC file
in order, and writes converted-image-<n>.jpg files and optionally a
converted-images.zip archive. The serve subcommand runs the same pipeline
behind a local page with an upload picker, a gallery, and downloads.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		l, err := newLogger(verbose)
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./heicjpg.yaml or ~/.config/heicjpg/heicjpg.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "development logging at debug level")

	setDefaults(viper.GetViper(), types.Defaults())
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			path = cfgFile
		}
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("heicjpg")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		if home, err := homedir.Dir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "heicjpg"))
		}
	}

	viper.SetEnvPrefix("HEICJPG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = ""
	return cfg.Build()
}

// setDefaults registers every config key so that env vars and Unmarshal
// see them even when no file or flag sets them.
func setDefaults(v *viper.Viper, d types.Config) {
	v.SetDefault("selector.accept_type", d.Selector.AcceptType)
	v.SetDefault("conversion.backend", string(d.Conversion.Backend))
	v.SetDefault("conversion.quality", d.Conversion.Quality)
	v.SetDefault("conversion.max_dimension", d.Conversion.MaxDimension)
	v.SetDefault("conversion.image", d.Conversion.Image)
	v.SetDefault("conversion.workers", d.Conversion.Workers)
	v.SetDefault("store.backend", string(d.Store.Backend))
	v.SetDefault("store.temp_dir", d.Store.TempDir)
	v.SetDefault("gallery.thumbnail_width", d.Gallery.ThumbnailWidth)
	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.images", d.Output.Images)
	v.SetDefault("output.zip", d.Output.Zip)
	v.SetDefault("output.manifest", d.Output.Manifest)
	v.SetDefault("output.manifest_format", string(d.Output.ManifestFormat))
	v.SetDefault("serve.addr", d.Serve.Addr)
	v.SetDefault("serve.max_upload_bytes", d.Serve.MaxUploadBytes)
}

// bindFlags binds the named flags of the running command to config keys.
// Binding happens per invocation so that subcommands sharing a key do not
// overwrite each other's binding.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// loadConfig decodes the merged defaults, file, env, and flags.
func loadConfig(v *viper.Viper) (types.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	for _, p := range []*string{&cfg.Output.Dir, &cfg.Output.Manifest, &cfg.Store.TempDir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return cfg, fmt.Errorf("expanding %s: %w", *p, err)
		}
		*p = expanded
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
