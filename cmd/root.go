package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "snappy",
	Short: "Snappy - streaming multimodal PDF ingestion pipeline",
	Long: `Snappy rasterizes PDF pages, generates multi-vector visual embeddings,
uploads page images to object storage, optionally runs OCR, and upserts the
result into a late-interaction vector store.

Features:
  - Bounded, streaming page-batch pipeline with admission control
  - Multi-vector (ColPali-style) embeddings with optional mean-pooled prefetch vectors
  - Qdrant and Pinecone vector-store backends
  - Structured progress events and Prometheus metrics

Environment Variables:
  EMBEDDING_API_KEY     For the multi-vector embedding service
  OCR_API_KEY           For the OCR service
  OBJECT_STORE_API_KEY  For the object store
  QDRANT_API_KEY        For the Qdrant backend
  PINECONE_API_KEY      For the Pinecone backend`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Disable the default cobra completion command to avoid duplicate name conflict.
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is snappy.yaml in $HOME or the current directory)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")

	// Bind to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
// Config loading priority: CLI flags > environment variables > config file > defaults.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("snappy")
	}

	// Read environment variables with SNAPPY_ prefix
	viper.SetEnvPrefix("SNAPPY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Also bind the unprefixed service credential env vars
	_ = viper.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	_ = viper.BindEnv("ocr.api_key", "OCR_API_KEY")
	_ = viper.BindEnv("object_store.api_key", "OBJECT_STORE_API_KEY")
	_ = viper.BindEnv("vector_store.qdrant.api_key", "QDRANT_API_KEY")
	_ = viper.BindEnv("vector_store.pinecone.api_key", "PINECONE_API_KEY")

	// Read config file if it exists
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
