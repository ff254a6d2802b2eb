package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lendpath/funnel/internal/utils"
	"github.com/lendpath/funnel/pkg/client"
	"github.com/lendpath/funnel/pkg/storage"
)

var cfgFile string

const LOGO = `	  __                        _
	 / _|_   _ _ __  _ __   ___| |
	| |_| | | | '_ \| '_ \ / _ \ |
	|  _| |_| | | | | | | |  __/ |
	|_|  \__,_|_| |_|_| |_|\___|_|

`

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "funnel",
	Short: "Business-loan application funnel",
	Long: LOGO + `funnel walks applicants through a multi-step business-loan application,
stores submitted applications and runs background compliance checks on the
business behind them.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.funnel.yaml)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("api", "", "Base URL of the funnel API (overrides api.base_url)")
	_ = viper.BindPFlag("api.base_url", rootCmd.PersistentFlags().Lookup("api"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".funnel")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("funnel")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.username", "")
	viper.SetDefault("server.password", "")
	viper.SetDefault("db.path", "")
	viper.SetDefault("api.base_url", "http://localhost:8080")
	viper.SetDefault("api.timeout", "30s")
	viper.SetDefault("session.path", "")
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("openai.model", "")
	viper.SetDefault("newsapi.key", "")
	viper.SetDefault("geoapify.key", "")
	viper.SetDefault("registry.endpoint", "")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
		}
	}

	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}

// newAPIClient builds a client for the API named by api.base_url.
func newAPIClient() (*client.Client, error) {
	return client.New(client.Config{
		BaseURL:  viper.GetString("api.base_url"),
		Username: viper.GetString("server.username"),
		Password: viper.GetString("server.password"),
		Timeout:  viper.GetDuration("api.timeout"),
	})
}

// flagOrConfig prefers an explicitly set flag over the config key.
func flagOrConfig(cmd *cobra.Command, flag, key string) string {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		return f.Value.String()
	}
	return viper.GetString(key)
}

// openDB opens the local database named by --dbpath or db.path.
func openDB(cmd *cobra.Command) (*storage.DB, string, error) {
	dbPath, err := utils.GetAbsDBPath(flagOrConfig(cmd, "dbpath", "db.path"))
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, "", err
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, "", err
	}
	return db, dbPath, nil
}
