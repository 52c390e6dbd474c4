package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"runtime"
	"runtime/pprof"
	"sync/atomic"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/fang"
	_ "github.com/joho/godotenv/autoload"
	"github.com/leighmacdonald/tf-warden/internal/config"
	"github.com/leighmacdonald/tf-warden/internal/geoip"
	"github.com/leighmacdonald/tf-warden/internal/state"
	"github.com/leighmacdonald/tf-warden/internal/steam"
	"github.com/leighmacdonald/tf-warden/internal/store"
	"github.com/leighmacdonald/tf-warden/internal/tf/console"
	"github.com/leighmacdonald/tf-warden/internal/tf/events"
	"github.com/leighmacdonald/tf-warden/internal/tf/rcon"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var (
	BuildVersion   = "master"
	BuildCommit    = "00000000"
	BuildDate      = time.Now().Format("2006-01-02T15:04:05Z")
	BuildGoVersion = runtime.Version()
	cfgFile        string
	rootCmd        = &cobra.Command{
		Use:   "tf-warden",
		Short: "TF2 player tracking daemon",
		Long:  `tf-warden - Tracks the players in your active Team Fortress 2 session, enriches them with steam reputation data and remembers your judgements`,
		RunE:  run,
	}

	versionCmd = &cobra.Command{
		Use:               "version",
		Short:             "Print version information",
		Long:              "Print detailed version information about tf-warden",
		Args:              cobra.NoArgs,
		ValidArgsFunction: cobra.NoFileCompletions,
		Run:               version,
	}
)

var errApp = errors.New("application error")

func main() {
	configPath := config.Path(config.DefaultConfigName)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", configPath, "Config file path")
	rootCmd.AddCommand(versionCmd)

	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		slog.Error("Exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func version(_ *cobra.Command, _ []string) {
	fmt.Printf("tf-warden - TF2 player tracker\n\n")  //nolint:forbidigo
	fmt.Printf("  Version: %s\n", BuildVersion)       //nolint:forbidigo
	fmt.Printf("  Commit:  %s\n", BuildCommit)        //nolint:forbidigo
	fmt.Printf("  Built:   %s\n", BuildDate)          //nolint:forbidigo
	fmt.Printf("  Runtime: %s\n\n", BuildGoVersion)   //nolint:forbidigo
}

// run is the main entry point of tf-warden.
func run(cmd *cobra.Command, _ []string) error {
	// If PROFILE is set, it will be used as the output file path for the profiler.
	if len(os.Getenv("PROFILE")) > 0 {
		f, err := os.Create(os.Getenv("PROFILE"))
		if err != nil {
			return errors.Join(err, errApp)
		}

		if errStart := pprof.StartCPUProfile(f); errStart != nil {
			return errors.Join(errStart, errApp)
		}
		defer pprof.StopCPUProfile()
	}

	// Make sure our config & data home exists.
	if err := os.MkdirAll(path.Join(xdg.ConfigHome, config.ConfigDirName), 0o750); err != nil {
		return errors.Join(err, errApp)
	}

	configUpdates := make(chan config.Config)

	configLoader := config.NewLoader(configUpdates)
	userConfig, errConfig := configLoader.Read()
	if errConfig != nil {
		return errors.Join(errApp, errConfig)
	}

	logLevel := slog.LevelInfo
	if userConfig.Debug {
		logLevel = slog.LevelDebug
	}

	logFile, errLogger := config.LoggerInit(config.DefaultLogName, logLevel)
	if errLogger != nil {
		return errors.Join(errLogger, errApp)
	}

	defer func(closer io.Closer) {
		if err := closer.Close(); err != nil {
			slog.Error("Failed to close log file", slog.String("error", err.Error()))
		}
	}(logFile)

	slog.Info("Starting tf-warden", slog.String("version", BuildVersion),
		slog.String("commit", BuildCommit), slog.String("date", BuildDate),
		slog.String("go", runtime.Version()))

	// Setup the sqlite database system.
	database, errDB := store.Open(cmd.Context(), config.Path(config.DefaultDBName), true)
	if errDB != nil {
		return errors.Join(errDB, errApp)
	}

	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("Error closing database", slog.String("error", err.Error()))
		}
	}()

	geo, errGeo := geoip.New(userConfig.GeoIPPath)
	if errGeo != nil {
		return errors.Join(errGeo, errApp)
	}

	defer func() {
		if err := geo.Close(); err != nil {
			slog.Error("Error closing geoip database", slog.String("error", err.Error()))
		}
	}()

	// Setup the reputation lookup path. The key lives behind an atomic pointer so
	// a config reload can rotate it without restarting.
	var apiKey atomic.Pointer[string]
	apiKey.Store(&userConfig.SteamAPIKey)

	httpClient := &http.Client{Timeout: config.DefaultHTTPTimeout}
	client := steam.NewClient(httpClient, userConfig.APIBaseURL, func() string {
		return *apiKey.Load()
	})

	router := events.NewRouter()
	manager := state.NewManager(router, store.NewRecords(database),
		steam.NewFetcher(client), rcon.NewFetcher(userConfig.Address, userConfig.Password),
		state.Opts{
			SelfID:     userConfig.SteamID,
			UpdateFreq: userConfig.UpdateFreq(),
			Geo:        geo,
		})

	app := NewApp(userConfig, manager, router, console.NewLocal(userConfig.ConsoleLogPath), configUpdates, &apiKey)

	return app.Start(cmd.Context())
}
