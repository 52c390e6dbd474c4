// Package config loads and watches the application configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path"
	"runtime"
	"time"

	"github.com/adrg/xdg"
	"github.com/leighmacdonald/steamid/v4/steamid"
)

var (
	errConfigRead = errors.New("failed to read config file")
	errLoggerInit = errors.New("failed to initialize logger")
)

const (
	ConfigDirName       = "tf-warden"
	DefaultConfigName   = "tf-warden"
	DefaultDBName       = "tf-warden.db"
	DefaultLogName      = "tf-warden.log"
	DefaultSnapshotName = "gamestate.json"
	EnvPrefix           = "tfwarden"
	DefaultHTTPTimeout  = 15 * time.Second
)

type Config struct {
	// SteamID identifies the local player so their own roster entry can be
	// flagged. Decoded from SteamIDString after unmarshalling.
	SteamID       steamid.SteamID `mapstructure:"-"`
	SteamIDString string          `mapstructure:"steam_id"`
	// Address and Password are the rcon endpoint of the local game client,
	// requires the -usercon launch option.
	Address        string `mapstructure:"address"`
	Password       string `mapstructure:"password"`
	ConsoleLogPath string `mapstructure:"console_log_path"`
	// SteamAPIKey enables profile and ban lookups. Without one the roster still
	// works, players just carry no steam info.
	SteamAPIKey  string `mapstructure:"steam_api_key"`
	APIBaseURL   string `mapstructure:"api_base_url,omitempty"`
	UpdateFreqMs int    `mapstructure:"update_freq_ms,omitempty"`
	// GeoIPPath points at a local mmdb database for server region lookups,
	// optional.
	GeoIPPath    string `mapstructure:"geoip_path"`
	SnapshotPath string `mapstructure:"snapshot_path"`
	Debug        bool   `mapstructure:"debug"`
}

func (c Config) UpdateFreq() time.Duration {
	if c.UpdateFreqMs <= 0 {
		return time.Second * 2
	}

	return time.Millisecond * time.Duration(c.UpdateFreqMs)
}

// Path generates a path pointing to the filename under this apps defined $XDG_CONFIG_HOME.
func Path(name string) string {
	fullPath, errFullPath := xdg.ConfigFile(path.Join(ConfigDirName, name))
	if errFullPath != nil {
		panic(errFullPath)
	}

	return fullPath
}

func defaultConsoleLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		usr, err := user.Current()
		if err != nil {
			panic(err)
		}

		return fmt.Sprintf("/Users/%s/Library/Application Support/Steam/steamapps/common/Team Fortress 2/tf/console.log", usr.Name)
	case "linux":
		homedir, err := os.UserHomeDir()
		if err != nil {
			homedir = "/"
		}

		return path.Join(homedir, ".steam/steam/steamapps/common/Team Fortress 2/tf/console.log")
	case "windows":
		return "C:\\Program Files (x86)\\Steam\\steamapps\\common\\Team Fortress 2\\tf\\console.log"
	default:
		return ""
	}
}

// LoggerInit sets up the slog global handler to write to a log file.
func LoggerInit(logPath string, level slog.Level) (io.Closer, error) {
	logFile, errLogFile := os.Create(path.Join(xdg.ConfigHome, ConfigDirName, logPath))
	if errLogFile != nil {
		return nil, errors.Join(errLogFile, errLoggerInit)
	}

	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	}))

	slog.SetDefault(logger)

	return logFile, nil
}
