package cli

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileVar names a variable that points at an env file and wins over --env.
const EnvFileVar = "DAILYBRIEF_ENV_FILE"

// EnvLoader resolves the env file for one command. Values in the file override
// variables already present in the process environment.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers --env on fs.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}
	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// Load applies the env file and returns its path. A missing default file is not
// an error, since scheduled runs usually get their config from the environment;
// a missing file that was asked for by flag or by EnvFileVar is.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", errors.New("env loader is nil")
	}

	path, explicit := l.resolve()
	err := godotenv.Overload(path)
	switch {
	case err == nil:
		return path, nil
	case !explicit && errors.Is(err, fs.ErrNotExist):
		return "", nil
	default:
		return "", fmt.Errorf("load env file %s: %w", path, err)
	}
}

func (l *EnvLoader) resolve() (string, bool) {
	if custom := strings.TrimSpace(os.Getenv(EnvFileVar)); custom != "" {
		return custom, true
	}
	requested := ""
	if l.value != nil {
		requested = strings.TrimSpace(*l.value)
	}
	if requested == "" || requested == l.defaultPath {
		return l.defaultPath, false
	}
	return requested, true
}
