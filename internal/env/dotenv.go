package env

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// Ensure loads the first .env file found from startDir up to the filesystem
// root. Variables already present in the process environment win. Subsequent
// calls are no-ops.
func Ensure(startDir string) error {
	// unit tests stay hermetic unless GOTEST_LOAD_DOTENV=1
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		path, err := FindDotEnv(startDir)
		if err != nil {
			loadErr = err
			log.Debug().Err(err).Msg("apkdeploy: search .env failed")
			return
		}
		if path == "" {
			return
		}
		if err := godotenv.Load(path); err != nil {
			loadErr = errors.Wrapf(err, "load %s", path)
			log.Warn().Err(err).Str("dotenv", path).Msg("apkdeploy: load .env failed")
			return
		}
		loadedPath = path
		log.Debug().Str("dotenv", path).Msg("apkdeploy: loaded .env")
	})
	return loadErr
}

// LoadedPath returns the resolved .env path if one was loaded, otherwise "".
func LoadedPath() string {
	return loadedPath
}

// FindDotEnv walks from startDir towards the root and returns the first .env
// file it meets. An empty startDir means the current working directory.
func FindDotEnv(startDir string) (string, error) {
	dir := strings.TrimSpace(startDir)
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrap(err, "resolve working directory")
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrap(err, "resolve .env search root")
	}
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !os.IsNotExist(err) {
			return "", errors.Wrapf(err, "stat %s", candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}
