package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/samber/oops"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/imagetool/imagetool/pkg/aru"
	"github.com/imagetool/imagetool/pkg/utils"
)

// Settings are the persistent defaults of the tool. Flags override them.
type Settings struct {
	CacheDir   string `yaml:"cache_dir" toml:"cache_dir" env:"CACHE_DIR"`
	BuildDir   string `yaml:"build_dir" toml:"build_dir" env:"BUILD_DIR"`
	ARUURL     string `yaml:"aru_url" toml:"aru_url" env:"ARU_URL"`
	DockerPath string `yaml:"docker" toml:"docker" env:"DOCKER"`
}

const envPrefix = "IMAGETOOL_"

func Default() Settings {
	return Settings{
		CacheDir:   utils.CacheDir(),
		BuildDir:   utils.BuildDir(),
		ARUURL:     aru.DefaultURL,
		DockerPath: "docker",
	}
}

// Load reads the settings file at path, if there is one, and applies
// IMAGETOOL_* variables from environ on top. A missing file is not an error.
func Load(path string, environ map[string]string) (Settings, error) {
	s := Default()
	if path != "" {
		if err := loadFile(path, &s); err != nil {
			return Settings{}, err
		}
	}
	if err := env.ParseWithOptions(&s, env.Options{Prefix: envPrefix, Environment: environ}); err != nil {
		return Settings{}, xerrors.Errorf("settings environment error: %w", err)
	}
	return s, nil
}

// LoadFromEnv is Load using the process environment.
func LoadFromEnv(path string) (Settings, error) {
	return Load(path, utils.Environ())
}

func loadFile(path string, s *Settings) error {
	eb := oops.With("file_path", path)

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return eb.Wrapf(err, "settings read error")
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err = toml.Decode(string(b), s); err != nil {
			return eb.Wrapf(err, "toml decode error")
		}
	case ".yaml", ".yml":
		if err = yaml.UnmarshalStrict(b, s); err != nil {
			return eb.Wrapf(err, "yaml decode error")
		}
	default:
		return eb.Errorf("unsupported settings format %q", filepath.Ext(path))
	}
	return nil
}

// Save writes s to path as YAML, creating the parent directory.
func Save(path string, s Settings) error {
	eb := oops.With("file_path", path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eb.Wrapf(err, "mkdir error")
	}
	b, err := yaml.Marshal(s)
	if err != nil {
		return eb.Wrapf(err, "yaml encode error")
	}
	if err = os.WriteFile(path, b, 0o644); err != nil {
		return eb.Wrapf(err, "settings write error")
	}
	return nil
}
