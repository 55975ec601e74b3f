package config

import (
	"bytes"
	"errors"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HEALTHETL"

// Load builds the configuration from defaults, the YAML file at path (when
// not empty), HEALTHETL_ environment variables and any flags already bound
// to v. The result is validated.
func Load(v *viper.Viper, path string) (*Config, error) {
	cfg := Default()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if path != "" {
		content, err := readExpanded(path)
		if err != nil {
			return nil, err
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
			return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "failed to parse config file").
				WithDetail("path", path)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "failed to decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults without consulting the
// environment beyond ${VAR} substitution.
func LoadFile(path string) (*Config, error) {
	content, err := readExpanded(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "failed to parse YAML").WithDetail("path", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dump renders cfg as YAML.
func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeInternal, "failed to marshal YAML")
	}
	return data, nil
}

// Save writes cfg as YAML to path.
func Save(path string, cfg *Config) error {
	data, err := Dump(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to write config file").WithDetail("path", path)
	}
	return nil
}

func readExpanded(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the command line
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, etlerrors.Newf(etlerrors.ErrorTypeConfig, "config file %s not found", path)
		}
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "failed to read config file").WithDetail("path", path)
	}
	return []byte(substituteEnvVars(string(data))), nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// substituteEnvVars replaces ${NAME} with the variable's value and
// ${NAME:-fallback} with the value, or fallback when NAME is unset or empty.
func substituteEnvVars(content string) string {
	return envRef.ReplaceAllStringFunc(content, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if value := os.Getenv(m[1]); value != "" || m[2] == "" {
			return value
		}
		return m[3]
	})
}

// bindEnvs registers every leaf key of cfg so that Unmarshal consults the
// environment for keys that appear in no file.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
