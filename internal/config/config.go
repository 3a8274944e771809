package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	kerrors "github.com/systmms/kmsenv/internal/errors"
	"github.com/systmms/kmsenv/internal/logging"
)

const (
	// DefaultPath is looked up in the working directory when --config is not given.
	DefaultPath = "kmsenv.yaml"
	// DefaultFile is the secrets file used when nothing else names one.
	DefaultFile = ".env"

	EnvKeyID = "KMSENV_KEY_ID"
	EnvFile  = "KMSENV_FILE"
)

//go:embed schema.json
var schema string

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the kmsenv.yaml structure
type Definition struct {
	Version int       `yaml:"version"`
	KeyID   string    `yaml:"key_id,omitempty"`
	File    string    `yaml:"file,omitempty"`
	AWS     AWSConfig `yaml:"aws,omitempty"`
}

// AWSConfig selects the region, shared profile and endpoint for KMS calls.
type AWSConfig struct {
	Region   string `yaml:"region,omitempty"`
	Profile  string `yaml:"profile,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Load reads and validates the configuration file. A missing file is not an
// error when Path is the default; the definition is then empty.
func (c *Config) Load() error {
	path := c.Path
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			c.Logger.Debug("No %s found, using flags and environment only", path)
			c.Definition = &Definition{}
			return nil
		}
		if os.IsNotExist(err) {
			return kerrors.ConfigError{
				Field:      "path",
				Value:      path,
				Message:    "configuration file not found",
				Suggestion: "Check the --config flag, or omit it to use flags only",
			}
		}
		return kerrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}

	c.Logger.Debug("Loaded configuration from %s", path)
	c.Path = path
	c.Definition = def
	return nil
}

// Parse decodes and validates a kmsenv.yaml document.
func Parse(data []byte) (*Definition, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, kerrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file: " + err.Error(),
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	if err := validate(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, kerrors.ConfigError{
			Message:    err.Error(),
			Suggestion: "Check the value types in kmsenv.yaml",
		}
	}
	return &def, nil
}

func validate(doc map[string]interface{}) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	first := result.Errors()[0]
	var messages []string
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	suggestion := "Allowed keys are version, key_id, file and aws.{region,profile,endpoint}"
	if first.Field() == "version" {
		suggestion = "Set 'version: 0' at the top of your kmsenv.yaml file"
	}
	return kerrors.ConfigError{
		Field:      first.Field(),
		Value:      first.Value(),
		Message:    strings.Join(messages, "; "),
		Suggestion: suggestion,
	}
}

// Settings are the effective values after merging flags, environment and
// the configuration file.
type Settings struct {
	KeyID    string
	File     string
	Region   string
	Profile  string
	Endpoint string
}

// Overrides carries values given on the command line. Empty fields do not
// override anything.
type Overrides struct {
	KeyID    string
	File     string
	Region   string
	Profile  string
	Endpoint string
}

// Resolve merges values with precedence flag > environment > file > default.
// Region and profile read the standard AWS_REGION and AWS_PROFILE variables.
func (c *Config) Resolve(flags Overrides, getenv func(string) string) Settings {
	if getenv == nil {
		getenv = os.Getenv
	}
	def := c.Definition
	if def == nil {
		def = &Definition{}
	}

	return Settings{
		KeyID:    first(flags.KeyID, getenv(EnvKeyID), def.KeyID),
		File:     first(flags.File, getenv(EnvFile), def.File, DefaultFile),
		Region:   first(flags.Region, getenv("AWS_REGION"), def.AWS.Region),
		Profile:  first(flags.Profile, getenv("AWS_PROFILE"), def.AWS.Profile),
		Endpoint: first(flags.Endpoint, def.AWS.Endpoint),
	}
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
