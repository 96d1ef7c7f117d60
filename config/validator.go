package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// environments accepted by the env tag.
var environments = []string{"development", "staging", "production"}

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their config key so errors name what the user wrote.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("env", func(fl validator.FieldLevel) bool {
		return slices.Contains(environments, fl.Field().String())
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		r := sl.Current().Interface().(RankingConfig)
		if r.SimilarityWeight+r.ImportanceWeight+r.RecencyWeight == 0 {
			sl.ReportError(r.SimilarityWeight, "similarity_weight", "SimilarityWeight", "weights", "")
		}
	}, RankingConfig{})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		c := sl.Current().Interface().(CoherenceConfig)
		if c.CharacterWeight+c.PlotWeight+c.WorldWeight+c.TemporalWeight == 0 {
			sl.ReportError(c.CharacterWeight, "character_weight", "CharacterWeight", "weights", "")
		}
	}, CoherenceConfig{})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		g := sl.Current().Interface().(GenerationConfig)
		if g.MaxBackoff > 0 && g.MaxBackoff < g.InitialBackoff {
			sl.ReportError(g.MaxBackoff, "max_backoff", "MaxBackoff", "backoff", "")
		}
	}, GenerationConfig{})
	return v
}

// ConfigError is one rejected setting, named by its dotted config key.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors lists every rejected setting of a config.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	lines := make([]string, 0, len(e)+1)
	lines = append(lines, "configuration validation failed:")
	for _, ce := range e {
		lines = append(lines, "  - "+ce.Error())
	}
	return strings.Join(lines, "\n")
}

// ValidateWithDetails validates cfg and returns ValidationErrors when any
// setting is rejected.
func ValidateWithDetails(cfg *Config) error {
	err := validate.Struct(cfg)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	details := make(ValidationErrors, len(fieldErrs))
	for i, fe := range fieldErrs {
		details[i] = ConfigError{
			Field:   configKey(fe.Namespace()),
			Message: describe(fe),
			Value:   fe.Value(),
		}
	}
	return details
}

// configKey turns "Config.ranking.similarity_weight" into
// "ranking.similarity_weight".
func configKey(namespace string) string {
	_, key, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return key
}

var fixedMessages = map[string]string{
	"required": "this field is required",
	"env":      "must be one of [" + strings.Join(environments, " ") + "]",
	"weights":  "weights must not all be zero",
	"backoff":  "max_backoff must not be below initial_backoff",
}

func describe(fe validator.FieldError) string {
	if msg, ok := fixedMessages[fe.Tag()]; ok {
		return msg
	}
	switch fe.Tag() {
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	}
	return "failed validation: " + fe.Tag()
}
