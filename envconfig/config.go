// Package envconfig reads service configuration from TCT_* environment
// variables once at startup.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

var (
	// Set via TCT_HOST in the environment
	Host string
	// Set via TCT_DEBUG in the environment
	Debug bool
	// Set via TCT_ORIGINS in the environment
	AllowOrigins []string
	// Set via TCT_VOCAB_BUDGET in the environment
	VocabBudget int
	// Set via TCT_NUM_PARALLEL in the environment
	NumParallel int
	// Set via TCT_MAX_OUTPUT in the environment
	MaxOutput int
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"TCT_HOST":         {"TCT_HOST", Host, "Bind address for the service (default 127.0.0.1:11711)"},
		"TCT_DEBUG":        {"TCT_DEBUG", Debug, "Show additional debug information (e.g. TCT_DEBUG=1)"},
		"TCT_ORIGINS":      {"TCT_ORIGINS", AllowOrigins, "A comma separated list of allowed origins"},
		"TCT_VOCAB_BUDGET": {"TCT_VOCAB_BUDGET", VocabBudget, "Default derived vocabulary size (default 1024)"},
		"TCT_NUM_PARALLEL": {"TCT_NUM_PARALLEL", NumParallel, "Maximum number of parallel generations (default 1)"},
		"TCT_MAX_OUTPUT":   {"TCT_MAX_OUTPUT", MaxOutput, "Maximum tokens per generation (default 1024)"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// clean strips quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	Host = "127.0.0.1:11711"
	VocabBudget = 1024
	NumParallel = 1
	MaxOutput = 1024

	LoadConfig()
}

func LoadConfig() {
	if host := clean("TCT_HOST"); host != "" {
		Host = host
		if !strings.Contains(host, ":") {
			Host = host + ":11711"
		}
	}

	if debug := clean("TCT_DEBUG"); debug != "" {
		d, err := strconv.ParseBool(debug)
		if err == nil {
			Debug = d
		} else {
			Debug = true
		}
	}

	if origins := clean("TCT_ORIGINS"); origins != "" {
		AllowOrigins = strings.Split(origins, ",")
	}

	if budget := clean("TCT_VOCAB_BUDGET"); budget != "" {
		val, err := strconv.Atoi(budget)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "TCT_VOCAB_BUDGET", budget, "error", err)
		} else {
			VocabBudget = val
		}
	}

	if np := clean("TCT_NUM_PARALLEL"); np != "" {
		val, err := strconv.Atoi(np)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "TCT_NUM_PARALLEL", np, "error", err)
		} else {
			NumParallel = val
		}
	}

	if mo := clean("TCT_MAX_OUTPUT"); mo != "" {
		val, err := strconv.Atoi(mo)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "TCT_MAX_OUTPUT", mo, "error", err)
		} else {
			MaxOutput = val
		}
	}
}
