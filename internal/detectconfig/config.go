// Package detectconfig is the engine's config loader: a viper-backed
// tree-based lookup that feeds the profile/limit/recursion-limit
// resolution policy living in internal/detect (the core never hard-codes
// a config library itself).
package detectconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/cheewill/detectengine/internal/detect"
)

// Tree holds the process-wide keys rooted outside any single reload's
// isolated subtree.
type Tree struct {
	InitFailureFatal bool          `mapstructure:"engine.init-failure-fatal"`
	AdminAddr        string        `mapstructure:"detect-engine.reload.admin-addr" validate:"required"`
	SIGHUPDebounce   time.Duration `mapstructure:"detect-engine.reload.sighup-debounce" validate:"min=0"`
	PostgresDSN      string        `mapstructure:"detect-engine.storage.postgres-dsn"`
	RedisAddr        string        `mapstructure:"detect-engine.lock.redis-addr" validate:"omitempty,hostname_port"`
	MetricsNamespace string        `mapstructure:"detect-engine.metrics.namespace" validate:"required,alphanumunicode|containsany=_"`
}

var treeValidator = validator.New()

// Validate checks the structural constraints on the ambient settings; a
// failure here is a startup configuration error, reported before anything
// binds a socket or touches the registry.
func (t Tree) Validate() error {
	if err := treeValidator.Struct(t); err != nil {
		return fmt.Errorf("detectconfig: invalid settings: %w", err)
	}
	return nil
}

// LoadTree reads the ambient, process-wide settings and applies their
// defaults.
func LoadTree(v *viper.Viper) Tree {
	t := Tree{
		AdminAddr:        ":9191",
		SIGHUPDebounce:   time.Second,
		MetricsNamespace: "detect",
	}
	if v == nil {
		return t
	}
	if v.IsSet("engine.init-failure-fatal") {
		t.InitFailureFatal = v.GetBool("engine.init-failure-fatal")
	}
	if v.IsSet("detect-engine.reload.admin-addr") {
		t.AdminAddr = v.GetString("detect-engine.reload.admin-addr")
	}
	if v.IsSet("detect-engine.reload.sighup-debounce") {
		t.SIGHUPDebounce = v.GetDuration("detect-engine.reload.sighup-debounce")
	}
	if v.IsSet("detect-engine.storage.postgres-dsn") {
		t.PostgresDSN = v.GetString("detect-engine.storage.postgres-dsn")
	}
	if v.IsSet("detect-engine.lock.redis-addr") {
		t.RedisAddr = v.GetString("detect-engine.lock.redis-addr")
	}
	if v.IsSet("detect-engine.metrics.namespace") {
		t.MetricsNamespace = v.GetString("detect-engine.metrics.namespace")
	}
	return t
}

// BuildConfig is the fully-resolved set of inputs an EngineSnapshot build
// needs, plus the warnings collected along the way (e.g. a custom group
// value that fell back to the medium default).
type BuildConfig struct {
	Profile        detect.Profile
	Limits         detect.GroupLimits
	RecursionLimit int
	SGHMPMContext  detect.MPMContextMode
	MPMMatcher     string
}

// Load reads the keys rooted at prefix (or the process defaults when
// prefix == "") and resolves them into a BuildConfig via the policy
// implemented in internal/detect, returning any warnings collected along
// the way. matcher is the already-selected MPM matcher family name;
// unitTestMode forces SGHMPMContext to Full.
func Load(v *viper.Viper, prefix string, matcher string, unitTestMode bool) (*BuildConfig, []string, error) {
	var warnings []string

	profile := detect.ProfileMedium
	key := joinKey(prefix, "detect-engine.profile")
	if v != nil {
		if raw := strings.ToLower(strings.TrimSpace(v.GetString(key))); raw != "" {
			profile = detect.Profile(raw)
		}
	}

	limits := detect.ResolveGroupLimits(v, prefix, profile, func(k, raw string, fallback uint16) {
		warnings = append(warnings, fmt.Sprintf("custom group value unparsable or absent for %s (raw=%q), falling back to %d", k, raw, fallback))
	})

	recursionLimit := detect.ResolveRecursionLimit(v, prefix)

	mode, err := detect.ResolveSGHMPMContext(v, prefix, matcher, unitTestMode)
	if err != nil {
		return nil, warnings, err
	}

	return &BuildConfig{
		Profile:        profile,
		Limits:         limits,
		RecursionLimit: recursionLimit,
		SGHMPMContext:  mode,
		MPMMatcher:     matcher,
	}, warnings, nil
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// ReloadSubtree names the isolated config view a single reload attempt
// reads from: "detect-engine-reloads.N", N monotonic from zero.
func ReloadSubtree(n uint64) string {
	return fmt.Sprintf("detect-engine-reloads.%d", n)
}
