package detect

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Profile selects one of the fixed signature-group-head sizing tables, or
// the custom table read field-by-field from configuration.
type Profile string

const (
	ProfileLow    Profile = "low"
	ProfileMedium Profile = "medium"
	ProfileHigh   Profile = "high"
	ProfileCustom Profile = "custom"
)

// MPMContextMode is the signature-group-head MPM context sharing policy.
type MPMContextMode int

const (
	MPMContextSingle MPMContextMode = iota
	MPMContextFull
)

func (m MPMContextMode) String() string {
	if m == MPMContextFull {
		return "full"
	}
	return "single"
}

// Matcher names the selected MPM matcher family. The string values mirror
// the matcher names used in detect-engine config in the original engine.
const (
	MatcherDefault = "default"
	MatcherACGFBS  = "ac-gfbs"
	MatcherACBS    = "ac-bs"
	MatcherACCUDA  = "ac-cuda"
)

func isSingleContextMatcher(matcher string) bool {
	switch matcher {
	case "", MatcherDefault, MatcherACGFBS, MatcherACBS, MatcherACCUDA:
		return true
	default:
		return false
	}
}

// GroupLimits holds the eight per-direction, per-field signature-group-head
// count ceilings resolved from the active profile.
type GroupLimits struct {
	ToClientSrc uint16
	ToClientDst uint16
	ToClientSP  uint16
	ToClientDP  uint16
	ToServerSrc uint16
	ToServerDst uint16
	ToServerSP  uint16
	ToServerDP  uint16
}

var profileLimits = map[Profile]GroupLimits{
	ProfileLow:    {ToClientSrc: 2, ToClientDst: 2, ToClientSP: 2, ToClientDP: 3, ToServerSrc: 2, ToServerDst: 2, ToServerSP: 2, ToServerDP: 3},
	ProfileMedium: {ToClientSrc: 4, ToClientDst: 4, ToClientSP: 4, ToClientDP: 6, ToServerSrc: 4, ToServerDst: 8, ToServerSP: 4, ToServerDP: 30},
	ProfileHigh:   {ToClientSrc: 15, ToClientDst: 15, ToClientSP: 15, ToClientDP: 20, ToServerSrc: 15, ToServerDst: 15, ToServerSP: 15, ToServerDP: 40},
}

const (
	// DefaultRecursionLimit is used when the config key is absent.
	DefaultRecursionLimit = 3000
	// UnboundedRecursionLimit is stored when the config explicitly sets 0.
	UnboundedRecursionLimit = -1
)

type groupField struct {
	leaf     string
	fallback uint16
	set      func(*GroupLimits, uint16)
}

func groupFields() []groupField {
	medium := profileLimits[ProfileMedium]
	return []groupField{
		{"toclient-src-groups", medium.ToClientSrc, func(g *GroupLimits, v uint16) { g.ToClientSrc = v }},
		{"toclient-dst-groups", medium.ToClientDst, func(g *GroupLimits, v uint16) { g.ToClientDst = v }},
		{"toclient-sp-groups", medium.ToClientSP, func(g *GroupLimits, v uint16) { g.ToClientSP = v }},
		{"toclient-dp-groups", medium.ToClientDP, func(g *GroupLimits, v uint16) { g.ToClientDP = v }},
		{"toserver-src-groups", medium.ToServerSrc, func(g *GroupLimits, v uint16) { g.ToServerSrc = v }},
		{"toserver-dst-groups", medium.ToServerDst, func(g *GroupLimits, v uint16) { g.ToServerDst = v }},
		{"toserver-sp-groups", medium.ToServerSP, func(g *GroupLimits, v uint16) { g.ToServerSP = v }},
		{"toserver-dp-groups", medium.ToServerDP, func(g *GroupLimits, v uint16) { g.ToServerDP = v }},
	}
}

func configKey(prefix, leaf string) string {
	if prefix == "" {
		return leaf
	}
	return prefix + "." + leaf
}

// ResolveGroupLimits maps a profile onto its group-count table. For
// ProfileCustom, each field is read independently from
// "<prefix>.detect-engine.custom-values.<leaf>"; an absent or unparsable
// (non base-10 uint16) value falls back to the medium default for that
// field and is reported through warn.
func ResolveGroupLimits(v *viper.Viper, prefix string, profile Profile, warn func(key, raw string, fallback uint16)) GroupLimits {
	if limits, ok := profileLimits[profile]; ok {
		return limits
	}
	limits := GroupLimits{}
	for _, f := range groupFields() {
		key := configKey(prefix, "detect-engine.custom-values."+f.leaf)
		value := f.fallback
		if v == nil || !v.IsSet(key) {
			if warn != nil {
				warn(key, "", f.fallback)
			}
		} else {
			raw := v.GetString(key)
			parsed, err := strconv.ParseUint(raw, 10, 16)
			if err != nil {
				if warn != nil {
					warn(key, raw, f.fallback)
				}
			} else {
				value = uint16(parsed)
			}
		}
		f.set(&limits, value)
	}
	return limits
}

// ResolveRecursionLimit parses the inspection-recursion-limit key:
// absent -> DefaultRecursionLimit, explicit 0 -> Unbounded, otherwise the
// configured integer.
func ResolveRecursionLimit(v *viper.Viper, prefix string) int {
	key := configKey(prefix, "detect-engine.inspection-recursion-limit")
	if v == nil || !v.IsSet(key) {
		return DefaultRecursionLimit
	}
	n := v.GetInt(key)
	if n == 0 {
		return UnboundedRecursionLimit
	}
	return n
}

// ResolveSGHMPMContext resolves the signature-group-head MPM context mode:
// "auto"/absent selects Single for the default AC matcher family and Full
// otherwise; "single"/"full" override explicitly; unitTestMode always
// forces Full; "full" combined with the ac-cuda matcher is a fatal
// configuration error.
func ResolveSGHMPMContext(v *viper.Viper, prefix string, matcher string, unitTestMode bool) (MPMContextMode, error) {
	if unitTestMode {
		return MPMContextFull, nil
	}
	key := configKey(prefix, "detect-engine.sgh-mpm-context")
	raw := ""
	if v != nil {
		raw = strings.ToLower(strings.TrimSpace(v.GetString(key)))
	}
	switch raw {
	case "single":
		return MPMContextSingle, nil
	case "full":
		if matcher == MatcherACCUDA {
			return 0, ErrIncompatibleMPMContext
		}
		return MPMContextFull, nil
	default: // "auto" or absent
		if isSingleContextMatcher(matcher) {
			return MPMContextSingle, nil
		}
		return MPMContextFull, nil
	}
}

// CompiledSignature stands in for the signature compiler's output: the core
// never interprets its fields, it only counts and carries them.
type CompiledSignature struct {
	ID  uint32
	Raw string
}

// SignatureLoader is the signature compiler's loading entry point. The core
// calls it but never implements rule parsing itself.
type SignatureLoader interface {
	LoadSignatures(prefix string) ([]CompiledSignature, error)
}

// SignatureGroupBuilder is handed the compiled signatures and the resolved
// limits/context mode and builds whatever internal MPM grouping structure
// the pattern-matcher factories require; the core does not inspect its
// result.
type SignatureGroupBuilder interface {
	BuildSignatureGroups(sigs []CompiledSignature, limits GroupLimits, mode MPMContextMode) error
}

// ReputationContext and ClassificationConfig stand in for the reputation
// subsystem and the classification/reference loader, both external
// collaborators. Kept deliberately thin: the core only carries them on the
// snapshot.
type ReputationContext struct {
	Loaded bool
	Source string
}

type ClassificationConfig struct {
	Loaded  bool
	Entries map[string]string
}

// ReputationLoader and ClassificationLoader let a snapshot build optionally
// pull these tables from an external source; nil loaders fall back to
// empty/default structures. This module ships no implementation of either
// (pkg/storage only holds the reload audit log).
type ReputationLoader interface {
	LoadReputation() (*ReputationContext, error)
}

type ClassificationLoader interface {
	LoadClassification() (*ClassificationConfig, error)
}

// EngineSnapshot is the immutable-after-build compilation artifact.
// After Init/InitMinimal returns, no field may be mutated except the
// reference count (via MasterRegistry) and the intrusive next link.
type EngineSnapshot struct {
	ID                       uint64
	ConfigPrefix             string
	InspectionRecursionLimit int
	MPMMatcher               string
	Limits                   GroupLimits
	SGHMPMContext            MPMContextMode
	Signatures               []CompiledSignature
	Reputation               *ReputationContext
	Classification           *ClassificationConfig
	Keywords                 *ThreadKeywordRegistry

	minimal bool

	// refCnt and next are mutated only while the MasterRegistry mutex is
	// held; see registry.go.
	refCnt int32
	next   *EngineSnapshot
}

// IsMinimal reports whether the snapshot skipped rule compilation (the
// InitMinimal path used by tests).
func (s *EngineSnapshot) IsMinimal() bool {
	return s.minimal
}

// RefCount returns the current reference count. Safe to call without the
// master registry lock since it is only ever used for diagnostics; callers
// that need a linearizable read should go through the registry.
func (s *EngineSnapshot) RefCount() int32 {
	return s.refCnt
}

// InitMinimal builds a snapshot that skips rule compilation entirely: it
// just allocates, assigns an id, and wires an empty thread-keyword
// registry. Used by unit tests that only need a snapshot identity to bind
// thread contexts to.
func InitMinimal(id uint64) *EngineSnapshot {
	return &EngineSnapshot{
		ID:      id,
		minimal: true,
		Keywords: NewThreadKeywordRegistry(),
	}
}

// BuildOptions configures a full snapshot build.
type BuildOptions struct {
	// Viper is the config tree to read from; nil means "use defaults for
	// everything" (equivalent to an unconfigured engine).
	Viper *viper.Viper
	// ConfigPrefix roots the lookup, e.g. "detect-engine-reloads.3" for an
	// isolated per-reload config view.
	ConfigPrefix string
	// MPMMatcher is the selected matcher family; see the Matcher* consts.
	MPMMatcher string
	// UnitTestMode forces SGHMPMContext to Full, matching the original
	// engine's unit-test run mode.
	UnitTestMode bool

	SignatureLoader       SignatureLoader
	SignatureGroupBuilder SignatureGroupBuilder
	ReputationLoader      ReputationLoader
	ClassificationLoader  ClassificationLoader

	Logger *slog.Logger
}

// Init builds a full snapshot: resolves the profile, recursion limit and
// SGH MPM context from configuration, loads signatures through the
// external compiler, builds signature groups, and optionally loads
// reputation/classification through the configured loaders.
func Init(id uint64, opts BuildOptions) (*EngineSnapshot, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	profile := ProfileMedium
	if opts.Viper != nil {
		key := configKey(opts.ConfigPrefix, "detect-engine.profile")
		if raw := strings.ToLower(strings.TrimSpace(opts.Viper.GetString(key))); raw != "" {
			profile = Profile(raw)
		}
	}

	warn := func(key, raw string, fallback uint16) {
		logger.Warn("custom group value unparsable or absent, falling back to medium",
			"key", key, "raw", raw, "fallback", fallback)
	}
	limits := ResolveGroupLimits(opts.Viper, opts.ConfigPrefix, profile, warn)
	recursionLimit := ResolveRecursionLimit(opts.Viper, opts.ConfigPrefix)

	sghMode, err := ResolveSGHMPMContext(opts.Viper, opts.ConfigPrefix, opts.MPMMatcher, opts.UnitTestMode)
	if err != nil {
		return nil, fmt.Errorf("detect: resolving sgh-mpm-context: %w", err)
	}

	var sigs []CompiledSignature
	if opts.SignatureLoader != nil {
		sigs, err = opts.SignatureLoader.LoadSignatures(opts.ConfigPrefix)
		if err != nil {
			return nil, fmt.Errorf("detect: loading signatures: %w", err)
		}
	}
	if opts.SignatureGroupBuilder != nil {
		if err := opts.SignatureGroupBuilder.BuildSignatureGroups(sigs, limits, sghMode); err != nil {
			return nil, fmt.Errorf("detect: building signature groups: %w", err)
		}
	}

	reputation := &ReputationContext{}
	if opts.ReputationLoader != nil {
		reputation, err = opts.ReputationLoader.LoadReputation()
		if err != nil {
			return nil, fmt.Errorf("detect: loading reputation: %w", err)
		}
	}

	classification := &ClassificationConfig{Entries: map[string]string{}}
	if opts.ClassificationLoader != nil {
		classification, err = opts.ClassificationLoader.LoadClassification()
		if err != nil {
			return nil, fmt.Errorf("detect: loading classification: %w", err)
		}
	}

	return &EngineSnapshot{
		ID:                       id,
		ConfigPrefix:             opts.ConfigPrefix,
		InspectionRecursionLimit: recursionLimit,
		MPMMatcher:               opts.MPMMatcher,
		Limits:                   limits,
		SGHMPMContext:            sghMode,
		Signatures:               sigs,
		Reputation:               reputation,
		Classification:           classification,
		Keywords:                 NewThreadKeywordRegistry(),
	}, nil
}
