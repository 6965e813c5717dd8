package detectconfig

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheewill/detectengine/internal/detect"
)

func TestLoad_DefaultsToMediumProfile(t *testing.T) {
	cfg, warnings, err := Load(viper.New(), "", detect.MatcherDefault, false)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, detect.ProfileMedium, cfg.Profile)
	assert.Equal(t, detect.DefaultRecursionLimit, cfg.RecursionLimit)
	assert.Equal(t, detect.MPMContextSingle, cfg.SGHMPMContext)
}

func TestLoad_IsolatedReloadPrefix(t *testing.T) {
	v := viper.New()
	prefix := ReloadSubtree(3)
	v.Set(prefix+".detect-engine.profile", "high")

	cfg, _, err := Load(v, prefix, detect.MatcherDefault, false)
	require.NoError(t, err)
	assert.Equal(t, detect.ProfileHigh, cfg.Profile)
}

func TestLoad_FullACCUDAIsFatal(t *testing.T) {
	v := viper.New()
	v.Set("detect-engine.sgh-mpm-context", "full")

	_, _, err := Load(v, "", detect.MatcherACCUDA, false)
	assert.ErrorIs(t, err, detect.ErrIncompatibleMPMContext)
}

func TestLoadTree_Defaults(t *testing.T) {
	tree := LoadTree(nil)
	assert.Equal(t, ":9191", tree.AdminAddr)
	assert.Equal(t, "detect", tree.MetricsNamespace)
}

func TestTreeValidate(t *testing.T) {
	valid := LoadTree(nil)
	assert.NoError(t, valid.Validate())

	noAddr := valid
	noAddr.AdminAddr = ""
	assert.Error(t, noAddr.Validate())

	badRedis := valid
	badRedis.RedisAddr = "not a hostport"
	assert.Error(t, badRedis.Validate())

	goodRedis := valid
	goodRedis.RedisAddr = "127.0.0.1:6379"
	assert.NoError(t, goodRedis.Validate())

	noNamespace := valid
	noNamespace.MetricsNamespace = ""
	assert.Error(t, noNamespace.Validate())
}
