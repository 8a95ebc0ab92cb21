// Package config loads and validates OPS_ROOT's config.yaml the way the
// teacher's internal/config package loads .beads/config.yaml: a fresh
// viper.Viper per Load with an explicit SetConfigFile (never an upward
// search — OPS_ROOT is already resolved by internal/opsroot), defaults for
// the recognized scalar keys, and AGENTIC_SDD_-prefixed environment
// overrides for policy keys (e.g. AGENTIC_SDD_POLICY_PARALLEL_MAX_WORKERS).
// The default worker id, AGENTIC_SDD_WORKER, is not read by this package.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/ToaruPen/shogun-ops/internal/fsutil"
	"github.com/ToaruPen/shogun-ops/internal/types"
)

// recognizedPolicyKeys are the only acceptable keys under policy.* in
// config.yaml (spec.md §3.2): anything else is a fatal validation error.
var recognizedPolicyKeys = map[string]bool{
	"parallel":  true,
	"impl_mode": true,
	"checkin":   true,
}

var recognizedTopLevelKeys = map[string]bool{
	"version": true,
	"policy":  true,
	"workers": true,
}

// recognizedSubtreeKeys lists the accepted keys inside each recognized
// policy subtree. A key present but not listed produces a warning, not a
// fatal error (spec.md §4.A).
var recognizedSubtreeKeys = map[string]map[string]bool{
	"parallel":  {"enabled": true, "max_workers": true, "require_parallel_ok_label": true},
	"impl_mode": {"default": true, "force_tdd_labels": true},
	"checkin":   {"required_on_phase_change": true},
}

// Default returns the config.yaml written the first time OPS_ROOT is
// materialized: a single worker, parallelism disabled, impl mode default.
func Default() *types.Config {
	return &types.Config{
		Version: types.SchemaVersion,
		Policy: types.Policy{
			Parallel: types.ParallelPolicy{
				Enabled:                false,
				MaxWorkers:             1,
				RequireParallelOKLabel: false,
			},
			ImplMode: types.ImplModePolicy{
				Default: string(types.ImplModeImpl),
			},
			Checkin: types.CheckinPolicy{
				RequiredOnPhaseChange: true,
			},
		},
		Workers: []types.Worker{{ID: "ashigaru1"}},
	}
}

// Load reads and validates config.yaml at path. It returns the warnings
// produced by unrecognized (but non-fatal) nested keys so callers can print
// them to stderr, matching the teacher's "preserve but warn" behavior.
func Load(path string) (*types.Config, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	warnings, err := validateKeys(generic)
	if err != nil {
		return nil, nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetEnvPrefix("AGENTIC_SDD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetDefault("version", types.SchemaVersion)
	v.SetDefault("policy.parallel.enabled", false)
	v.SetDefault("policy.parallel.max_workers", 1)
	v.SetDefault("policy.parallel.require_parallel_ok_label", false)
	v.SetDefault("policy.impl_mode.default", string(types.ImplModeImpl))
	v.SetDefault("policy.checkin.required_on_phase_change", true)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}

	// Read scalars through viper's dotted-key getters rather than
	// Unmarshal-ing into the struct wholesale, the same way the teacher's
	// internal/config reads individual keys (GetString/GetBool/GetInt) — it
	// keeps AGENTIC_SDD_* env overrides and config.yaml on equal footing per
	// key, with no dependence on mapstructure's field-name matching.
	cfg := types.Config{
		Version: v.GetString("version"),
		Policy: types.Policy{
			Parallel: types.ParallelPolicy{
				Enabled:                v.GetBool("policy.parallel.enabled"),
				MaxWorkers:             v.GetInt("policy.parallel.max_workers"),
				RequireParallelOKLabel: v.GetBool("policy.parallel.require_parallel_ok_label"),
			},
			ImplMode: types.ImplModePolicy{
				Default:        v.GetString("policy.impl_mode.default"),
				ForceTDDLabels: v.GetStringSlice("policy.impl_mode.force_tdd_labels"),
			},
			Checkin: types.CheckinPolicy{
				RequiredOnPhaseChange: v.GetBool("policy.checkin.required_on_phase_change"),
			},
		},
		Workers: decodeWorkers(v.Get("workers")),
	}
	if cfg.Version == "" {
		cfg.Version = types.SchemaVersion
	}
	if err := checkVersion(cfg.Version); err != nil {
		return nil, nil, err
	}
	for _, w := range cfg.Workers {
		if !fsutil.ValidWorkerID(w.ID) {
			return nil, nil, fmt.Errorf("config.yaml: invalid worker id %q: must match ^[A-Za-z0-9._-]{1,64}$", w.ID)
		}
	}
	return &cfg, warnings, nil
}

// decodeWorkers reads config.yaml's workers list by hand: viper decodes
// YAML sequences of mappings as []any/map[string]any rather than a typed
// slice, so v.Get("workers") is walked directly instead of routing through
// Unmarshal.
func decodeWorkers(raw any) []types.Worker {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	workers := make([]types.Worker, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		if id != "" {
			workers = append(workers, types.Worker{ID: id})
		}
	}
	return workers
}

// validateKeys enforces the top-level and policy-subtree key rules of
// spec.md §4.A, returning non-fatal warnings for unrecognized nested keys.
func validateKeys(generic map[string]any) ([]string, error) {
	for k := range generic {
		if !recognizedTopLevelKeys[k] {
			return nil, fmt.Errorf("config.yaml: unrecognized top-level key %q", k)
		}
	}

	policyRaw, ok := generic["policy"]
	if !ok {
		return nil, nil
	}
	policyMap, ok := policyRaw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config.yaml: policy must be a mapping")
	}

	var warnings []string
	keys := make([]string, 0, len(policyMap))
	for k := range policyMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !recognizedPolicyKeys[k] {
			return nil, fmt.Errorf("config.yaml: unrecognized policy key %q", k)
		}
		subtree, ok := policyMap[k].(map[string]any)
		if !ok {
			continue
		}
		allowed := recognizedSubtreeKeys[k]
		subKeys := make([]string, 0, len(subtree))
		for sk := range subtree {
			subKeys = append(subKeys, sk)
		}
		sort.Strings(subKeys)
		for _, sk := range subKeys {
			if !allowed[sk] {
				warnings = append(warnings, fmt.Sprintf("config.yaml: unrecognized key policy.%s.%s (preserved, ignored)", k, sk))
			}
		}
	}
	return warnings, nil
}

// checkVersion rejects a config whose version is syntactically valid
// semver but newer-major than this binary's supported schema version,
// mirroring the teacher's checkVersionCompatibility in internal/rpc.
func checkVersion(version string) error {
	if version == "" {
		return nil
	}
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	supported := types.SchemaVersion
	if !semver.IsValid(v) || !semver.IsValid(supported) {
		// Non-semver version strings are tolerated, same carve-out as the
		// teacher: dev builds and pre-versioning documents still load.
		return nil
	}
	if semver.Compare(semver.Major(v), semver.Major(supported)) > 0 {
		return fmt.Errorf("config.yaml: unsupported schema version %s (this binary supports %s)", version, supported)
	}
	return nil
}

// WriteDefault materializes a default config.yaml at path if one does not
// already exist.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return fsutil.AtomicWriteFile(path, data, 0644)
}
