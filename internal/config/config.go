// Package config loads and validates the orchestrator's recovery
// configuration. Configuration is read once at startup and never mutated.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// RecoveryConfiguration is the full, read-only orchestrator configuration
type RecoveryConfiguration struct {
	Monitor    MonitorConfig             `yaml:"monitor"`
	Probes     ProbesConfig              `yaml:"probes"`
	Strategies map[string]StrategyConfig `yaml:"strategies"` // keyed by failure domain
	Priorities PrioritiesConfig          `yaml:"priorities"`
	Objectives ObjectivesConfig          `yaml:"objectives"`
	Backup     BackupConfig              `yaml:"backup"`
	Escalation EscalationConfig          `yaml:"escalation"`
	// ComponentMap maps failure domains to the component names they cover
	ComponentMap map[string][]string `yaml:"component_map"`
	// DowntimeCostPerMinute parameterizes the business-impact estimate,
	// expressed as a decimal string (e.g. "125.50")
	DowntimeCostPerMinute string `yaml:"downtime_cost_per_minute"`
}

type MonitorConfig struct {
	// Interval between health check ticks. Default 30s.
	Interval time.Duration `yaml:"interval"`
	// ProbeTimeout bounds each individual probe. Must be 3-10s.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// SettleDelay before post-recovery verification re-runs probes. Default 10s.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// CooldownWindow suppresses repeat events for a component set after
	// resolution. Default 5m.
	CooldownWindow time.Duration `yaml:"cooldown_window"`
}

type ProbesConfig struct {
	// Services maps service name to its health endpoint URL
	Services map[string]string `yaml:"services"`
	// Infrastructure maps endpoint name to its reachability URL
	Infrastructure map[string]string `yaml:"infrastructure"`
	// IntegrityURL is the data-integrity RPC endpoint; empty disables the probe
	IntegrityURL string `yaml:"integrity_url"`
}

type StrategyConfig struct {
	FailoverEnabled   bool     `yaml:"failover_enabled"`
	ReplicaEndpoints  []string `yaml:"replica_endpoints"`
	BackupLocations   []string `yaml:"backup_locations"`
	DegradationLevel  string   `yaml:"degradation_level"`
	Dependencies      []string `yaml:"dependencies"`
	CircuitThreshold  int      `yaml:"circuit_threshold"`
	CDNBackupRegions  []string `yaml:"cdn_backup_regions"`
	AutoscaleGroup    string   `yaml:"autoscale_group"`
	LoadBalancerGroup string   `yaml:"load_balancer_group"`
}

type PrioritiesConfig struct {
	// EmergencyCriticalComponents force critical severity and the
	// critical-operations impact flag when affected
	EmergencyCriticalComponents []string `yaml:"emergency_critical_components"`
	// ComplianceComponents route escalations to the compliance tier first
	ComplianceComponents   []string      `yaml:"compliance_components"`
	CriticalDataCategories []string      `yaml:"critical_data_categories"`
	MaxTolerableDowntime   time.Duration `yaml:"max_tolerable_downtime"`
	SafetyProtocols        []string      `yaml:"safety_protocols"`
}

type ObjectivesConfig struct {
	// RTOMinutes is the target recovery time; it seeds the recovery
	// estimate, not a hard guarantee
	RTOMinutes int `yaml:"rto_minutes"`
	// RPOMinutes is the target recovery point
	RPOMinutes int `yaml:"rpo_minutes"`
	// MaxDataLossWindow is the maximum tolerable data loss
	MaxDataLossWindow time.Duration `yaml:"max_data_loss_window"`
}

type BackupConfig struct {
	CadenceHours  int      `yaml:"cadence_hours"`
	RetentionDays int      `yaml:"retention_days"`
	Locations     []string `yaml:"locations"`
}

type EscalationConfig struct {
	// Tiers are walked in order with increasing delay; compliance fires
	// first for compliance-relevant events
	Tiers []TierConfig `yaml:"tiers"`
	// ComplianceDelay is the (shortest) delay before the compliance tier
	// is notified
	ComplianceDelay time.Duration `yaml:"compliance_delay"`
}

type TierConfig struct {
	Name  string        `yaml:"name"` // primary, secondary, executive
	Delay time.Duration `yaml:"delay"`
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides, and validates required fields before anything else starts.
func Load(path string) (*RecoveryConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg RecoveryConfiguration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RecoveryConfiguration) applyDefaults() {
	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 30 * time.Second
	}
	if c.Monitor.ProbeTimeout == 0 {
		c.Monitor.ProbeTimeout = 5 * time.Second
	}
	if c.Monitor.SettleDelay == 0 {
		c.Monitor.SettleDelay = 10 * time.Second
	}
	if c.Monitor.CooldownWindow == 0 {
		c.Monitor.CooldownWindow = 5 * time.Minute
	}
	if c.Objectives.RTOMinutes == 0 {
		c.Objectives.RTOMinutes = 30
	}
	if c.Objectives.RPOMinutes == 0 {
		c.Objectives.RPOMinutes = 15
	}
	if c.DowntimeCostPerMinute == "" {
		c.DowntimeCostPerMinute = "0"
	}
	if len(c.Escalation.Tiers) == 0 {
		c.Escalation.Tiers = []TierConfig{
			{Name: "primary", Delay: 0},
			{Name: "secondary", Delay: 15 * time.Minute},
			{Name: "executive", Delay: time.Hour},
		}
	}
	if c.Escalation.ComplianceDelay == 0 {
		c.Escalation.ComplianceDelay = time.Minute
	}
}

func (c *RecoveryConfiguration) applyEnv() {
	if v := os.Getenv("DR_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Monitor.Interval = d
		}
	}
	if v := os.Getenv("DR_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Monitor.ProbeTimeout = d
		}
	}
	if v := os.Getenv("DR_RTO_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Objectives.RTOMinutes = n
		}
	}
}

// Validate rejects configurations that would otherwise fail at first use
func (c *RecoveryConfiguration) Validate() error {
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if c.Monitor.ProbeTimeout < 3*time.Second || c.Monitor.ProbeTimeout > 10*time.Second {
		return fmt.Errorf("monitor.probe_timeout must be between 3s and 10s, got %s", c.Monitor.ProbeTimeout)
	}
	if c.Objectives.RTOMinutes <= 0 {
		return fmt.Errorf("objectives.rto_minutes must be positive")
	}
	if c.Objectives.RPOMinutes <= 0 {
		return fmt.Errorf("objectives.rpo_minutes must be positive")
	}
	if len(c.Escalation.Tiers) == 0 {
		return fmt.Errorf("escalation.tiers must not be empty")
	}
	seen := make(map[string]bool)
	for _, tier := range c.Escalation.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("escalation tier with empty name")
		}
		if seen[tier.Name] {
			return fmt.Errorf("duplicate escalation tier %q", tier.Name)
		}
		seen[tier.Name] = true
	}
	return nil
}

// ComponentsFor returns the components covered by a failure domain,
// falling back to the domain name itself when unmapped
func (c *RecoveryConfiguration) ComponentsFor(domain string) []string {
	if comps, ok := c.ComponentMap[domain]; ok && len(comps) > 0 {
		return append([]string(nil), comps...)
	}
	return []string{domain}
}

// IsEmergencyCritical reports whether any component is in the configured
// emergency-critical set
func (c *RecoveryConfiguration) IsEmergencyCritical(components []string) bool {
	return intersects(components, c.Priorities.EmergencyCriticalComponents)
}

// IsComplianceRelevant reports whether any component is compliance-tagged
func (c *RecoveryConfiguration) IsComplianceRelevant(components []string) bool {
	return intersects(components, c.Priorities.ComplianceComponents)
}

// StrategyFor returns the per-domain strategy, zero value when unconfigured
func (c *RecoveryConfiguration) StrategyFor(domain string) StrategyConfig {
	return c.Strategies[domain]
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	for _, s := range a {
		if set[s] {
			return true
		}
	}
	return false
}
