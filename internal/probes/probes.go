// Package probes defines the health checks the monitor runs each tick.
package probes

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
)

// Failure domains recognized by the classifier
const (
	DomainDatabase       = "database"
	DomainService        = "service"
	DomainInfrastructure = "infrastructure"
	DomainDataIntegrity  = "data_integrity"
	DomainSecurity       = "security"
	DomainCompliance     = "compliance"
)

// Probe is a single health check. Check must respect ctx deadlines; a
// returned error means the probed dependency is unhealthy.
type Probe interface {
	Domain() string
	Name() string
	Check(ctx context.Context) error
}

// Failure is one failing probe observed during a monitor tick
type Failure struct {
	Domain string
	Probe  string
	Err    error
	// Internal marks a fault in the monitoring machinery itself rather
	// than in a probed system. Internal failures are recorded but never
	// drive a recovery chain.
	Internal bool
}

// DatabaseProbe verifies a trivial row can be read from the primary
type DatabaseProbe struct {
	db   *sql.DB
	name string
}

func NewDatabaseProbe(db *sql.DB, name string) *DatabaseProbe {
	return &DatabaseProbe{db: db, name: name}
}

func (p *DatabaseProbe) Domain() string { return DomainDatabase }
func (p *DatabaseProbe) Name() string   { return p.name }

func (p *DatabaseProbe) Check(ctx context.Context) error {
	var one int
	if err := p.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database read check failed: %w", err)
	}
	return nil
}

// ServiceProbe hits a per-service health endpoint and expects a 2xx
type ServiceProbe struct {
	name   string
	url    string
	client *http.Client
}

func NewServiceProbe(name, url string, client *http.Client) *ServiceProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return &ServiceProbe{name: name, url: url, client: client}
}

func (p *ServiceProbe) Domain() string { return DomainService }
func (p *ServiceProbe) Name() string   { return p.name }

func (p *ServiceProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("service %s unreachable: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("service %s unhealthy: status %d", p.name, resp.StatusCode)
	}
	return nil
}

// InfrastructureProbe checks reachability of an infrastructure endpoint
// (load balancer, CDN edge)
type InfrastructureProbe struct {
	name   string
	url    string
	client *http.Client
}

func NewInfrastructureProbe(name, url string, client *http.Client) *InfrastructureProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return &InfrastructureProbe{name: name, url: url, client: client}
}

func (p *InfrastructureProbe) Domain() string { return DomainInfrastructure }
func (p *InfrastructureProbe) Name() string   { return p.name }

func (p *InfrastructureProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("infrastructure %s unreachable: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("infrastructure %s unhealthy: status %d", p.name, resp.StatusCode)
	}
	return nil
}

// IntegrityProbe asks the data-integrity RPC whether stored data is clean
type IntegrityProbe struct {
	name   string
	url    string
	client *http.Client
}

func NewIntegrityProbe(name, url string, client *http.Client) *IntegrityProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return &IntegrityProbe{name: name, url: url, client: client}
}

func (p *IntegrityProbe) Domain() string { return DomainDataIntegrity }
func (p *IntegrityProbe) Name() string   { return p.name }

func (p *IntegrityProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("integrity check unreachable: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Clean   bool   `json:"clean"`
		Details string `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("integrity check returned malformed response: %w", err)
	}
	if !result.Clean {
		return fmt.Errorf("data integrity check reports corruption: %s", result.Details)
	}
	return nil
}
