package ops

import (
	"context"
	"sync"
)

// Operation names recorded by the Fake
const (
	OpReconnectDatabase = "reconnect_database"
	OpFailoverDatabase  = "failover_database"
	OpRestoreBackup     = "restore_backup"
	OpRestartService    = "restart_service"
	OpRollbackService   = "rollback_service"
	OpStopService       = "stop_service"
	OpStartService      = "start_service"
	OpEnableDegradation = "enable_degradation"
	OpSwitchLB          = "switch_load_balancer"
	OpActivateCDN       = "activate_cdn_region"
	OpTriggerAutoscale  = "trigger_autoscale"
	OpIsolateComponent  = "isolate_component"
	OpVerifyIntegrity   = "verify_integrity"
	OpBackupDatabase    = "backup_database"
)

// Fake is a scripted Interface implementation returning canned results,
// used by tests to exercise fallback chains without an operations plane
type Fake struct {
	mu sync.Mutex
	// Results maps operation name to the error it returns; missing
	// entries succeed
	Results map[string]error
	// PanicOn names an operation that panics instead of returning
	PanicOn string
	// BackupID is returned by BackupDatabase
	BackupID string

	calls []string
}

func NewFake() *Fake {
	return &Fake{Results: make(map[string]error), BackupID: "backup-001"}
}

// Calls returns the ordered operation names invoked so far
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) invoke(name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	panicOn := f.PanicOn
	err := f.Results[name]
	f.mu.Unlock()

	if name == panicOn {
		panic("scripted panic in " + name)
	}
	return err
}

func (f *Fake) ReconnectDatabase(ctx context.Context) error { return f.invoke(OpReconnectDatabase) }
func (f *Fake) FailoverDatabase(ctx context.Context, replica string) error {
	return f.invoke(OpFailoverDatabase)
}
func (f *Fake) RestoreBackup(ctx context.Context, class string) error {
	return f.invoke(OpRestoreBackup + ":" + class)
}
func (f *Fake) RestartService(ctx context.Context, service string) error {
	return f.invoke(OpRestartService)
}
func (f *Fake) RollbackService(ctx context.Context, service string) error {
	return f.invoke(OpRollbackService)
}
func (f *Fake) StopService(ctx context.Context, service string) error {
	return f.invoke(OpStopService)
}
func (f *Fake) StartService(ctx context.Context, service string) error {
	return f.invoke(OpStartService)
}
func (f *Fake) EnableDegradation(ctx context.Context, service, level string) error {
	return f.invoke(OpEnableDegradation)
}
func (f *Fake) SwitchLoadBalancer(ctx context.Context, group string) error {
	return f.invoke(OpSwitchLB)
}
func (f *Fake) ActivateCDNRegion(ctx context.Context, region string) error {
	return f.invoke(OpActivateCDN)
}
func (f *Fake) TriggerAutoscale(ctx context.Context, group string) error {
	return f.invoke(OpTriggerAutoscale)
}
func (f *Fake) IsolateComponent(ctx context.Context, component string) error {
	return f.invoke(OpIsolateComponent)
}
func (f *Fake) VerifyIntegrity(ctx context.Context) error { return f.invoke(OpVerifyIntegrity) }

func (f *Fake) BackupDatabase(ctx context.Context) (string, error) {
	if err := f.invoke(OpBackupDatabase); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.BackupID, nil
}
