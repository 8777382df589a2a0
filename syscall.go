package vatstore

import (
	"context"
	"slices"
)

// Syscall is the vat's outbound channel to the kernel. A reap makes each
// call at most once, with a sorted, de-duplicated batch of vrefs.
type Syscall interface {
	// DropImports tells the kernel the vat can no longer reach the imports.
	DropImports(ctx context.Context, vrefs []string) error
	// RetireImports tells the kernel the vat can no longer recognize the imports.
	RetireImports(ctx context.Context, vrefs []string) error
	// RetireExports tells the kernel the exports it still recognized are gone.
	RetireExports(ctx context.Context, vrefs []string) error
}

// NoopSyscall discards every notification.
type NoopSyscall struct{}

func (NoopSyscall) DropImports(context.Context, []string) error   { return nil }
func (NoopSyscall) RetireImports(context.Context, []string) error { return nil }
func (NoopSyscall) RetireExports(context.Context, []string) error { return nil }

// SyscallLog records the notifications it receives.
type SyscallLog struct {
	Calls []SyscallRecord
}

// SyscallRecord is one recorded notification.
type SyscallRecord struct {
	Op    string
	VRefs []string
}

func (l *SyscallLog) record(op string, vrefs []string) error {
	l.Calls = append(l.Calls, SyscallRecord{Op: op, VRefs: slices.Clone(vrefs)})
	return nil
}

func (l *SyscallLog) DropImports(_ context.Context, vrefs []string) error {
	return l.record("dropImports", vrefs)
}

func (l *SyscallLog) RetireImports(_ context.Context, vrefs []string) error {
	return l.record("retireImports", vrefs)
}

func (l *SyscallLog) RetireExports(_ context.Context, vrefs []string) error {
	return l.record("retireExports", vrefs)
}

// Reset forgets the recorded calls.
func (l *SyscallLog) Reset() { l.Calls = nil }
