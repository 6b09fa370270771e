package engine

import (
	"fmt"
	"strings"
)

// CycleError is returned when resource references form a cycle. Path holds
// the addresses along the cycle, ending where it started.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// DuplicateResourceError is returned when two declarations share an address.
type DuplicateResourceError struct {
	Address string
}

func (e *DuplicateResourceError) Error() string {
	return fmt.Sprintf("duplicate resource declaration: %s", e.Address)
}

// UnschedulableError indicates wave assignment could not place every change.
// Unreachable for an acyclic graph; kept as a guard against builder defects.
type UnschedulableError struct {
	Remaining []string
}

func (e *UnschedulableError) Error() string {
	return fmt.Sprintf("unschedulable changes (contradictory ordering constraints): %s", strings.Join(e.Remaining, ", "))
}

// DependencyFailedError marks a node skipped because a producer it reads
// from did not reach a terminal success state.
type DependencyFailedError struct {
	Address    string
	Dependency string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("%s skipped: dependency %s failed", e.Address, e.Dependency)
}
