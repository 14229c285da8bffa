// Package models - project.go defines the Project model with its tier quota table, usage
// counters and the ACTIVE / SUSPENDED / DELETED lifecycle used for soft delete.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProjectStatus is the lifecycle state of a project
type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "ACTIVE"
	ProjectStatusSuspended ProjectStatus = "SUSPENDED"
	ProjectStatusDeleted   ProjectStatus = "DELETED"
)

var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectStatusActive:    {ProjectStatusSuspended, ProjectStatusDeleted},
	ProjectStatusSuspended: {ProjectStatusActive, ProjectStatusDeleted},
	ProjectStatusDeleted:   {ProjectStatusActive},
}

// CanTransitionTo reports whether a project in status s may move to next.
func (s ProjectStatus) CanTransitionTo(next ProjectStatus) bool {
	for _, allowed := range projectTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Tier is a service plan governing project quotas
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierScale      Tier = "scale"
	TierEnterprise Tier = "enterprise"
)

// Unlimited marks a quota with no ceiling.
const Unlimited = -1

// DefaultVectorDimensions is the embedding width new projects start with.
const DefaultVectorDimensions = 1536

// TierLimits holds the quotas for one tier. A value of Unlimited means no limit.
type TierLimits struct {
	MaxProjects       int64 `json:"max_projects"`
	MaxVectors        int64 `json:"max_vectors"`
	MaxTables         int64 `json:"max_tables"`
	MaxEventsPerMonth int64 `json:"max_events_per_month"`
	MaxStorageGB      int64 `json:"max_storage_gb"`
}

var tierLimits = map[Tier]TierLimits{
	TierFree:       {MaxProjects: 3, MaxVectors: 10000, MaxTables: 5, MaxEventsPerMonth: 100000, MaxStorageGB: 1},
	TierPro:        {MaxProjects: 10, MaxVectors: 100000, MaxTables: 50, MaxEventsPerMonth: 1000000, MaxStorageGB: 10},
	TierScale:      {MaxProjects: 50, MaxVectors: 1000000, MaxTables: 500, MaxEventsPerMonth: 10000000, MaxStorageGB: 100},
	TierEnterprise: {MaxProjects: Unlimited, MaxVectors: Unlimited, MaxTables: Unlimited, MaxEventsPerMonth: Unlimited, MaxStorageGB: Unlimited},
}

// LimitsForTier returns the quotas for tier. Unknown tiers get the free limits
// so that unexpected values in the table never fail a request.
func LimitsForTier(tier Tier) TierLimits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[TierFree]
}

// KnownTier reports whether tier has its own row in the quota table.
func KnownTier(tier Tier) bool {
	_, ok := tierLimits[tier]
	return ok
}

// ProjectUsage is a point-in-time view of a project's resource counters
type ProjectUsage struct {
	Vectors        int64
	Tables         int64
	EventsPerMonth int64
	StorageMB      float64
}

// Exceeded returns the names of the quotas usage is over.
func (l TierLimits) Exceeded(u ProjectUsage) []string {
	var over []string
	if l.MaxVectors != Unlimited && u.Vectors > l.MaxVectors {
		over = append(over, "max_vectors")
	}
	if l.MaxTables != Unlimited && u.Tables > l.MaxTables {
		over = append(over, "max_tables")
	}
	if l.MaxEventsPerMonth != Unlimited && u.EventsPerMonth > l.MaxEventsPerMonth {
		over = append(over, "max_events_per_month")
	}
	if l.MaxStorageGB != Unlimited && u.StorageMB > float64(l.MaxStorageGB)*1024 {
		over = append(over, "max_storage_gb")
	}
	return over
}

// AllowsProjects reports whether an owner holding count projects may create another.
func (l TierLimits) AllowsProjects(count int64) bool {
	return l.MaxProjects == Unlimited || count < l.MaxProjects
}

// Project represents a customer workload and its provisioned services
type Project struct {
	ID               string
	Name             string
	Description      *string
	UserID           *string // owner; nil when orphaned
	OrganizationID   *string
	Status           ProjectStatus
	Tier             Tier
	DatabaseEnabled  bool
	VectorDimensions int
	QuantumEnabled   bool
	MCPEnabled       bool
	DatabaseConfig   json.RawMessage
	RailwayProjectID *string
	QdrantURL        *string
	MinioURL         *string
	RedpandaURL      *string
	VectorsCount     int64
	TablesCount      int64
	EventsCount      int64
	MemoryUsageMB    float64
	StorageUsageMB   float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// NewProject returns a project with the creation defaults applied.
func NewProject(name string) *Project {
	return &Project{
		Name:             name,
		Status:           ProjectStatusActive,
		Tier:             TierFree,
		DatabaseEnabled:  true,
		VectorDimensions: DefaultVectorDimensions,
		DatabaseConfig:   json.RawMessage(`{}`),
	}
}

// IsActive is true only when the project is ACTIVE and has not been soft deleted.
func (p *Project) IsActive() bool {
	return p.Status == ProjectStatusActive && p.DeletedAt == nil
}

// Limits returns the quotas for the project's tier.
func (p *Project) Limits() TierLimits {
	return LimitsForTier(p.Tier)
}

// Usage returns the project's current counters.
func (p *Project) Usage() ProjectUsage {
	return ProjectUsage{
		Vectors:        p.VectorsCount,
		Tables:         p.TablesCount,
		EventsPerMonth: p.EventsCount,
		StorageMB:      p.StorageUsageMB,
	}
}

// SoftDelete marks the project DELETED and stamps DeletedAt.
func (p *Project) SoftDelete(now time.Time) error {
	if !p.Status.CanTransitionTo(ProjectStatusDeleted) {
		return fmt.Errorf("project %s: %s -> %s: %w", p.ID, p.Status, ProjectStatusDeleted, ErrInvalidTransition)
	}
	p.Status = ProjectStatusDeleted
	p.DeletedAt = &now
	return nil
}

// Restore returns a soft-deleted project to ACTIVE and clears DeletedAt.
func (p *Project) Restore() error {
	if p.Status != ProjectStatusDeleted {
		return fmt.Errorf("project %s: %s -> %s: %w", p.ID, p.Status, ProjectStatusActive, ErrInvalidTransition)
	}
	p.Status = ProjectStatusActive
	p.DeletedAt = nil
	return nil
}

// SetStatus moves the project between ACTIVE and SUSPENDED. Deletion and
// restoration go through SoftDelete and Restore so DeletedAt stays consistent.
func (p *Project) SetStatus(next ProjectStatus) error {
	if next == ProjectStatusDeleted || p.Status == ProjectStatusDeleted || !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("project %s: %s -> %s: %w", p.ID, p.Status, next, ErrInvalidTransition)
	}
	p.Status = next
	return nil
}
