package catalog

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/creditgate/pkg/orgs"
)

// Catalog bundles the feature cost table and the plan catalog
type Catalog struct {
	Features *FeatureTable
	Plans    *PlanCatalog
}

// Source supplies the catalog in effect for one operation
type Source interface {
	Current() *Catalog
}

type staticSource struct {
	catalog *Catalog
}

// Static returns a Source that always yields c
func Static(c *Catalog) Source {
	return staticSource{catalog: c}
}

func (s staticSource) Current() *Catalog {
	return s.catalog
}

// AtomicSource is a Source whose catalog can be swapped at runtime
type AtomicSource struct {
	current atomic.Pointer[Catalog]
}

// NewAtomicSource creates a source holding initial
func NewAtomicSource(initial *Catalog) *AtomicSource {
	s := &AtomicSource{}
	s.current.Store(initial)
	return s
}

// Current returns the catalog most recently stored
func (s *AtomicSource) Current() *Catalog {
	return s.current.Load()
}

// Store publishes c to subsequent Current calls
func (s *AtomicSource) Store(c *Catalog) {
	s.current.Store(c)
}

// DefaultFeatures is the hospital feature set shipped with the service
func DefaultFeatures() []Feature {
	return []Feature{
		{ID: "equipment_diagnosis", Credits: 5, Description: "Equipment fault diagnosis assistant", DescriptionLocalized: "مساعد تشخيص أعطال الأجهزة"},
		{ID: "manual_summarization", Credits: 3, Description: "Service manual summarization", DescriptionLocalized: "تلخيص دليل الخدمة"},
		{ID: "maintenance_schedule", Credits: 4, Description: "Preventive maintenance schedule generation", DescriptionLocalized: "إنشاء جدول الصيانة الوقائية"},
		{ID: "dispute_draft", Credits: 2, Description: "Vendor dispute letter draft", DescriptionLocalized: "مسودة خطاب نزاع مع المورد"},
		{ID: "report_analysis", Credits: 6, Description: "Maintenance report analysis", DescriptionLocalized: "تحليل تقارير الصيانة"},
	}
}

// DefaultPlans is the plan tier table shipped with the service
func DefaultPlans() []Plan {
	return []Plan{
		{Tier: orgs.PlanBasic, DisplayName: "Basic", MonthlyCredits: 100},
		{Tier: orgs.PlanProfessional, DisplayName: "Professional", MonthlyCredits: 500},
		{Tier: orgs.PlanEnterprise, DisplayName: "Enterprise", MonthlyCredits: 2000},
	}
}

// DefaultCycles maps each billing cycle to its length in months
func DefaultCycles() map[orgs.BillingCycle]int {
	return map[orgs.BillingCycle]int{
		orgs.CycleMonthly:   1,
		orgs.CycleQuarterly: 3,
		orgs.CycleAnnual:    12,
	}
}

// New builds a validated catalog
func New(features []Feature, plans []Plan, cycles map[orgs.BillingCycle]int) (*Catalog, error) {
	ft, err := NewFeatureTable(features)
	if err != nil {
		return nil, fmt.Errorf("invalid feature table: %w", err)
	}
	pc, err := NewPlanCatalog(plans, cycles)
	if err != nil {
		return nil, fmt.Errorf("invalid plan catalog: %w", err)
	}
	return &Catalog{Features: ft, Plans: pc}, nil
}

// Default returns the built-in catalog
func Default() *Catalog {
	c, err := New(DefaultFeatures(), DefaultPlans(), DefaultCycles())
	if err != nil {
		panic(fmt.Sprintf("default catalog is invalid: %v", err))
	}
	return c
}

// fileFormat is the YAML layout of a catalog file. Sections that are
// omitted fall back to the defaults.
type fileFormat struct {
	Features []Feature                 `yaml:"features"`
	Plans    []Plan                    `yaml:"plans"`
	Cycles   map[orgs.BillingCycle]int `yaml:"cycles"`
}

// Parse builds a catalog from YAML data
func Parse(data []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if f.Features == nil {
		f.Features = DefaultFeatures()
	}
	if f.Plans == nil {
		f.Plans = DefaultPlans()
	}
	if f.Cycles == nil {
		f.Cycles = DefaultCycles()
	}
	return New(f.Features, f.Plans, f.Cycles)
}

// LoadFile reads and parses a catalog YAML file
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}
