package catalog

import (
	"fmt"
	"sort"

	"github.com/platinummonkey/creditgate/pkg/apperr"
)

// Feature describes one metered AI feature and its fixed credit cost
type Feature struct {
	ID                   string `yaml:"id" json:"id"`
	Credits              int64  `yaml:"credits" json:"credits"`
	Description          string `yaml:"description" json:"description"`
	DescriptionLocalized string `yaml:"description_localized,omitempty" json:"descriptionLocalized,omitempty"`
}

// FeatureTable is a read-only mapping from feature id to cost
type FeatureTable struct {
	features map[string]Feature
}

// NewFeatureTable validates and indexes features. Every feature needs a
// non-empty unique id and a positive cost.
func NewFeatureTable(features []Feature) (*FeatureTable, error) {
	table := &FeatureTable{features: make(map[string]Feature, len(features))}
	for _, f := range features {
		if f.ID == "" {
			return nil, fmt.Errorf("feature id is required")
		}
		if f.Credits <= 0 {
			return nil, fmt.Errorf("feature %q: credits must be positive, got %d", f.ID, f.Credits)
		}
		if _, exists := table.features[f.ID]; exists {
			return nil, fmt.Errorf("feature %q defined more than once", f.ID)
		}
		table.features[f.ID] = f
	}
	return table, nil
}

// Lookup returns the feature for id or an INVALID_FEATURE error
func (t *FeatureTable) Lookup(id string) (Feature, error) {
	f, ok := t.features[id]
	if !ok {
		return Feature{}, apperr.New(apperr.CodeInvalidFeature).With("featureId", id)
	}
	return f, nil
}

// Features returns every feature ordered by id
func (t *FeatureTable) Features() []Feature {
	out := make([]Feature, 0, len(t.features))
	for _, f := range t.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of features
func (t *FeatureTable) Len() int {
	return len(t.features)
}
