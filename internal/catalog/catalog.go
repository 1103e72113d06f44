// Package catalog defines the fixed, ordered set of entity types the connector
// is asked to export, together with how each one is stored and compared.
package catalog

import (
	"errors"
	"fmt"
	"math"

	"qbwc-sync/internal/models"
)

// EqualFunc reports whether a stored value and an incoming value are equal.
type EqualFunc func(stored, incoming any) bool

// Descriptor describes one entity type: its query, where it lives and which
// fields take part in change detection.
type Descriptor struct {
	EntityType string
	Collection string
	KeyField   string
	// Fields enumerates the comparable non-key fields in diff order. When empty
	// the record's own keys are compared in sorted order.
	Fields []string
	// Equal overrides structural equality for individual fields.
	Equal map[string]EqualFunc
	Query string
}

// Catalog is an ordered, immutable list of descriptors.
type Catalog struct {
	entries []Descriptor
	byType  map[string]int
}

// New validates descriptors and builds a catalog preserving their order.
func New(descs ...Descriptor) (*Catalog, error) {
	c := &Catalog{byType: make(map[string]int, len(descs))}
	for i, d := range descs {
		if d.EntityType == "" {
			return nil, fmt.Errorf("descriptor %d: entity type is required", i)
		}
		if d.Collection == "" || d.KeyField == "" {
			return nil, fmt.Errorf("descriptor %s: collection and key field are required", d.EntityType)
		}
		if _, dup := c.byType[d.EntityType]; dup {
			return nil, fmt.Errorf("descriptor %s: duplicate entity type", d.EntityType)
		}
		c.byType[d.EntityType] = len(c.entries)
		c.entries = append(c.entries, d)
	}
	if len(c.entries) == 0 {
		return nil, errors.New("catalog is empty")
	}
	return c, nil
}

// Lookup returns the descriptor for an entity type.
func (c *Catalog) Lookup(entityType string) (Descriptor, bool) {
	i, ok := c.byType[entityType]
	if !ok {
		return Descriptor{}, false
	}
	return c.entries[i], true
}

// Len is the number of configured entity types.
func (c *Catalog) Len() int { return len(c.entries) }

// Descriptors returns a copy of the catalog in dispatch order.
func (c *Catalog) Descriptors() []Descriptor {
	out := make([]Descriptor, len(c.entries))
	copy(out, c.entries)
	return out
}

// Jobs returns the full job list for a fresh session.
func (c *Catalog) Jobs() []models.QueryJob {
	jobs := make([]models.QueryJob, 0, len(c.entries))
	for _, d := range c.entries {
		jobs = append(jobs, models.QueryJob{EntityType: d.EntityType, Payload: d.Query})
	}
	return jobs
}

// FloatEqual treats two numbers as equal when they differ by at most epsilon.
// Non-numeric values never match.
func FloatEqual(epsilon float64) EqualFunc {
	return func(stored, incoming any) bool {
		a, ok1 := toFloat(stored)
		b, ok2 := toFloat(incoming)
		if !ok1 || !ok2 {
			return stored == nil && incoming == nil
		}
		return math.Abs(a-b) <= epsilon
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// Default is the catalog the connector runs with: five list types keyed by ListID.
func Default() *Catalog {
	c, err := New(
		Descriptor{
			EntityType: models.EntityCustomer,
			Collection: "Customer-Job",
			KeyField:   "ListID",
			Fields:     []string{"Full Name", "Bill To", "Job Name", "IsActive", "Class", "Job Type", "Customer Name"},
			Query:      customerQuery,
		},
		Descriptor{
			EntityType: models.EntityEmployee,
			Collection: "Employees",
			KeyField:   "ListID",
			Fields: []string{
				"Name", "FirstName", "LastName", "IsActive",
				"PrimaryEarningsRate", "PrimaryHourlyRate", "PrimaryRateType",
				"AllEarningsRates", "EarningsCount", "WorkCompCode", "PayPeriod", "ClassName",
			},
			Query: employeeQuery,
		},
		Descriptor{
			EntityType: models.EntityVendor,
			Collection: "Vendors",
			KeyField:   "ListID",
			Fields: []string{
				"Name", "CompanyName", "IsActive", "VendorTaxIdent",
				"IsVendorEligibleFor1099", "Terms", "Balance", "Address",
			},
			Equal: map[string]EqualFunc{"Balance": FloatEqual(0.005)},
			Query: vendorQuery,
		},
		// Item fields depend on the item kind, so the record's own keys drive the diff.
		Descriptor{
			EntityType: models.EntityItem,
			Collection: "Items",
			KeyField:   "ListID",
			Query:      itemQuery,
		},
		Descriptor{
			EntityType: models.EntityPriceLevel,
			Collection: "PriceLevels",
			KeyField:   "ListID",
			Fields:     []string{"Name", "IsActive", "PriceLevelType", "PriceLevelFixedPercentage", "PriceLevelPerItemRet"},
			Query:      priceLevelQuery,
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}
