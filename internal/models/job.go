package models

// Entity types known to the connector catalog, in dispatch order.
const (
	EntityCustomer   = "Customer"
	EntityEmployee   = "Employee"
	EntityVendor     = "Vendor"
	EntityItem       = "Item"
	EntityPriceLevel = "PriceLevel"
)

// QueryJob is one query unit handed to the connector for a single entity type.
type QueryJob struct {
	EntityType string `json:"entity_type"`
	Payload    string `json:"payload"`
}
