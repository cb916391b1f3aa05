package dto

import "github.com/Additional-Code/foodpass/internal/entity"

// VendorResponse is a vendor with its current availability.
type VendorResponse struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Status string `json:"status"`
}

// NewVendorResponse converts a vendor without exposing its pickup PIN.
func NewVendorResponse(vendor *entity.Vendor) VendorResponse {
	return VendorResponse{ID: vendor.ID, Name: vendor.Name, Active: vendor.Active, Status: string(vendor.Status)}
}

// MenuItemResponse is one menu entry.
type MenuItemResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	PriceCents  int64  `json:"priceCents"`
	Available   bool   `json:"available"`
	MaxPerOrder *int   `json:"maxPerOrder,omitempty"`
}

// MenuResponse is a vendor together with its menu.
type MenuResponse struct {
	Vendor VendorResponse     `json:"vendor"`
	Items  []MenuItemResponse `json:"items"`
}

// NewMenuResponse converts a vendor and its items.
func NewMenuResponse(vendor *entity.Vendor, items []*entity.MenuItem) MenuResponse {
	out := MenuResponse{Vendor: NewVendorResponse(vendor), Items: make([]MenuItemResponse, 0, len(items))}
	for _, item := range items {
		out.Items = append(out.Items, MenuItemResponse{
			ID:          item.ID,
			Name:        item.Name,
			Category:    item.Category,
			PriceCents:  item.PriceCents,
			Available:   item.Available,
			MaxPerOrder: item.MaxPerOrder,
		})
	}
	return out
}
