package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/sales-kpi-engine/sales"
)

// =============================================================================
// REGISTRY STORE (sales.RegistryStore interface)
// =============================================================================

// SaveRegion inserts or replaces a region.
func (s *Store) SaveRegion(ctx context.Context, r sales.Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO regions (id, code, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET code = excluded.code, name = excluded.name
	`, r.ID, r.Code, r.Name)
	if err != nil {
		return fmt.Errorf("failed to save region: %w", err)
	}
	return nil
}

// SaveCustomer inserts or replaces a customer.
func (s *Store) SaveCustomer(ctx context.Context, c sales.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, code, name, email, region_id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			email = excluded.email,
			region_id = excluded.region_id
	`, c.ID, c.Code, c.Name, c.Email, c.RegionID)
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

// SaveProduct inserts or replaces a product.
func (s *Store) SaveProduct(ctx context.Context, p sales.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, code, name, category, list_price) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			category = excluded.category,
			list_price = excluded.list_price
	`, p.ID, p.Code, p.Name, p.Category, p.ListPrice.String())
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// Regions returns all regions ordered by id.
func (s *Store) Regions(ctx context.Context) ([]sales.Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name FROM regions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query regions: %w", err)
	}
	defer rows.Close()

	var regions []sales.Region
	for rows.Next() {
		var r sales.Region
		if err := rows.Scan(&r.ID, &r.Code, &r.Name); err != nil {
			return nil, fmt.Errorf("failed to scan region: %w", err)
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// Customers returns all customers ordered by id.
func (s *Store) Customers(ctx context.Context) ([]sales.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name, email, region_id FROM customers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []sales.Customer
	for rows.Next() {
		var (
			c        sales.Customer
			name     sql.NullString
			email    sql.NullString
			regionID sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.Code, &name, &email, &regionID); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		c.Name = stringPtr(name)
		c.Email = stringPtr(email)
		c.RegionID = int64Ptr(regionID)
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// Products returns all products ordered by id.
func (s *Store) Products(ctx context.Context) ([]sales.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name, category, list_price FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []sales.Product
	for rows.Next() {
		var (
			p     sales.Product
			price string
		)
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Category, &price); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		if p.ListPrice, err = parseDecimal(price); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
