package db

import (
	"context"
	"fmt"
	"time"
)

// Company, Organization, and Network are consumed read-only here; a full
// deployment owns their CRUD in the permission/tenant collaborator (§1).
// They're modeled minimally so this module can be exercised standalone.

type Company struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

type Organization struct {
	ID        int64
	Name      string
	CompanyID int64
	OwnerID   int64
	CreatedAt time.Time
}

type Network struct {
	ID             int64
	Name           string
	OrganizationID int64
	CreatedAt      time.Time
}

func (q *Queries) GetCompany(ctx context.Context, id int64) (Company, error) {
	var c Company
	err := q.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM companies WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		return Company{}, fmt.Errorf("getting company %d: %w", id, err)
	}
	return c, nil
}

func (q *Queries) GetOrganization(ctx context.Context, id int64) (Organization, error) {
	var o Organization
	err := q.db.QueryRow(ctx,
		`SELECT id, name, company_id, owner_id, created_at FROM organizations WHERE id = $1`, id,
	).Scan(&o.ID, &o.Name, &o.CompanyID, &o.OwnerID, &o.CreatedAt)
	if err != nil {
		return Organization{}, fmt.Errorf("getting organization %d: %w", id, err)
	}
	return o, nil
}

func (q *Queries) GetNetwork(ctx context.Context, id int64) (Network, error) {
	var n Network
	err := q.db.QueryRow(ctx,
		`SELECT id, name, organization_id, created_at FROM networks WHERE id = $1`, id,
	).Scan(&n.ID, &n.Name, &n.OrganizationID, &n.CreatedAt)
	if err != nil {
		return Network{}, fmt.Errorf("getting network %d: %w", id, err)
	}
	return n, nil
}

// ListNetworksByOrganization returns every network belonging to an organization.
func (q *Queries) ListNetworksByOrganization(ctx context.Context, orgID int64) ([]Network, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, name, organization_id, created_at FROM networks WHERE organization_id = $1 ORDER BY id`, orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing networks for organization %d: %w", orgID, err)
	}
	defer rows.Close()

	var out []Network
	for rows.Next() {
		var n Network
		if err := rows.Scan(&n.ID, &n.Name, &n.OrganizationID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning network row: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListNetworksWithDevices returns the IDs of every network that owns at
// least one device, for the Background Sweeper (§4.G step 1).
func (q *Queries) ListNetworksWithDevices(ctx context.Context) ([]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT DISTINCT network_id FROM devices ORDER BY network_id`)
	if err != nil {
		return nil, fmt.Errorf("listing networks with devices: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning network id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
