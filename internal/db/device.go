package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Device mirrors the `devices` table (§3 Device, §4.E Result Reconciler).
type Device struct {
	ID               int64
	IP               string
	NetworkID        int64
	CompanyID        int64
	OwnerID          int64
	Name             string
	Type             string
	Platform         string
	OSVersion        string
	Serial           string
	Credentials      json.RawMessage
	PingStatus       bool
	SNMPStatus       bool
	SSHStatus        bool
	DiscoveryMethod  string
	LastStatusCheck  pgtype.Timestamptz
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const deviceColumns = `id, ip, network_id, company_id, owner_id, name, type, platform, os_version,
	serial, credentials, ping_status, snmp_status, ssh_status, discovery_method, last_status_check,
	created_at, updated_at`

func scanDevice(row pgx.Row) (Device, error) {
	var d Device
	err := row.Scan(
		&d.ID, &d.IP, &d.NetworkID, &d.CompanyID, &d.OwnerID, &d.Name, &d.Type, &d.Platform, &d.OSVersion,
		&d.Serial, &d.Credentials, &d.PingStatus, &d.SNMPStatus, &d.SSHStatus, &d.DiscoveryMethod, &d.LastStatusCheck,
		&d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func (q *Queries) GetDevice(ctx context.Context, id int64) (Device, error) {
	d, err := scanDevice(q.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
	if err != nil {
		return Device{}, err // caller checks errors.Is(err, pgx.ErrNoRows)
	}
	return d, nil
}

func (q *Queries) GetDeviceByNetworkIP(ctx context.Context, networkID int64, ip string) (Device, error) {
	d, err := scanDevice(q.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE network_id = $1 AND ip = $2`, networkID, ip))
	if err != nil {
		return Device{}, err // caller checks errors.Is(err, pgx.ErrNoRows)
	}
	return d, nil
}

func (q *Queries) ListDevicesByNetwork(ctx context.Context, networkID int64) ([]Device, error) {
	rows, err := q.db.Query(ctx, `SELECT `+deviceColumns+` FROM devices WHERE network_id = $1 ORDER BY id`, networkID)
	if err != nil {
		return nil, fmt.Errorf("listing devices for network %d: %w", networkID, err)
	}
	defer rows.Close()
	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertDeviceParams carries the normalized fields a reconciled report writes.
// Credentials is left nil to preserve whatever is already stored (§4.E step 1:
// "treat missing credentials as preserved-from-existing").
type UpsertDeviceParams struct {
	NetworkID       int64
	IP              string
	CompanyID       int64
	OwnerID         int64
	Name            string
	Type            string
	Platform        string
	OSVersion       string
	Serial          string
	Credentials     json.RawMessage
	PingStatus      bool
	SNMPStatus      bool
	SSHStatus       bool
	DiscoveryMethod string
}

// UpsertDevice inserts or updates a device keyed by (network_id, ip) (§3
// Device invariant). discovery_method is only ever upgraded, never
// regressed: manual -> auto/refresh is allowed, the reverse is not (§4.E
// "Key policy").
func (q *Queries) UpsertDevice(ctx context.Context, p UpsertDeviceParams) (Device, error) {
	d, err := scanDevice(q.db.QueryRow(ctx, `
		INSERT INTO devices (ip, network_id, company_id, owner_id, name, type, platform, os_version,
			serial, credentials, ping_status, snmp_status, ssh_status, discovery_method, last_status_check)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		ON CONFLICT (network_id, ip) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			platform = EXCLUDED.platform,
			os_version = EXCLUDED.os_version,
			serial = EXCLUDED.serial,
			credentials = COALESCE(EXCLUDED.credentials, devices.credentials),
			ping_status = EXCLUDED.ping_status,
			snmp_status = EXCLUDED.snmp_status,
			ssh_status = EXCLUDED.ssh_status,
			discovery_method = CASE
				WHEN devices.discovery_method = 'auto' THEN 'auto'
				ELSE EXCLUDED.discovery_method
			END,
			last_status_check = now(),
			updated_at = now()
		RETURNING `+deviceColumns,
		p.IP, p.NetworkID, p.CompanyID, p.OwnerID, p.Name, p.Type, p.Platform, p.OSVersion,
		p.Serial, p.Credentials, p.PingStatus, p.SNMPStatus, p.SSHStatus, p.DiscoveryMethod,
	))
	if err != nil {
		return Device{}, fmt.Errorf("upserting device %s/%d: %w", p.IP, p.NetworkID, err)
	}
	return d, nil
}

// DeviceSNMPConfig mirrors `device_snmp_configs` (§3 DeviceSNMPConfig).
type DeviceSNMPConfig struct {
	DeviceID   int64
	Version    string
	Community  *string
	V3Username *string
	V3AuthKey  *string
	V3PrivKey  *string
	Port       int
	UpdatedAt  time.Time
}

type UpsertDeviceSNMPConfigParams struct {
	DeviceID   int64
	Version    string
	Community  *string
	V3Username *string
	V3AuthKey  *string
	V3PrivKey  *string
	Port       int
}

func (q *Queries) UpsertDeviceSNMPConfig(ctx context.Context, p UpsertDeviceSNMPConfigParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO device_snmp_configs (device_id, version, community, v3_username, v3_auth_key, v3_priv_key, port, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (device_id) DO UPDATE SET
			version = EXCLUDED.version,
			community = EXCLUDED.community,
			v3_username = EXCLUDED.v3_username,
			v3_auth_key = EXCLUDED.v3_auth_key,
			v3_priv_key = EXCLUDED.v3_priv_key,
			port = EXCLUDED.port,
			updated_at = now()`,
		p.DeviceID, p.Version, p.Community, p.V3Username, p.V3AuthKey, p.V3PrivKey, p.Port,
	)
	if err != nil {
		return fmt.Errorf("upserting snmp config for device %d: %w", p.DeviceID, err)
	}
	return nil
}

func (q *Queries) GetDeviceSNMPConfig(ctx context.Context, deviceID int64) (DeviceSNMPConfig, error) {
	var c DeviceSNMPConfig
	err := q.db.QueryRow(ctx, `
		SELECT device_id, version, community, v3_username, v3_auth_key, v3_priv_key, port, updated_at
		FROM device_snmp_configs WHERE device_id = $1`, deviceID,
	).Scan(&c.DeviceID, &c.Version, &c.Community, &c.V3Username, &c.V3AuthKey, &c.V3PrivKey, &c.Port, &c.UpdatedAt)
	if err != nil {
		return DeviceSNMPConfig{}, err // caller checks errors.Is(err, pgx.ErrNoRows)
	}
	return c, nil
}

// DeviceTopology mirrors `device_topologies` (§3 DeviceTopology).
type UpsertDeviceTopologyParams struct {
	DeviceID   int64
	Vendor     string
	Model      string
	Hostname   string
	UptimeSecs int64
	HealthData json.RawMessage
}

func (q *Queries) UpsertDeviceTopology(ctx context.Context, p UpsertDeviceTopologyParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO device_topologies (device_id, vendor, model, hostname, uptime_secs, last_polled, health_data, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), $6, now())
		ON CONFLICT (device_id) DO UPDATE SET
			vendor = EXCLUDED.vendor,
			model = EXCLUDED.model,
			hostname = EXCLUDED.hostname,
			uptime_secs = EXCLUDED.uptime_secs,
			last_polled = now(),
			health_data = EXCLUDED.health_data,
			updated_at = now()`,
		p.DeviceID, p.Vendor, p.Model, p.Hostname, p.UptimeSecs, p.HealthData,
	)
	if err != nil {
		return fmt.Errorf("upserting topology for device %d: %w", p.DeviceID, err)
	}
	return nil
}
