// Package reconcile implements the Result Reconciler (§4.E): idempotent
// upsert of agent-reported device records into the persistent inventory.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/netreach/controlplane/internal/db"
	"github.com/netreach/controlplane/internal/telemetry"
)

// Discovery method values (§3 Device, §4.E key policy).
const (
	MethodManual  = "manual"
	MethodAuto    = "auto"
	MethodRefresh = "refresh"
)

// legacyCompanyID and legacyOwnerID are the acknowledged legacy defaults used
// when inserting a device the reconciler has never seen before (§4.E step 2,
// §9 design note).
const (
	legacyCompanyID = 1
	legacyOwnerID   = 1
)

// SNMPReport is the optional SNMP mirror an agent attaches to a reported
// device (§3 DeviceSNMPConfig).
type SNMPReport struct {
	Version    string
	Community  *string
	V3Username *string
	V3AuthKey  *string
	V3PrivKey  *string
	Port       int
}

// Report is one device record as returned by an agent's discovery or
// status-test work (§4.E).
type Report struct {
	IP              string
	Name            string
	PingStatus      bool
	SNMPStatus      bool
	SSHStatus       bool
	SNMPDescription string // raw sysDescr, coerced into vendor/model
	Hostname        string
	UptimeString    string // "<n>d <n>h <n>m <n>s"
	Serial          string
	Credentials     json.RawMessage // nil means "preserve existing"
	SNMP            *SNMPReport
	HealthData      json.RawMessage
}

// Outcome records the per-device result of a reconciliation pass.
type Outcome struct {
	IP      string
	Device  db.Device
	Err     error
}

// Service applies reconciliation reports against the inventory tables.
type Service struct {
	q *db.Queries
}

func NewService(q *db.Queries) *Service {
	return &Service{q: q}
}

// ReconcileBatch upserts every report for networkID, keyed by (network_id,
// ip). method is the discovery method this batch was obtained through
// (manual/auto/refresh); the storage layer enforces the upgrade-only policy.
// A single device's failure is isolated into its Outcome and does not abort
// the remaining devices in the batch (§4.E step 5).
// companyID/ownerID should be derived from the reporting agent's own
// principal whenever one is available (§9 design note: the legacy
// company_id=1/owner_id=1 defaults are a known multi-tenancy hazard); pass 0
// to fall back to those legacy defaults when no principal is available.
func (s *Service) ReconcileBatch(ctx context.Context, networkID, companyID, ownerID int64, method string, reports []Report) []Outcome {
	outcomes := make([]Outcome, 0, len(reports))
	for _, r := range reports {
		d, err := s.reconcileOne(ctx, networkID, companyID, ownerID, method, r)
		outcome := "upserted"
		if err != nil {
			outcome = "error"
		}
		telemetry.ReconcileDevicesTotal.WithLabelValues(outcome).Inc()
		outcomes = append(outcomes, Outcome{IP: r.IP, Device: d, Err: err})
	}
	return outcomes
}

func (s *Service) reconcileOne(ctx context.Context, networkID, companyID, ownerID int64, method string, r Report) (db.Device, error) {
	vendor, model := CoerceVendorModel(r.SNMPDescription)
	uptimeSecs, err := ParseUptime(r.UptimeString)
	if err != nil {
		uptimeSecs = 0
	}

	deviceType := "unknown"
	switch {
	case r.SNMPStatus:
		deviceType = "network"
	case r.SSHStatus:
		deviceType = "host"
	}

	if companyID == 0 {
		companyID = legacyCompanyID
	}
	if ownerID == 0 {
		ownerID = legacyOwnerID
	}

	d, err := s.q.UpsertDevice(ctx, db.UpsertDeviceParams{
		NetworkID:       networkID,
		IP:              r.IP,
		CompanyID:       companyID,
		OwnerID:         ownerID,
		Name:            firstNonEmpty(r.Name, r.Hostname, r.IP),
		Type:            deviceType,
		Platform:        vendor,
		OSVersion:       model,
		Serial:          r.Serial,
		Credentials:     r.Credentials,
		PingStatus:      r.PingStatus,
		SNMPStatus:      r.SNMPStatus,
		SSHStatus:       r.SSHStatus,
		DiscoveryMethod: method,
	})
	if err != nil {
		return db.Device{}, fmt.Errorf("upserting device %s: %w", r.IP, err)
	}

	if r.SNMP != nil {
		if err := s.q.UpsertDeviceSNMPConfig(ctx, db.UpsertDeviceSNMPConfigParams{
			DeviceID:   d.ID,
			Version:    r.SNMP.Version,
			Community:  r.SNMP.Community,
			V3Username: r.SNMP.V3Username,
			V3AuthKey:  r.SNMP.V3AuthKey,
			V3PrivKey:  r.SNMP.V3PrivKey,
			Port:       r.SNMP.Port,
		}); err != nil {
			return d, fmt.Errorf("upserting snmp config for %s: %w", r.IP, err)
		}
	}

	if err := s.q.UpsertDeviceTopology(ctx, db.UpsertDeviceTopologyParams{
		DeviceID:   d.ID,
		Vendor:     vendor,
		Model:      model,
		Hostname:   r.Hostname,
		UptimeSecs: uptimeSecs,
		HealthData: r.HealthData,
	}); err != nil {
		return d, fmt.Errorf("upserting topology for %s: %w", r.IP, err)
	}

	return d, nil
}

// vendorMarkers maps substring heuristics onto canonical vendor names,
// checked in order against the SNMP sysDescr string (§4.E step 1).
var vendorMarkers = []struct {
	substr string
	vendor string
}{
	{"cisco", "Cisco"},
	{"catalyst", "Cisco"},
	{"ios", "Cisco"},
	{"nx-os", "Cisco"},
	{"juniper", "Juniper"},
	{"hp", "HP"},
	{"hewlett", "HP"},
	{"dell", "Dell"},
}

// CoerceVendorModel derives a vendor and model string from a raw SNMP
// description using substring heuristics. The full description string (minus
// the recognized vendor marker) is returned as the model when no cleaner
// signal is available; an empty description yields empty vendor and model.
func CoerceVendorModel(description string) (vendor, model string) {
	if description == "" {
		return "", ""
	}
	lower := strings.ToLower(description)
	for _, m := range vendorMarkers {
		if strings.Contains(lower, m.substr) {
			vendor = m.vendor
			break
		}
	}
	return vendor, strings.TrimSpace(description)
}

// ParseUptime parses strings of the form "<n>d <n>h <n>m <n>s" (any subset
// of the four components, in that order) into total seconds (§4.E step 1).
func ParseUptime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	var total int64
	fields := strings.Fields(s)
	for _, f := range fields {
		if len(f) < 2 {
			return 0, fmt.Errorf("malformed uptime component %q", f)
		}
		unit := f[len(f)-1]
		value, err := strconv.ParseInt(f[:len(f)-1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed uptime component %q: %w", f, err)
		}
		switch unit {
		case 'd':
			total += value * 86400
		case 'h':
			total += value * 3600
		case 'm':
			total += value * 60
		case 's':
			total += value
		default:
			return 0, fmt.Errorf("unrecognized uptime unit in %q", f)
		}
	}
	return total, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
