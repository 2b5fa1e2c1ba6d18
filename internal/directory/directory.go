package directory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/database"
	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/logging"
)

// Device is one registered microcontroller.
type Device struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Type     string `json:"type"`
	LastSeen string `json:"last_seen"`
}

// Registry is the device directory: it tracks which devices exist, where
// to reach them and when they last checked in.
//
// Registration is an idempotent upsert keyed by device name; re-registering
// refreshes the address and last_seen so a device that changes IP after a
// DHCP lease renewal is found at its new address.
type Registry struct {
	db  *database.DB
	log *logging.Logger

	// controllerType selects which devices are actuation targets.
	controllerType string
}

// NewRegistry creates a device directory.
//
// controllerType is the device type used by ResolveTargetAddress when
// picking a forward target (e.g. "controller").
func NewRegistry(db *database.DB, controllerType string, log *logging.Logger) *Registry {
	return &Registry{
		db:             db,
		log:            log,
		controllerType: controllerType,
	}
}

// Register adds a device or refreshes an existing registration.
//
// The upsert is keyed by name: a returning device keeps its row but gets a
// new address, type and last_seen. Name, address and type are required.
func (r *Registry) Register(ctx context.Context, name, address, deviceType string) (*Device, error) {
	if name == "" || address == "" || deviceType == "" {
		return nil, ErrInvalidDevice
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (name, address, type, last_seen)
		 VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		 ON CONFLICT(name) DO UPDATE SET
		     address = excluded.address,
		     type = excluded.type,
		     last_seen = excluded.last_seen`,
		name, address, deviceType)
	if err != nil {
		return nil, fmt.Errorf("registering device %q: %w", name, err)
	}

	device, err := r.getByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("reading back device %q: %w", name, err)
	}

	r.log.Info("Device registered",
		"name", device.Name,
		"address", device.Address,
		"type", device.Type,
	)

	return device, nil
}

// List returns all registered devices, most recently seen first.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, address, type, last_seen
		 FROM devices
		 ORDER BY last_seen DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cleanup

	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.Name, &d.Address, &d.Type, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// ResolveTarget returns the most recently seen device of the controller
// type, or ErrNoTarget when none has registered.
func (r *Registry) ResolveTarget(ctx context.Context) (*Device, error) {
	var d Device
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, address, type, last_seen
		 FROM devices
		 WHERE type = ?
		 ORDER BY last_seen DESC, id DESC
		 LIMIT 1`,
		r.controllerType).Scan(&d.ID, &d.Name, &d.Address, &d.Type, &d.LastSeen)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoTarget
		}
		return nil, fmt.Errorf("resolving target device: %w", err)
	}
	return &d, nil
}

// ResolveTargetAddress returns the address of the current forward target.
// It satisfies the forwarder's resolver interface.
func (r *Registry) ResolveTargetAddress(ctx context.Context) (string, error) {
	d, err := r.ResolveTarget(ctx)
	if err != nil {
		return "", err
	}
	return d.Address, nil
}

// getByName fetches a single device row.
func (r *Registry) getByName(ctx context.Context, name string) (*Device, error) {
	var d Device
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, address, type, last_seen FROM devices WHERE name = ?`,
		name).Scan(&d.ID, &d.Name, &d.Address, &d.Type, &d.LastSeen)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
