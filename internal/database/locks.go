package database

import (
	"database/sql"
	"fmt"
	"time"
)

// AcquireCycleLease claims the single-flight lease for a tenant's cycle.
// Exactly one holder can own a tenant's lease at a time; an expired lease
// is stolen rather than waited on, so a crashed runner never wedges its
// tenant. Returns the current holder when the claim loses.
func (d *Database) AcquireCycleLease(tenantID, holder string, ttl time.Duration) (bool, string, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	insert := d.rebind(`
		INSERT INTO cycle_leases (tenant_id, holder, acquired_at, expires_at, heartbeat_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO NOTHING`)
	res, err := d.db.Exec(insert, tenantID, holder, now, expires, now)
	if err != nil {
		return false, "", fmt.Errorf("failed to acquire cycle lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, holder, nil
	}

	// Lease row exists; steal it only if expired.
	steal := d.rebind(`
		UPDATE cycle_leases SET holder = ?, acquired_at = ?, expires_at = ?, heartbeat_at = ?
		WHERE tenant_id = ? AND expires_at < ?`)
	res, err = d.db.Exec(steal, holder, now, expires, now, tenantID, now)
	if err != nil {
		return false, "", fmt.Errorf("failed to steal expired lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, holder, nil
	}

	var current string
	query := d.rebind(`SELECT holder FROM cycle_leases WHERE tenant_id = ?`)
	if err := d.db.QueryRow(query, tenantID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			// Holder released between our attempts; caller retries next tick.
			return false, "", nil
		}
		return false, "", fmt.Errorf("failed to read lease holder: %w", err)
	}
	return false, current, nil
}

// RenewCycleLease extends a held lease. Returns false when the lease was
// lost, which tells the runner to abandon the cycle.
func (d *Database) RenewCycleLease(tenantID, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	query := d.rebind(`
		UPDATE cycle_leases SET expires_at = ?, heartbeat_at = ?
		WHERE tenant_id = ? AND holder = ?`)
	res, err := d.db.Exec(query, now.Add(ttl), now, tenantID, holder)
	if err != nil {
		return false, fmt.Errorf("failed to renew cycle lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseCycleLease drops a held lease. Releasing a lease someone else
// holds is a no-op.
func (d *Database) ReleaseCycleLease(tenantID, holder string) error {
	query := d.rebind(`DELETE FROM cycle_leases WHERE tenant_id = ? AND holder = ?`)
	if _, err := d.db.Exec(query, tenantID, holder); err != nil {
		return fmt.Errorf("failed to release cycle lease: %w", err)
	}
	return nil
}
