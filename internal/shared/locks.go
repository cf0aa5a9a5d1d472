package shared

import "fmt"

// LedgerIntegrityLockKey is the redis key guarding the ledger verification scan.
func LedgerIntegrityLockKey() string {
	return "inventory:ledger:verify:lock"
}

// IdempotencyCleanupLockKey guards the idempotency purge.
func IdempotencyCleanupLockKey() string {
	return "idempotency:cleanup:lock"
}

// ProductLedgerLockKey builds redis keys for a single product ledger scan.
func ProductLedgerLockKey(productID int64) string {
	return fmt.Sprintf("inventory:ledger:product:%d:lock", productID)
}
