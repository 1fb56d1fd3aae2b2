package shared

import "fmt"

// InvoiceLockKey builds redis keys guarding invoice status changes and notice creation.
func InvoiceLockKey(invoiceID string) string {
	return fmt.Sprintf("lock:invoice:%s:status", invoiceID)
}

// BalanceLockKey builds redis keys guarding balance recomputation per scope.
func BalanceLockKey(scopeID string) string {
	if scopeID == "" {
		scopeID = "global"
	}
	return fmt.Sprintf("lock:balance:%s", scopeID)
}
