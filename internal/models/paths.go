package models

import "fmt"

// Document paths of the per-account hierarchy. They are used as Redis keys,
// Kafka message keys and log fields.

func AccountPath(account AccountID) string {
	return fmt.Sprintf("account/%s", account)
}

func ProductPath(account AccountID, productID string) string {
	return fmt.Sprintf("account/%s/products/%s", account, productID)
}

func PendingLinePath(account AccountID, lineID string) string {
	return fmt.Sprintf("account/%s/sales/pending/%s", account, lineID)
}

func PendingPath(account AccountID) string {
	return fmt.Sprintf("account/%s/sales/pending", account)
}

func FinalSalePath(account AccountID, saleID string) string {
	return fmt.Sprintf("account/%s/sales/final/%s", account, saleID)
}
