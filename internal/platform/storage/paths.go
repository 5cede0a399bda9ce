package storage

import (
	"fmt"
	"strings"
)

const invoicePrefix = "invoices"

// InvoiceObjectPath returns the object key an order's invoice is archived under.
func InvoiceObjectPath(orderNumber string) (string, error) {
	number, err := validateSegment("orderNumber", orderNumber)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s.txt", invoicePrefix, number), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
