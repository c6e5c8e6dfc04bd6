// Package model defines the ledger entities shared by the store, the
// settlement services and the HTTP layer.
//
// Conventions:
//   - Grit amounts: shopspring decimal, never float64
//   - Payouts and owner shares: whole grit, floored
//   - IDs: UUID strings from pkg/uid
//   - Timestamps: supplied by the caller, stored in UTC
package model
