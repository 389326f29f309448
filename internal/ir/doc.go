// Package ir provides the shared record types for the allocation engine.
//
// This package contains type definitions and canonical encodings only. All
// other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Identifiers (Reviewer, Event, Unit) are opaque strings, NFC normalized
//     at every boundary so that ordering and equality are stable
//   - A unit's fairness state lives in StatusRecord; claims are transient
//   - Exception records are append-only and never read for allocation
//   - All JSON tags use snake_case
package ir
