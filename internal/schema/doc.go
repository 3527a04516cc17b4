// Package schema defines the item model shared by every layer of sticky.
//
// An Item is a typed card (todo, memo, link, list or date). The same struct
// is stored in the local SQLite cache, serialized into export files, and
// converted to a Row when it crosses the wire to the hosted backend.
//
// Field rules:
//   - id is assigned once and never changes
//   - type is one of the five Type constants and never changes
//   - title is required, at most 200 characters
//   - content at most 20000 characters, href at most 2048 and http(s) only
//   - list at most 100 entries of 500 characters each
//   - tags at most 50 unique entries of 50 characters each
//   - createdAt and updatedAt are epoch milliseconds, updatedAt >= createdAt
//
// Validate reports every violated rule at once. SanitizeItem and SanitizePatch
// trim and normalize user input before validation.
package schema
