// Package testutil provides test helpers for jolt tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertEqualSlices, etc.)
//   - store_helpers.go: database test setup (NewTestStore)
//   - builders.go: test data seeding (SeedAccount, SeedFolder, SeedMessage)
package testutil
