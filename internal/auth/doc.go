// Package auth issues and verifies the bearer tokens that guard the patchbay API.
//
// It implements a 3-tier role model (viewer → operator → admin) with:
//   - HS256 JWT access tokens carrying the caller's role
//   - Static role-permission mapping (compile-time, no database lookup)
//
// Tokens are minted offline by `patchbay token` with the same secret the
// daemon verifies against; there are no user accounts.
package auth
