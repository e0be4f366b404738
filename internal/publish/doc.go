// Package publish creates draft remediation pull requests on GitHub.
//
// Authentication is the GitHub App flow: a short-lived RS256 app JWT is
// exchanged for an installation token scoped to the target repository.
// Publishing is idempotent per entity: branch names are derived from the
// entity identity and an already-existing branch or pull request counts as
// success.
package publish
