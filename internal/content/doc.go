// Package content fetches legacy CMS fragments and tracks which content
// revision the site is serving.
//
// The core components are:
//   - [Source]: resolves the current revision and fetches one fragment by slug
//   - [S3Source]: revision from an SSM parameter, fragments from S3, optional
//     KMS signature check
//   - [DirSource]: a local directory for development
//   - [Manager]: the active revision, stored with atomic.Pointer for lock-free reads
//   - [Watcher]: polls the revision and triggers a refresh when it changes
//
// Fragments are capped in size and never touch disk.
package content
