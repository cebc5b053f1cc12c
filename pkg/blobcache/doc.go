// Package blobcache provides an expiring key/blob cache and the caching
// patterns built on it.
//
// A BlobStore maps string keys to byte blobs with an optional absolute
// expiration, judged against the store's Clock. Entries past their expiration
// read as absent. InMemoryStore is the reference implementation; persistent
// stores live in package blobstore.
//
// A Cache wraps a store with the collaborators from a Config:
//
//   - InsertObject, GetObject and InvalidateObject store typed values through
//     the configured Serializer.
//   - FetchOrDownload and DownloadURL implement read-through caching: a live
//     entry is returned without fetching, otherwise the fetch result is stored
//     before it is returned. Failed fetches never write.
//   - CredentialStore keeps one user/password pair per host under LoginKey(host).
//
// The *For variants take a duration and convert it with ExpiresIn, using the
// store's clock so that tests driving a ManualClock stay deterministic.
package blobcache
