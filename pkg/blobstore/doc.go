// Package blobstore provides persistent and decorating implementations of
// blobcache.BlobStore.
//
// Backends: SQLiteStore (local file), RedisStore, FirestoreStore and GCSStore.
// Decorators: CompressedStore (zstd) and EncryptedStore (XChaCha20-Poly1305).
// Open assembles a chain from a Config, usually loaded with LoadConfig.
package blobstore
