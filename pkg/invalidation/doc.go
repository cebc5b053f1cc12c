// Package invalidation keeps caches in several processes coherent over
// Google Cloud Pub/Sub. A PublishingStore announces local changes and a
// Listener applies the announcements of other processes.
package invalidation
