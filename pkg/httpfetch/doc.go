// Package httpfetch implements blobcache.Fetcher over net/http with a custom
// user agent, retries with exponential backoff and optional OAuth2 bearer
// tokens.
package httpfetch
