// Package ratelimit charges each client IP tokens per request and answers 429
// once its bucket is empty.
//
// Legacy pages cost more than assets: a page request may fetch a fragment
// from the legacy origin and hold the connection until the page reveals.
// State is per process. Distributed floods and bandwidth abuse are left to
// the upstream load balancer and WAF.
package ratelimit
