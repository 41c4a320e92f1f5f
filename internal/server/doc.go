// Package server hosts the Fiber HTTP service, the request middleware chain,
// and the target registry that maps the site domain to its origin while other
// hosts are forwarded as-is. It also owns the shared upstream http.Client so
// that precache, cache fills, and passthrough traffic reuse one transport.
// Keep exports narrow and accept explicit dependencies.
package server
