// Package httpserver serves the forge over HTTP: chi routes for the admin,
// template and event operations, signed-request authentication, health
// endpoints and a separate Prometheus metrics listener.
package httpserver
