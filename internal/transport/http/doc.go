// Package http serves the loopback API used by the local UI.
//
// Handlers stay thin: they decode and validate the request, call the
// license engine and render either the result or an RFC 7807 problem
// through the shared error handler.
//
//	GET  /api/license/status
//	POST /api/license/activate   {"license_key": "..."}
//	POST /api/license/import     {"code": "..."}
//	POST /api/license/validate
//	GET  /api/license/features/{tag}
//	GET  /healthz
package http
