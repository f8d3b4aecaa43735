// Package api provides OpenAPI/Swagger documentation for the RelayPool API.
//
// The swagger.json and swagger.yaml artifacts generated from the handler
// annotations live in this directory.
//
// # Endpoints
//
// RelayPool provides a RESTful API for:
//   - Account selection with sticky sessions and pluggable strategies
//   - Rate-limit marking and clearing for upstream accounts
//   - Scheduler statistics
//   - Health probes and Prometheus metrics
//
// # Authentication
//
// Scheduling endpoints authenticate via a service token:
//
//	Authorization: Bearer <service-token>
//
// Operational endpoints accept JWT bearer tokens carrying an operator
// identity; per-operator rate limits apply.
//
// # Base URL
//
// With default configuration the server listens on:
//
//	http://localhost:8080
//
// # Regenerating
//
// After changing handler annotations, regenerate the artifacts with:
//
//	swag init -g cmd/relaypool/main.go -o api --parseDependency --parseInternal
package api
