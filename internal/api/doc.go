// Package api serves the FleetWatch REST API and event WebSocket.
//
// All routes live under /api/v1:
//
//	GET    /health               service and dependency status
//	GET    /devices              device summaries (?kind=)
//	POST   /devices              register {"id","name","kind","details"}
//	GET    /devices/stats        registry totals
//	GET    /devices/{id}         full device with log and IP history
//	DELETE /devices/{id}         remove (idempotent, always 204)
//	GET    /devices/{id}/log     accumulated log
//	POST   /devices/{id}/log     append {"fragment"}
//	GET    /devices/{id}/ips     concatenated IPs (?sep=) and observations
//	POST   /devices/{id}/ips     record {"ip"}
//	GET    /audit                register/remove audit trail
//	GET    /ws                   registry event stream
//
// Errors are JSON objects {"status","code","message"}. Registrations and
// removals made here are written to the audit trail asynchronously.
//
// The server follows the same lifecycle as the infrastructure clients:
//
//	srv, err := api.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
package api
