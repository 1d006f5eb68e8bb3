// Package http exposes the daemon's small HTTP surface on echo.
//
// The router serves:
//   - GET /feeds/:token: the iCalendar feed of the subscription identified by
//     the token. An optional ".ics" suffix is ignored. Unknown tokens answer 404
//     and revoked or expired subscriptions answer 410.
//   - GET /healthz: dependency checks as {"status","checks"}; 200 when every
//     check passes, 503 otherwise. Results are cached for a short TTL.
package http
