/*
Package webhook exposes an HTTP surface that turns inbound POSTs into
workflow triggers.

Requests land on <prefix>/<binding>. Each binding names its target
workflow and event, an optional HMAC secret, and a body size limit. The
request pipeline rejects before it triggers: unknown binding (404),
oversized body (413), missing or wrong X-Signature (401), malformed JSON
(400). Only a fully validated request reaches the engine, which answers
202 with the new run id, or 503 when the run queue is full. A rejected
request has no side effects.

Signatures are hex HMAC-SHA256 of the raw body, presented as
"sha256=<hex>" and compared in constant time. The same mux also serves
/healthz with the health dashboard and /metrics for Prometheus.
*/
package webhook
