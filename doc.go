// Package genclient implements the generation orchestration engine used by
// the Inkdraft editor: a transport client for the text/embedding generation
// backend, an incremental event-stream decoder, response and token-usage
// normalization across provider shapes, a concurrency-limited batch runner,
// and an embedding-similarity selector for ranking candidate rewrites.
//
// The package is deliberately narrow. It speaks exactly one request/response
// shape (generate text or a structured object, embed a batch of texts) over
// one streaming framing; it is not a general RPC client.
//
// All configuration (endpoint, credentials, model names, pricing, retry
// policy) is passed in explicitly. The engine never reads global mutable
// state, which keeps every call reproducible from its inputs.
package genclient
