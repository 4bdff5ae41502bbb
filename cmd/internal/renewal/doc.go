// Package renewal coordinates session renewal for the request layer.
//
// A Coordinator sits between callers and the transport. When a request fails
// with 401 on a non-auth endpoint, the first such caller starts one renewal
// call and every later caller joins that episode's ReplayQueue. When the
// renewal settles, the queue is drained exactly once: on success each caller
// re-sends its own request, on failure each caller receives an *Error and the
// escalation hook runs once for the episode.
//
// State transitions happen under the Coordinator's mutex; nothing outside this
// package can observe or change them except through Snapshot.
package renewal
