// Package trigger evaluates boolean trigger scripts against live
// conversation data inside a capability-restricted sandbox.
//
// Scripts run on a fresh goja (pure Go ECMAScript) runtime per evaluation.
// The runtime exposes only the standard language primitives (Date, Math,
// RegExp, JSON) plus two injected matcher functions, match_keys and
// match_keys_all; no filesystem, network, process or module-loading
// capability is reachable. Every evaluation carries a hard wall-clock
// timeout enforced through the runtime interrupt mechanism, and any
// compile error, thrown value, panic or timeout is captured into an error
// result. Evaluation is fail-closed: errors never surface to callers as
// exceptions, a failing trigger simply does not activate.
package trigger
