// Package longterm implements the trigger-activated permanent memory
// store. Records are keyed by name, carry a boolean trigger script and a
// prompt, and are activated by evaluating every trigger against the live
// conversation through the sandbox.
package longterm
