/*
Package reset runs world resets: Cleanup, Restore and Rebind across the registered
participants.

Admission is synchronous. A request whose signature is already resetting, or finished
resetting within the duplicate-guard window, resolves immediately without running again;
this absorbs the duplicate "scenes ready" notifications a single transition can produce.
Accepted resets always end with WorldResetCompleted, whether participants failed or not.
A guarded duplicate publishes one too, flagged Guarded, so transitions waiting on its
signature are not held until their timeout.

Participants run in batches of equal ResetOrder, lowest first. A batch runs concurrently
and a failing or panicking participant never stops its siblings. In Strict mode the
aggregated failure of a phase ends the reset after that phase; in Release mode it is logged
and the remaining phases still run.
*/
package reset
