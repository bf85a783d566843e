/*
Package do is the execution kernel's core: the Data Object state machine.

	INITIALIZED --write--> WRITING --setCompleted--> COMPLETED
	INITIALIZED --setCompleted--> COMPLETED
	COMPLETED --expire--> EXPIRED
	(any)     --cancel--> CANCELLED

All other transitions fail. Reads (Open/Read/Close) are valid only in
COMPLETED; writes are valid only in INITIALIZED/WRITING. A container DO
(nil Backend) cannot be written directly — its status mirrors its
children, tracked via AddChild's status-change subscription.
*/
package do
