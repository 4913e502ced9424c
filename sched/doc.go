// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package sched implements the cyclic transmission scheduler.

A [*Runner] sleeps until successive absolute wake instants spaced by
the cycle time, stamps and sends one frame per cycle and, when
timestamping is enabled, collects the transmit timestamps reported by
the kernel. Its life cycle is the following state machine:

	INIT -> RUNNING -> DRAINING -> DONE
	  \________\__________\______> ERROR

During INIT we validate the [Schedule], compute the first wake
instant, allocate the log buffer, lock memory and run the optional
setup function (e.g., arming timestamping). During RUNNING we send
the frames. During DRAINING we wait for the outstanding timestamps.
During DONE we flush the log buffer. The log buffer is also flushed
when a run fails after INIT.

The per-frame output consists of lines formatted like

	[<scheduled>] seqid <n> txtstamp <hw> swts <sw>

with timestamping enabled, or like

	[<scheduled>] seqid <n>

otherwise. Times use the seconds.nanoseconds format.
*/
package sched
