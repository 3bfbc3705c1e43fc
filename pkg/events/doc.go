/*
Package events provides an in-process publish/subscribe broker for
orchestration events.

The orchestrator publishes run, service state, volume and init-script
events as it works through a topology; the CLI subscribes to render
progress. Distribution is asynchronous through a buffered channel, and
slow subscribers drop events rather than block the orchestrator.
*/
package events
